package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("store: duplicate")
)

// Role of a message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups the messages of one client session
type Conversation struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	UserIP       string    `json:"user_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ConversationSummary is a conversation with aggregate counts for listings
type ConversationSummary struct {
	Conversation
	TotalMessages         int     `json:"total_messages"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// Message is one user or assistant utterance
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ModelName      string    `json:"model_name,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
	TokensUsed     int       `json:"tokens_used,omitempty"`
	ErrorOccurred  bool      `json:"error_occurred"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToolCall is a tool invocation made while producing an assistant message.
// Seq orders calls within their message, starting at 1.
type ToolCall struct {
	ID              string         `json:"id"`
	MessageID       string         `json:"message_id"`
	Seq             int            `json:"seq"`
	FunctionName    string         `json:"function_name"`
	Arguments       map[string]any `json:"arguments"`
	Result          map[string]any `json:"result,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Scores are the five rubric dimensions, each in [1,10]
type Scores struct {
	Helpfulness    int `json:"helpfulness"`
	Correctness    int `json:"correctness"`
	Politeness     int `json:"politeness"`
	Accuracy       int `json:"accuracy"`
	ScopeAdherence int `json:"scope_adherence"`
}

// Explanations hold the evaluator's rationale per dimension
type Explanations struct {
	Helpfulness    string `json:"helpfulness"`
	Correctness    string `json:"correctness"`
	Politeness     string `json:"politeness"`
	Accuracy       string `json:"accuracy"`
	ScopeAdherence string `json:"scope_adherence"`
}

// Evaluation is the rubric score of one assistant message
type Evaluation struct {
	ID               string       `json:"id"`
	MessageID        string       `json:"message_id"`
	EvaluatorModel   string       `json:"evaluator_model"`
	Scores           Scores       `json:"scores"`
	Explanations     Explanations `json:"explanations"`
	OverallScore     float64      `json:"overall_score"`
	OverallFeedback  string       `json:"overall_feedback"`
	EvaluationTimeMs int64        `json:"evaluation_time_ms"`
	CreatedAt        time.Time    `json:"created_at"`
}

// EvaluationFailure records an evaluation attempt that produced no score
type EvaluationFailure struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	EvaluatorModel string    `json:"evaluator_model"`
	Reason         string    `json:"reason"`
	RawResponse    string    `json:"raw_response,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModelEvaluation pairs an evaluation with the model that produced the message
type ModelEvaluation struct {
	Evaluation
	ModelName string `json:"model_name"`
}

// Stats are dashboard aggregates over the whole store
type Stats struct {
	TotalConversations int     `json:"totalConversations"`
	TotalMessages      int     `json:"totalMessages"`
	UserMessages       int     `json:"userMessages"`
	AssistantMessages  int     `json:"assistantMessages"`
	TotalEvaluations   int     `json:"totalEvaluations"`
	FailedEvaluations  int     `json:"failedEvaluations"`
	AvgResponseTimeMs  float64 `json:"avgResponseTime"`
	HelpfulnessScore   float64 `json:"helpfulnessScore"`
	CorrectnessScore   float64 `json:"correctnessScore"`
	PolitenessScore    float64 `json:"politenessScore"`
	AccuracyScore      float64 `json:"accuracyScore"`
	ScopeScore         float64 `json:"scopeScore"`
	OverallScore       float64 `json:"overallScore"`
	ToolSuccessRate    float64 `json:"toolSuccessRate"`
	EvaluationCoverage float64 `json:"evaluationCoverage"`
}

// Store is the persistence boundary. Every call is atomic and durable
// before it returns.
type Store interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationBySession(ctx context.Context, sessionID string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	PrecedingUserMessage(ctx context.Context, m *Message) (*Message, error)

	AppendToolCall(ctx context.Context, tc *ToolCall) error
	ListToolCalls(ctx context.Context, messageID string) ([]ToolCall, error)
	SaveTurn(ctx context.Context, rec *TurnRecord) error

	SaveEvaluation(ctx context.Context, e *Evaluation) error
	GetEvaluationByMessage(ctx context.Context, messageID string) (*Evaluation, error)
	ListUnevaluatedMessages(ctx context.Context, limit, maxFailures int) ([]Message, error)
	RecordEvaluationFailure(ctx context.Context, f *EvaluationFailure) error
	CountEvaluationFailures(ctx context.Context, messageID string) (int, error)
	EvaluationsSince(ctx context.Context, since time.Time) ([]ModelEvaluation, error)

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
