// Package modelstream defines the bidirectional stream a turn consumes from a
// language model: text deltas and tool-call requests flow out, tool results
// flow back in to resume generation.
package modelstream

import (
	"context"
	"errors"
)

// Kind identifies a model stream event
type Kind int

const (
	KindTextDelta Kind = iota + 1
	KindToolCall
	KindTurnEnd
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindToolCall:
		return "tool_call_request"
	case KindTurnEnd:
		return "turn_end"
	}
	return "unknown"
}

// ToolCallRequest is a model-initiated tool invocation
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Event is one item read from a Stream
type Event struct {
	Kind     Kind
	Delta    string
	ToolCall *ToolCallRequest
}

// ToolResultInjection feeds a tool outcome back so the model can continue.
// Error is set instead of Payload when the call failed.
type ToolResultInjection struct {
	CallID  string
	Name    string
	Payload map[string]any
	Error   string
}

// ToolSpec describes a callable tool to the model
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema object
	Parameters map[string]any
}

// Request opens a new model turn
type Request struct {
	SystemPrompt string
	UserMessage  string
	// CommentaryPrompt is appended after tool results are injected
	CommentaryPrompt string
	Tools            []ToolSpec
}

// Stream is a single model turn. Recv blocks until the next event; after a
// KindToolCall event the caller must Inject exactly one result before calling
// Recv again. Recv returns io.EOF after KindTurnEnd.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Inject(ctx context.Context, result ToolResultInjection) error
	Close() error
}

// Model opens streams against a specific model
type Model interface {
	Name() string
	Open(ctx context.Context, req Request) (Stream, error)
}

// ErrInjectionRequired is returned by Recv while a tool result is outstanding
var ErrInjectionRequired = errors.New("modelstream: tool result must be injected before reading")

// ErrUnexpectedInjection is returned by Inject when no tool call is outstanding
var ErrUnexpectedInjection = errors.New("modelstream: no tool call awaiting a result")
