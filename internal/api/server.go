// Package api exposes chat turns, evaluations and dashboard data over HTTP
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/weather-gateway/internal/evaluation"
	"github.com/lexiqai/weather-gateway/internal/events"
	"github.com/lexiqai/weather-gateway/internal/modelstream"
	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/orchestrator"
	"github.com/lexiqai/weather-gateway/internal/store"
)

// TurnRunner starts chat turns
type TurnRunner interface {
	RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.Turn, error)
}

// ModelRegistry resolves client model names against the allow-list
type ModelRegistry interface {
	Lookup(name string) (modelstream.Model, error)
	Names() []string
}

// Evaluator scores stored assistant messages
type Evaluator interface {
	EvaluateMessage(ctx context.Context, messageID string) (*store.Evaluation, error)
	BatchEvaluateUnevaluated(ctx context.Context, limit int) (evaluation.BatchResult, error)
	Summary(ctx context.Context, days int) (*evaluation.Summary, error)
}

// Store is the read side used by the dashboard endpoints
type Store interface {
	Stats(ctx context.Context) (*store.Stats, error)
	ListConversations(ctx context.Context, limit int) ([]store.ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	ListToolCalls(ctx context.Context, messageID string) ([]store.ToolCall, error)
	GetEvaluationByMessage(ctx context.Context, messageID string) (*store.Evaluation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Dependencies are the components the HTTP surface fronts
type Dependencies struct {
	Turns     TurnRunner
	Models    ModelRegistry
	Evaluator Evaluator
	Store     Store
	Health    *observability.HealthChecker
}

// Server is the gin HTTP surface
type Server struct {
	deps           Dependencies
	router         *gin.Engine
	resultEvent    events.Type
	metricsEnabled bool
	batchLimit     int
	logger         zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithResultEvent selects the wire name of successful tool results
func WithResultEvent(t events.Type) Option {
	return func(s *Server) {
		s.resultEvent = t
	}
}

// WithMetrics exposes /metrics
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.metricsEnabled = enabled
	}
}

// WithBatchLimit sets the default size of on-demand batch evaluations
func WithBatchLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithLogger sets the request logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer builds the router
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		resultEvent: events.TypeToolResult,
		batchLimit:  evaluation.DefaultBatchLimit,
		logger:      observability.GetLogger().With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.Health == nil {
		s.deps.Health = observability.NewHealthChecker(0)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.correlation(), s.requestLogger(), cors())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	if s.metricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/ws/chat", s.chatSocket)

	api := r.Group("/api")
	api.GET("/health", s.apiHealth)
	api.POST("/chat/stream", s.chatStream)

	api.GET("/stats", s.stats)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id", s.getConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)

	api.POST("/evaluations/messages/:id", s.evaluateMessage)
	api.POST("/evaluations/batch", s.evaluateBatch)
	api.GET("/evaluations/summary", s.evaluationSummary)

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Health.Liveness())
}

func (s *Server) ready(c *gin.Context) {
	status, ok := s.deps.Health.Readiness(c.Request.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) apiHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"models_available": s.deps.Models.Names(),
	})
}

const correlationHeader = "X-Correlation-ID"

// correlation tags every request with an id, reusing the caller's if sent
func (s *Server) correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = observability.NewCorrelationID()
		}
		c.Header(correlationHeader, id)
		c.Request = c.Request.WithContext(observability.ContextWithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Warn()
		}
		evt.Str("correlation_id", observability.CorrelationIDFromContext(c.Request.Context())).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Session-ID, X-Correlation-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Expose-Headers", "X-Session-ID, X-Correlation-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// errorJSON writes the error body clients expect: {"error": "..."}
func errorJSON(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}
