// Package orchestrator runs chat turns: it drives a model stream, executes
// the tool calls the model asks for, emits client events in order and
// persists the finished exchange.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/weather-gateway/internal/events"
	"github.com/lexiqai/weather-gateway/internal/modelstream"
	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/session"
	"github.com/lexiqai/weather-gateway/internal/store"
	"github.com/lexiqai/weather-gateway/internal/tools"
)

// ErrEmptyMessage is returned for a turn without user text
var ErrEmptyMessage = errors.New("message must not be empty")

// Store is the persistence a turn needs. SaveTurn must store all of a turn
// or none of it.
type Store interface {
	SaveTurn(ctx context.Context, rec *store.TurnRecord) error
}

// ToolExecutor runs a named tool call
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
}

// TokenCounter estimates the tokens of a response
type TokenCounter interface {
	Count(text string) int
}

// Orchestrator runs turns against a shared session manager
type Orchestrator struct {
	sessions         *session.Manager
	tools            ToolExecutor
	store            Store
	tokens           TokenCounter
	toolSpecs        []modelstream.ToolSpec
	systemPrompt     string
	commentaryPrompt string
	logger           zerolog.Logger
	now              func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPrompts overrides the system and commentary prompts. Empty values keep the defaults.
func WithPrompts(system, commentary string) Option {
	return func(o *Orchestrator) {
		if system != "" {
			o.systemPrompt = system
		}
		if commentary != "" {
			o.commentaryPrompt = commentary
		}
	}
}

// WithToolSpecs replaces the tools advertised to the model
func WithToolSpecs(specs []modelstream.ToolSpec) Option {
	return func(o *Orchestrator) {
		o.toolSpecs = specs
	}
}

// WithTokenCounter sets the counter used for tokens_used
func WithTokenCounter(c TokenCounter) Option {
	return func(o *Orchestrator) {
		o.tokens = c
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator
func New(sessions *session.Manager, executor ToolExecutor, s Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:         sessions,
		tools:            executor,
		store:            s,
		toolSpecs:        tools.Definitions(),
		systemPrompt:     DefaultSystemPrompt,
		commentaryPrompt: DefaultCommentaryPrompt,
		logger:           observability.GetLogger().With().Str("component", "orchestrator").Logger(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TurnRequest is one user message for a session
type TurnRequest struct {
	SessionID     string
	Message       string
	Model         modelstream.Model
	UserIP        string
	UserAgent     string
	CorrelationID string
}

// Outcome summarizes a finished turn. Err is nil for complete turns and
// carries the internal cause otherwise; it is never sent to clients.
type Outcome struct {
	Status         session.Status
	ConversationID string
	MessageID      string
	ToolCalls      int
	Duration       time.Duration
	Err            error
}

// Cancelled reports whether the turn ended because its context was cancelled
func (o Outcome) Cancelled() bool {
	return errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded)
}

// Turn is a running turn. Events is closed after the terminal event, or
// without one when the context is cancelled. Consumers must drain Events or
// cancel the context.
type Turn struct {
	events  chan events.Event
	done    chan struct{}
	outcome Outcome
}

// Events returns the ordered client events of the turn
func (t *Turn) Events() <-chan events.Event {
	return t.events
}

// Wait blocks until the turn ends and its session is released
func (t *Turn) Wait() Outcome {
	<-t.done
	return t.outcome
}

// RunTurn validates the request, claims the session and starts the turn.
// A session with a turn in flight yields *session.ConflictError and nothing
// is started.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.Model == nil {
		return nil, errors.New("model is required")
	}

	st, err := o.sessions.Acquire(req.SessionID)
	if err != nil {
		var conflict *session.ConflictError
		if errors.As(err, &conflict) {
			observability.RecordConflict(req.Model.Name())
			o.logger.Warn().Str("session_id", req.SessionID).Msg("Turn rejected, session busy")
		}
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}

	t := &Turn{
		events: make(chan events.Event),
		done:   make(chan struct{}),
	}
	r := &turnRun{
		o:       o,
		ctx:     ctx,
		req:     req,
		state:   st,
		out:     t.events,
		metrics: observability.NewTurnMetrics(req.Model.Name()),
		logger: o.logger.With().
			Str("correlation_id", correlationID).
			Str("session_id", req.SessionID).
			Str("model", req.Model.Name()).
			Logger(),
	}

	go func() {
		defer close(t.done)
		defer close(t.events)
		defer o.sessions.Release(req.SessionID)
		t.outcome = r.run()
	}()

	return t, nil
}

// turnRun is the goroutine-owned state of one turn
type turnRun struct {
	o       *Orchestrator
	ctx     context.Context
	req     TurnRequest
	state   *session.ConversationState
	out     chan<- events.Event
	metrics *observability.Metrics
	logger  zerolog.Logger

	inText     bool
	commentary strings.Builder
	payloads   []map[string]any
}

func (r *turnRun) run() Outcome {
	r.metrics.RecordTurnStart()
	r.logger.Info().Msg("Turn started")

	stream, err := r.req.Model.Open(r.ctx, modelstream.Request{
		SystemPrompt:     r.o.systemPrompt,
		UserMessage:      r.req.Message,
		CommentaryPrompt: r.o.commentaryPrompt,
		Tools:            r.o.toolSpecs,
	})
	if err != nil {
		return r.fail(fmt.Errorf("failed to open model stream: %w", err), msgModelUnavailable, "model")
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv(r.ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(fmt.Errorf("model stream failed: %w", err), msgModelUnavailable, "model")
		}

		switch ev.Kind {
		case modelstream.KindTextDelta:
			if err := r.text(ev.Delta); err != nil {
				return r.fail(err, msgProtocol, "protocol")
			}
		case modelstream.KindToolCall:
			if ev.ToolCall == nil {
				return r.fail(errors.New("tool call event without a call"), msgProtocol, "protocol")
			}
			if out, done := r.toolCall(stream, ev.ToolCall); done {
				return out
			}
		case modelstream.KindTurnEnd:
			return r.finalize()
		default:
			return r.fail(fmt.Errorf("unknown model event kind %s", ev.Kind), msgProtocol, "protocol")
		}
	}
	return r.finalize()
}

func (r *turnRun) text(delta string) error {
	if delta == "" {
		return nil
	}
	if err := r.state.AppendText(delta); err != nil {
		return err
	}
	if !r.inText {
		r.inText = true
		r.emit(events.TextStart())
	}
	if len(r.payloads) > 0 {
		r.commentary.WriteString(delta)
	}
	r.metrics.RecordTextDelta()
	r.emit(events.TextDelta(delta))
	return nil
}

// toolCall executes one requested call and injects its outcome. done is
// true when the turn ended while handling it.
func (r *turnRun) toolCall(stream modelstream.Stream, call *modelstream.ToolCallRequest) (Outcome, bool) {
	if err := r.state.BeginToolCall(call.ID, call.Name, call.Arguments); err != nil {
		return r.fail(err, msgProtocol, "protocol"), true
	}
	r.inText = false
	r.emit(events.ToolCall(call.ID, call.Name, call.Arguments))

	res := r.o.tools.Execute(r.ctx, call.Name, call.Arguments)
	if r.ctx.Err() != nil {
		return r.fail(r.ctx.Err(), "", "cancelled"), true
	}
	ms := res.Duration.Milliseconds()

	injection := modelstream.ToolResultInjection{CallID: call.ID, Name: call.Name}
	if res.OK() {
		if _, err := r.state.ResolveToolCall(res.Payload, res.Duration, ""); err != nil {
			return r.fail(err, msgProtocol, "protocol"), true
		}
		r.payloads = append(r.payloads, res.Payload)
		r.emit(events.ToolResult(call.ID, call.Name, call.Arguments, res.Payload, ms))
		injection.Payload = res.Payload
	} else {
		safe := tools.SafeMessage(res.Err)
		if _, err := r.state.ResolveToolCall(nil, res.Duration, res.Err.Error()); err != nil {
			return r.fail(err, msgProtocol, "protocol"), true
		}
		r.emit(events.ToolError(call.ID, call.Name, safe, ms))
		injection.Error = safe
	}

	if err := stream.Inject(r.ctx, injection); err != nil {
		return r.fail(fmt.Errorf("failed to inject tool result: %w", err), msgModelUnavailable, "model"), true
	}
	return Outcome{}, false
}

func (r *turnRun) finalize() Outcome {
	if err := r.state.BeginFinalize(); err != nil {
		return r.fail(err, msgProtocol, "protocol")
	}

	if restated := restatedValues(r.commentary.String(), r.payloads); len(restated) > 0 {
		r.metrics.RecordCommentaryViolation()
		r.logger.Warn().Strs("values", restated).Msg("Commentary restated tool result values")
	}

	convID, msgID, err := r.persist()
	if err != nil {
		return r.fail(err, msgPersistence, "persistence")
	}
	if err := r.state.SetConversationID(convID); err != nil {
		return r.fail(err, msgPersistence, "persistence")
	}

	elapsed := r.o.now().Sub(r.state.StartedAt())
	if !r.emit(events.Done(elapsed.Milliseconds(), r.req.Model.Name(), convID, msgID)) {
		// exchange is already persisted
		r.logger.Debug().Msg("Client gone before done event")
	}
	if err := r.state.Complete(); err != nil {
		return r.fail(err, msgProtocol, "protocol")
	}

	r.metrics.RecordTurnEnd("complete")
	r.logger.Info().
		Str("conversation_id", convID).
		Str("message_id", msgID).
		Int("tool_calls", len(r.state.ToolCalls())).
		Dur("duration", elapsed).
		Msg("Turn completed")

	return Outcome{
		Status:         session.StatusComplete,
		ConversationID: convID,
		MessageID:      msgID,
		ToolCalls:      len(r.state.ToolCalls()),
		Duration:       elapsed,
	}
}

// fail moves the turn to failed and, unless the client is gone, emits a
// single error event with the safe message.
func (r *turnRun) fail(cause error, safe, component string) Outcome {
	_ = r.state.Fail()
	elapsed := r.o.now().Sub(r.state.StartedAt())
	out := Outcome{
		Status:    session.StatusFailed,
		ToolCalls: len(r.state.ToolCalls()),
		Duration:  elapsed,
		Err:       cause,
	}

	if r.ctx.Err() != nil {
		if out.Err == nil || !out.Cancelled() {
			out.Err = fmt.Errorf("%w: %v", r.ctx.Err(), cause)
		}
		r.metrics.RecordTurnEnd("cancelled")
		r.logger.Info().Dur("duration", elapsed).Msg("Turn cancelled")
		return out
	}

	r.metrics.RecordError(component+"_error", "orchestrator")
	r.metrics.RecordTurnEnd("failed")
	r.logger.Error().Err(cause).Str("component", component).Dur("duration", elapsed).Msg("Turn failed")
	r.emit(events.Failure(safe))
	return out
}

// emit delivers an event unless the context is done
func (r *turnRun) emit(ev events.Event) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.out <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}
