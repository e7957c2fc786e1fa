// Package evaluation scores completed assistant messages against a rubric
// using an evaluator model. It runs on demand or on a schedule and never
// inline with a live turn.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/store"
)

// Completer is an evaluator model
type Completer interface {
	Model() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Store is the persistence the pipeline needs
type Store interface {
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	PrecedingUserMessage(ctx context.Context, m *store.Message) (*store.Message, error)
	ListToolCalls(ctx context.Context, messageID string) ([]store.ToolCall, error)
	GetEvaluationByMessage(ctx context.Context, messageID string) (*store.Evaluation, error)
	SaveEvaluation(ctx context.Context, e *store.Evaluation) error
	ListUnevaluatedMessages(ctx context.Context, limit, maxFailures int) ([]store.Message, error)
	RecordEvaluationFailure(ctx context.Context, f *store.EvaluationFailure) error
	EvaluationsSince(ctx context.Context, since time.Time) ([]store.ModelEvaluation, error)
}

const (
	DefaultBatchLimit  = 50
	DefaultConcurrency = 2
	DefaultMaxFailures = 3
)

// Pipeline evaluates assistant messages
type Pipeline struct {
	store       Store
	evaluator   Completer
	rubric      *Rubric
	concurrency int
	maxFailures int
	logger      zerolog.Logger
	now         func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRubric replaces the built-in rubric
func WithRubric(r *Rubric) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.rubric = r
		}
	}
}

// WithConcurrency bounds how many messages a batch evaluates at once
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMaxFailures skips messages with this many recorded failures; 0 never skips
func WithMaxFailures(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxFailures = n
		}
	}
}

// WithLogger sets the pipeline logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates an evaluation pipeline
func NewPipeline(s Store, evaluator Completer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       s,
		evaluator:   evaluator,
		rubric:      DefaultRubric(),
		concurrency: DefaultConcurrency,
		maxFailures: DefaultMaxFailures,
		logger:      observability.GetLogger().With().Str("component", "evaluation").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EvaluateMessage scores one assistant message and stores the result. A
// message that cannot be scored yields a *NotEvaluableError; an evaluator
// reply that is unparseable after one stricter retry is recorded as a failed
// attempt and yields ErrUnparseable.
func (p *Pipeline) EvaluateMessage(ctx context.Context, messageID string) (*store.Evaluation, error) {
	start := p.now()
	logger := p.logger.With().Str("message_id", messageID).Logger()

	msg, err := p.evaluable(ctx, messageID)
	if err != nil {
		return nil, err
	}

	input := promptInput{UserMessage: noUserMessage, Message: msg}
	if prev, err := p.store.PrecedingUserMessage(ctx, msg); err == nil {
		input.UserMessage = prev.Content
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user message: %w", err)
	}
	if input.ToolCalls, err = p.store.ListToolCalls(ctx, messageID); err != nil {
		return nil, fmt.Errorf("failed to load tool calls: %w", err)
	}

	prompt := p.rubric.buildPrompt(input)
	v, raw, err := p.ask(ctx, prompt)
	if err != nil {
		if ctx.Err() == nil {
			p.recordFailure(ctx, messageID, err, raw)
		}
		observability.RecordEvaluation("failed", time.Since(start))
		logger.Warn().Err(err).Msg("Evaluation failed")
		return nil, err
	}

	eval := &store.Evaluation{
		MessageID:        messageID,
		EvaluatorModel:   p.evaluator.Model(),
		Scores:           v.Scores,
		Explanations:     v.Explanations,
		OverallScore:     p.rubric.OverallScore(v.Scores),
		OverallFeedback:  v.Feedback,
		EvaluationTimeMs: p.now().Sub(start).Milliseconds(),
	}
	if err := p.store.SaveEvaluation(ctx, eval); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// evaluated concurrently by another worker
			existing, getErr := p.store.GetEvaluationByMessage(ctx, messageID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing evaluation: %w", getErr)
			}
			return nil, &NotEvaluableError{MessageID: messageID, Reason: ReasonAlreadyEvaluated, Existing: existing}
		}
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}

	observability.RecordEvaluation("succeeded", time.Since(start))
	logger.Info().
		Float64("overall_score", eval.OverallScore).
		Int64("evaluation_time_ms", eval.EvaluationTimeMs).
		Msg("Message evaluated")
	return eval, nil
}

func (p *Pipeline) evaluable(ctx context.Context, messageID string) (*store.Message, error) {
	msg, err := p.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotEvaluableError{MessageID: messageID, Reason: ReasonNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg.Role != store.RoleAssistant {
		return nil, &NotEvaluableError{MessageID: messageID, Reason: ReasonNotAssistant}
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, &NotEvaluableError{MessageID: messageID, Reason: ReasonEmptyContent}
	}

	existing, err := p.store.GetEvaluationByMessage(ctx, messageID)
	switch {
	case err == nil:
		return nil, &NotEvaluableError{MessageID: messageID, Reason: ReasonAlreadyEvaluated, Existing: existing}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to check existing evaluation: %w", err)
	}
	return msg, nil
}

// ask queries the evaluator, retrying once with a stricter instruction when
// the reply does not parse. The last raw reply is returned for the record.
func (p *Pipeline) ask(ctx context.Context, prompt string) (*verdict, string, error) {
	raw, err := p.evaluator.Complete(ctx, p.rubric.SystemPrompt, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("evaluator request failed: %w", err)
	}
	v, err := parseVerdict(raw)
	if err == nil {
		return v, raw, nil
	}

	p.logger.Debug().Err(err).Msg("Evaluator reply unparseable, retrying with strict instruction")
	raw, err = p.evaluator.Complete(ctx, p.rubric.SystemPrompt, prompt+"\n\n"+p.rubric.StrictInstruction)
	if err != nil {
		return nil, "", fmt.Errorf("evaluator request failed: %w", err)
	}
	v, err = parseVerdict(raw)
	if err != nil {
		return nil, raw, err
	}
	return v, raw, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, messageID string, cause error, raw string) {
	err := p.store.RecordEvaluationFailure(ctx, &store.EvaluationFailure{
		MessageID:      messageID,
		EvaluatorModel: p.evaluator.Model(),
		Reason:         cause.Error(),
		RawResponse:    raw,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("message_id", messageID).Msg("Failed to record evaluation failure")
	}
}

// BatchResult counts the outcome of a batch run
type BatchResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped messages were evaluated by someone else mid-batch
	Skipped int `json:"skipped"`
}

// BatchEvaluateUnevaluated evaluates up to limit unevaluated assistant
// messages. Individual failures are counted, never returned.
func (p *Pipeline) BatchEvaluateUnevaluated(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	msgs, err := p.store.ListUnevaluatedMessages(ctx, limit, p.maxFailures)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to list unevaluated messages: %w", err)
	}
	if len(msgs) == 0 {
		return BatchResult{}, nil
	}

	batchID := observability.NewCorrelationID()
	logger := p.logger.With().Str("batch_id", batchID).Logger()
	logger.Info().Int("messages", len(msgs)).Msg("Starting batch evaluation")

	var succeeded, failed, skipped int64
	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, m := range msgs {
		id := m.ID
		workers.Go(func() {
			if ctx.Err() != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			_, err := p.EvaluateMessage(ctx, id)
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case IsAlreadyEvaluated(err):
				atomic.AddInt64(&skipped, 1)
			default:
				atomic.AddInt64(&failed, 1)
				logger.Warn().Err(err).Str("message_id", id).Msg("Message evaluation failed")
			}
		})
	}
	workers.Wait()

	result := BatchResult{
		Attempted: len(msgs),
		Succeeded: int(succeeded),
		Failed:    int(failed),
		Skipped:   int(skipped),
	}
	logger.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Batch evaluation completed")
	return result, nil
}

// Run evaluates a batch every interval until ctx is done
func (p *Pipeline) Run(ctx context.Context, interval time.Duration, limit int) error {
	if interval <= 0 {
		return fmt.Errorf("evaluation interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", interval).Int("limit", limit).Msg("Evaluation scheduler started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Evaluation scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := p.BatchEvaluateUnevaluated(ctx, limit); err != nil && ctx.Err() == nil {
				observability.RecordError("batch_failed", "evaluation")
				p.logger.Error().Err(err).Msg("Scheduled batch evaluation failed")
			}
		}
	}
}
