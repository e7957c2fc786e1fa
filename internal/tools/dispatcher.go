package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/weather-gateway/internal/observability"
)

// DefaultTimeout bounds a single tool execution
const DefaultTimeout = 10 * time.Second

type handler func(ctx context.Context, args map[string]any) (any, error)

// Result is the outcome of one dispatched call. Err is nil on success.
type Result struct {
	Payload  map[string]any
	Duration time.Duration
	Err      error
}

// OK reports whether the call succeeded
func (r Result) OK() bool { return r.Err == nil }

// Dispatcher executes named tool calls against the weather capability
type Dispatcher struct {
	handlers map[string]handler
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTimeout overrides the per-call timeout
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher registers the weather tools backed by provider
func NewDispatcher(provider WeatherProvider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: map[string]handler{
			CurrentWeatherTool: currentWeatherHandler(provider),
			ForecastTool:       forecastHandler(provider),
		},
		timeout: DefaultTimeout,
		logger:  observability.GetLogger().With().Str("component", "tools").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Names lists registered tools in sorted order
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute validates and runs one tool call. Argument errors are returned
// before the provider is contacted. If ctx is cancelled the returned error
// is ctx.Err() rather than a ToolExecutionError.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()

	h, ok := d.handlers[name]
	if !ok {
		return d.finish(name, start, nil, &UnknownToolError{Name: name})
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := h(callCtx, args)
		done <- outcome{v, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		var invalid *InvalidArgumentError
		switch {
		case errors.As(out.err, &invalid):
		case ctx.Err() != nil:
			// caller went away; not a tool failure
			return Result{Duration: time.Since(start), Err: ctx.Err()}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			out.err = &ToolExecutionError{Tool: name, Timeout: true, Err: out.err}
		default:
			out.err = &ToolExecutionError{Tool: name, Err: out.err}
		}
		return d.finish(name, start, nil, out.err)
	}

	payload, err := normalize(out.value)
	if err != nil {
		return d.finish(name, start, nil, &ToolExecutionError{Tool: name, Err: err})
	}
	return d.finish(name, start, payload, nil)
}

func (d *Dispatcher) finish(name string, start time.Time, payload map[string]any, err error) Result {
	elapsed := time.Since(start)
	observability.RecordToolCall(name, statusLabel(err), elapsed)

	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("function", name).
			Dur("duration", elapsed).
			Msg("Tool call failed")
	} else {
		d.logger.Debug().
			Str("function", name).
			Dur("duration", elapsed).
			Msg("Tool call succeeded")
	}

	return Result{Payload: payload, Duration: elapsed, Err: err}
}

// normalize turns a provider value into a plain JSON-shaped mapping
func normalize(v any) (map[string]any, error) {
	if v == nil {
		return nil, errors.New("provider returned no data")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if out == nil {
		return nil, errors.New("provider returned no data")
	}
	return out, nil
}
