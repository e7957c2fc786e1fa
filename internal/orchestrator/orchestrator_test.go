package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/weather-gateway/internal/events"
	"github.com/lexiqai/weather-gateway/internal/modelstream"
	"github.com/lexiqai/weather-gateway/internal/session"
	"github.com/lexiqai/weather-gateway/internal/store"
	"github.com/lexiqai/weather-gateway/internal/tools"
)

type fakeStream struct {
	script   []modelstream.Event
	pos      int
	awaiting bool
	// after the script: block until cancelled, fail with err, or end with io.EOF
	block    bool
	err      error
	injected []modelstream.ToolResultInjection
	closed   bool
}

func (s *fakeStream) Recv(ctx context.Context) (modelstream.Event, error) {
	if err := ctx.Err(); err != nil {
		return modelstream.Event{}, err
	}
	if s.awaiting {
		return modelstream.Event{}, modelstream.ErrInjectionRequired
	}
	if s.pos >= len(s.script) {
		switch {
		case s.block:
			<-ctx.Done()
			return modelstream.Event{}, ctx.Err()
		case s.err != nil:
			return modelstream.Event{}, s.err
		}
		return modelstream.Event{}, io.EOF
	}
	ev := s.script[s.pos]
	s.pos++
	if ev.Kind == modelstream.KindToolCall {
		s.awaiting = true
	}
	return ev, nil
}

func (s *fakeStream) Inject(_ context.Context, result modelstream.ToolResultInjection) error {
	if !s.awaiting {
		return modelstream.ErrUnexpectedInjection
	}
	s.awaiting = false
	s.injected = append(s.injected, result)
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeModel struct {
	stream  *fakeStream
	openErr error
	req     modelstream.Request
}

func (m *fakeModel) Name() string { return "gpt-5-nano" }

func (m *fakeModel) Open(_ context.Context, req modelstream.Request) (modelstream.Stream, error) {
	m.req = req
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.stream, nil
}

type fakeWeather struct{}

func (fakeWeather) CurrentWeather(_ context.Context, city, units string) (*tools.CurrentConditions, error) {
	if city != "Paris" {
		return nil, tools.ErrLocationNotFound
	}
	return &tools.CurrentConditions{
		City:        "Paris",
		Country:     "FR",
		Temperature: 18,
		FeelsLike:   17.5,
		Description: "light rain",
		Humidity:    72,
		WindSpeed:   4.1,
		Units:       units,
	}, nil
}

func (fakeWeather) Forecast(_ context.Context, city string, days int) (*tools.Forecast, error) {
	return &tools.Forecast{City: city, DaysRequested: days, DaysReturned: days}, nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// blockingWeather never answers; it waits for the call context to end
type blockingWeather struct {
	started chan struct{}
}

func (w blockingWeather) wait(ctx context.Context) error {
	select {
	case w.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w blockingWeather) CurrentWeather(ctx context.Context, _, _ string) (*tools.CurrentConditions, error) {
	return nil, w.wait(ctx)
}

func (w blockingWeather) Forecast(ctx context.Context, _ string, _ int) (*tools.Forecast, error) {
	return nil, w.wait(ctx)
}

type testEnv struct {
	orch     *Orchestrator
	sessions *session.Manager
	store    *store.SQLiteStore
}

type envConfig struct {
	provider    tools.WeatherProvider
	toolTimeout time.Duration
	logger      zerolog.Logger
	wrap        func(*store.SQLiteStore) Store
}

type envOption func(*envConfig)

func withProvider(p tools.WeatherProvider, timeout time.Duration) envOption {
	return func(c *envConfig) {
		c.provider = p
		c.toolTimeout = timeout
	}
}

func withTestLogger(l zerolog.Logger) envOption {
	return func(c *envConfig) { c.logger = l }
}

func withStore(wrap func(*store.SQLiteStore) Store) envOption {
	return func(c *envConfig) { c.wrap = wrap }
}

func setupOrchestrator(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{provider: fakeWeather{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var persistence Store = s
	if cfg.wrap != nil {
		persistence = cfg.wrap(s)
	}

	sessions := session.NewManager()
	dispatcher := tools.NewDispatcher(cfg.provider,
		tools.WithLogger(zerolog.Nop()),
		tools.WithTimeout(cfg.toolTimeout),
	)
	orch := New(sessions, dispatcher, persistence,
		WithTokenCounter(wordCounter{}),
		WithLogger(cfg.logger),
	)
	return &testEnv{orch: orch, sessions: sessions, store: s}
}

func textDelta(d string) modelstream.Event {
	return modelstream.Event{Kind: modelstream.KindTextDelta, Delta: d}
}

func toolCall(id, name string, args map[string]any) modelstream.Event {
	return modelstream.Event{Kind: modelstream.KindToolCall, ToolCall: &modelstream.ToolCallRequest{ID: id, Name: name, Arguments: args}}
}

func turnEnd() modelstream.Event {
	return modelstream.Event{Kind: modelstream.KindTurnEnd}
}

func collect(t *testing.T, turn *Turn) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-turn.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("turn did not finish")
		}
	}
}

func types(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRunTurn_TextOnly(t *testing.T) {
	env := setupOrchestrator(t)
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		textDelta("I only help"), textDelta(" with weather."), turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{
		SessionID: "s1", Message: "  what is 2+2?  ", Model: model, UserIP: "10.0.0.1",
	})
	require.NoError(t, err)

	evs := collect(t, turn)
	out := turn.Wait()

	assert.Equal(t, []events.Type{events.TypeTextStart, events.TypeTextDelta, events.TypeTextDelta, events.TypeDone}, types(evs))
	done := evs[len(evs)-1]
	assert.Equal(t, "gpt-5-nano", done.Model)
	assert.Equal(t, out.ConversationID, done.ConversationID)
	assert.Equal(t, out.MessageID, done.MessageID)
	assert.Equal(t, session.StatusComplete, out.Status)
	assert.NoError(t, out.Err)
	assert.False(t, env.sessions.IsActive("s1"))
	assert.True(t, model.stream.closed)

	assert.Equal(t, DefaultSystemPrompt, model.req.SystemPrompt)
	assert.Equal(t, "what is 2+2?", model.req.UserMessage)
	assert.Len(t, model.req.Tools, 2)

	msgs, err := env.store.ListMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "what is 2+2?", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "I only help with weather.", msgs[1].Content)
	assert.Equal(t, "gpt-5-nano", msgs[1].ModelName)
	assert.Equal(t, 5, msgs[1].TokensUsed)
	assert.False(t, msgs[1].ErrorOccurred)

	conv, err := env.store.GetConversationBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", conv.UserIP)
}

func TestRunTurn_ToolCallThenCommentary(t *testing.T) {
	env := setupOrchestrator(t)
	args := map[string]any{"city": "Paris"}
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, args),
		textDelta("Bring an umbrella today."),
		turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "Weather in Paris?", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	require.Equal(t, []events.Type{
		events.TypeToolCall, events.TypeToolResult, events.TypeTextStart, events.TypeTextDelta, events.TypeDone,
	}, types(evs))

	assert.Equal(t, "call_1", evs[0].CallID)
	assert.Equal(t, tools.CurrentWeatherTool, evs[0].FunctionName)
	assert.Equal(t, "call_1", evs[1].CallID)
	assert.Equal(t, "Paris", evs[1].Data["city"])
	assert.Equal(t, float64(18), evs[1].Data["temperature"])
	assert.Equal(t, DefaultCommentaryPrompt, model.req.CommentaryPrompt)

	require.Len(t, model.stream.injected, 1)
	injected := model.stream.injected[0]
	assert.Equal(t, "call_1", injected.CallID)
	assert.Empty(t, injected.Error)
	assert.Equal(t, "light rain", injected.Payload["description"])

	assert.Equal(t, 1, out.ToolCalls)
	calls, err := env.store.ListToolCalls(context.Background(), out.MessageID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Seq)
	assert.True(t, calls[0].Success)
	assert.Equal(t, "Paris", calls[0].Arguments["city"])
	assert.Equal(t, "FR", calls[0].Result["country"])
}

func TestRunTurn_InvalidToolArguments(t *testing.T) {
	env := setupOrchestrator(t)
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		textDelta("Let me check."),
		toolCall("call_1", tools.ForecastTool, map[string]any{"city": "Paris", "days": float64(10)}),
		textDelta("I can only forecast up to five days."),
		turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "10 day forecast for Paris", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	require.Equal(t, []events.Type{
		events.TypeTextStart, events.TypeTextDelta,
		events.TypeToolCall, events.TypeToolError,
		events.TypeTextStart, events.TypeTextDelta,
		events.TypeDone,
	}, types(evs))
	assert.Equal(t, "Invalid days: must be between 1 and 5", evs[3].Error)

	require.Len(t, model.stream.injected, 1)
	assert.Equal(t, "Invalid days: must be between 1 and 5", model.stream.injected[0].Error)
	assert.Nil(t, model.stream.injected[0].Payload)

	assert.Equal(t, session.StatusComplete, out.Status)
	msgs, err := env.store.ListMessages(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Let me check.I can only forecast up to five days.", msgs[1].Content)
	assert.True(t, msgs[1].ErrorOccurred)
	assert.Contains(t, msgs[1].ErrorMessage, tools.ForecastTool)

	calls, err := env.store.ListToolCalls(context.Background(), out.MessageID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
	assert.NotEmpty(t, calls[0].ErrorMessage)
}

func TestRunTurn_ConflictAndCancellation(t *testing.T) {
	env := setupOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeModel{stream: &fakeStream{script: []modelstream.Event{textDelta("Thinking")}, block: true}}
	turn, err := env.orch.RunTurn(ctx, TurnRequest{SessionID: "s1", Message: "hello", Model: first})
	require.NoError(t, err)

	assert.Equal(t, events.TypeTextStart, (<-turn.Events()).Type)
	assert.Equal(t, events.TypeTextDelta, (<-turn.Events()).Type)

	second := &fakeModel{stream: &fakeStream{script: []modelstream.Event{turnEnd()}}}
	_, err = env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "again", Model: second})
	var conflict *session.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "s1", conflict.SessionID)

	// other sessions are unaffected
	other, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s2", Message: "hi", Model: second})
	require.NoError(t, err)
	collect(t, other)
	assert.Equal(t, session.StatusComplete, other.Wait().Status)

	cancel()
	rest := collect(t, turn)
	out := turn.Wait()

	assert.Empty(t, rest, "no events after cancellation")
	assert.Equal(t, session.StatusFailed, out.Status)
	assert.True(t, out.Cancelled())
	assert.False(t, env.sessions.IsActive("s1"))

	_, err = env.store.GetConversationBySession(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	retry := &fakeModel{stream: &fakeStream{script: []modelstream.Event{textDelta("ok"), turnEnd()}}}
	again, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "again", Model: retry})
	require.NoError(t, err)
	collect(t, again)
	assert.Equal(t, session.StatusComplete, again.Wait().Status)
}

func TestRunTurn_DuplicateToolCallFailsTurn(t *testing.T) {
	env := setupOrchestrator(t)
	args := map[string]any{"city": "Paris"}
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, args),
		toolCall("call_1", tools.CurrentWeatherTool, args),
		turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "Paris?", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	require.Equal(t, []events.Type{events.TypeToolCall, events.TypeToolResult, events.TypeError}, types(evs))
	assert.Equal(t, msgProtocol, evs[2].Message)

	var perr *session.ProtocolError
	require.ErrorAs(t, out.Err, &perr)
	assert.True(t, perr.Duplicate)
	assert.Equal(t, session.StatusFailed, out.Status)
	assert.False(t, out.Cancelled())

	_, err = env.store.GetConversationBySession(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTurn_ModelFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		want  []events.Type
	}{
		{
			name:  "open fails",
			model: &fakeModel{openErr: errors.New("dial tcp: connection refused")},
			want:  []events.Type{events.TypeError},
		},
		{
			name:  "stream breaks",
			model: &fakeModel{stream: &fakeStream{script: []modelstream.Event{textDelta("Partly")}, err: errors.New("unexpected EOF")}},
			want:  []events.Type{events.TypeTextStart, events.TypeTextDelta, events.TypeError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupOrchestrator(t)
			turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "hi", Model: tt.model})
			require.NoError(t, err)
			evs := collect(t, turn)
			out := turn.Wait()

			assert.Equal(t, tt.want, types(evs))
			last := evs[len(evs)-1]
			assert.Equal(t, msgModelUnavailable, last.Message)
			assert.NotContains(t, last.Message, "tcp")
			assert.Equal(t, session.StatusFailed, out.Status)
			assert.Error(t, out.Err)
			assert.False(t, env.sessions.IsActive("s1"))
		})
	}
}

// conflictingStore repeats the last tool call of a turn so the write fails
// on the tool call uniqueness constraint after both messages went in
type conflictingStore struct {
	*store.SQLiteStore
}

func (c conflictingStore) SaveTurn(ctx context.Context, rec *store.TurnRecord) error {
	if n := len(rec.ToolCalls); n > 0 {
		rec.ToolCalls = append(rec.ToolCalls, rec.ToolCalls[n-1])
	}
	return c.SQLiteStore.SaveTurn(ctx, rec)
}

func TestRunTurn_PersistenceFailure(t *testing.T) {
	env := setupOrchestrator(t, withStore(func(s *store.SQLiteStore) Store { return conflictingStore{s} }))
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, map[string]any{"city": "Paris"}),
		textDelta("Looks damp."),
		turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "Paris?", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeError, last.Type)
	assert.Equal(t, msgPersistence, last.Message)
	for _, ev := range evs {
		assert.NotEqual(t, events.TypeDone, ev.Type)
	}
	assert.Equal(t, session.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, store.ErrDuplicate)

	// nothing of the failed turn is left behind
	ctx := context.Background()
	_, err = env.store.GetConversationBySession(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	candidates, err := env.store.ListUnevaluatedMessages(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
}

func TestRunTurn_ToolTimeoutContinues(t *testing.T) {
	slow := blockingWeather{started: make(chan struct{}, 1)}
	env := setupOrchestrator(t, withProvider(slow, 50*time.Millisecond))
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, map[string]any{"city": "Paris"}),
		textDelta("The weather service is slow right now."),
		turnEnd(),
	}}}

	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "Paris?", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	require.Equal(t, []events.Type{
		events.TypeToolCall, events.TypeToolError, events.TypeTextStart, events.TypeTextDelta, events.TypeDone,
	}, types(evs))
	assert.Equal(t, "The weather service took too long to respond", evs[1].Error)
	require.Len(t, model.stream.injected, 1)
	assert.Equal(t, evs[1].Error, model.stream.injected[0].Error)

	assert.Equal(t, session.StatusComplete, out.Status)
	assert.NoError(t, out.Err)

	calls, err := env.store.ListToolCalls(context.Background(), out.MessageID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Success)
	assert.Contains(t, calls[0].ErrorMessage, "timed out")
}

func TestRunTurn_CancelDuringToolCall(t *testing.T) {
	slow := blockingWeather{started: make(chan struct{}, 1)}
	env := setupOrchestrator(t, withProvider(slow, time.Minute))
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, map[string]any{"city": "Paris"}),
		textDelta("never sent"),
		turnEnd(),
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	turn, err := env.orch.RunTurn(ctx, TurnRequest{SessionID: "s1", Message: "Paris?", Model: model})
	require.NoError(t, err)

	assert.Equal(t, events.TypeToolCall, (<-turn.Events()).Type)
	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool was not called")
	}

	cancelled := time.Now()
	cancel()
	rest := collect(t, turn)
	out := turn.Wait()

	assert.Less(t, time.Since(cancelled), time.Second)
	assert.Empty(t, rest, "no events after cancellation")
	assert.Equal(t, session.StatusFailed, out.Status)
	assert.True(t, out.Cancelled())
	assert.False(t, env.sessions.IsActive("s1"))
	assert.Empty(t, model.stream.injected)
	assert.True(t, model.stream.closed)

	_, err = env.store.GetConversationBySession(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func commentaryViolations(t *testing.T, model string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "weather_gateway_commentary_violations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "model" && l.GetValue() == model {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunTurn_CommentaryRestatementIsReported(t *testing.T) {
	var logs bytes.Buffer
	env := setupOrchestrator(t, withTestLogger(zerolog.New(&logs)))
	model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{
		toolCall("call_1", tools.CurrentWeatherTool, map[string]any{"city": "Paris"}),
		textDelta("It is 18 degrees with light rain."),
		turnEnd(),
	}}}

	before := commentaryViolations(t, "gpt-5-nano")
	turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "Paris?", Model: model})
	require.NoError(t, err)
	evs := collect(t, turn)
	out := turn.Wait()

	// the text still reaches the client
	require.Equal(t, []events.Type{
		events.TypeToolCall, events.TypeToolResult, events.TypeTextStart, events.TypeTextDelta, events.TypeDone,
	}, types(evs))
	assert.Equal(t, "It is 18 degrees with light rain.", evs[3].Delta)
	assert.Equal(t, session.StatusComplete, out.Status)

	assert.Equal(t, before+1, commentaryViolations(t, "gpt-5-nano"))
	assert.Contains(t, logs.String(), "Commentary restated tool result values")
	assert.Contains(t, logs.String(), `"18"`)
	assert.Contains(t, logs.String(), "light rain")
}

func TestRunTurn_ReusesConversation(t *testing.T) {
	env := setupOrchestrator(t)

	var convIDs []string
	for _, msg := range []string{"first", "second"} {
		model := &fakeModel{stream: &fakeStream{script: []modelstream.Event{textDelta("reply to " + msg)}}}
		turn, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: msg, Model: model})
		require.NoError(t, err)
		collect(t, turn)
		out := turn.Wait()
		require.Equal(t, session.StatusComplete, out.Status)
		convIDs = append(convIDs, out.ConversationID)
	}

	assert.Equal(t, convIDs[0], convIDs[1])
	msgs, err := env.store.ListMessages(context.Background(), convIDs[0])
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "reply to second", msgs[3].Content)
}

func TestRunTurn_RejectsInvalidRequests(t *testing.T) {
	env := setupOrchestrator(t)
	model := &fakeModel{stream: &fakeStream{}}

	_, err := env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "   ", Model: model})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "", Message: "hi", Model: model})
	assert.ErrorIs(t, err, session.ErrEmptySession)

	_, err = env.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Message: "hi"})
	assert.Error(t, err)
	assert.False(t, env.sessions.IsActive("s1"))
}

func TestRestatedValues(t *testing.T) {
	payload := map[string]any{
		"city":        "Paris",
		"temperature": float64(18),
		"feels_like":  17.5,
		"humidity":    float64(72),
		"description": "light rain",
		"forecast": []any{
			map[string]any{"date": "2026-10-17", "high_temp": float64(21)},
		},
	}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"clean commentary", "Paris looks damp, so bring an umbrella.", nil},
		{"restated number", "It is 18°C out there.", []string{"18"}},
		{"restated decimal", "Feels like 17.5 degrees.", []string{"17.5"}},
		{"no partial number match", "Expect about 118 minutes of sun, or 18.2 mm.", nil},
		{"restated description", "Expect Light Rain later.", []string{"light rain"}},
		{"nested value", "A high of 21 tomorrow and 72% humidity.", []string{"21", "72"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, restatedValues(tt.text, []map[string]any{payload}))
		})
	}
}
