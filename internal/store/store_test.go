package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore, session string) *Conversation {
	t.Helper()
	c := &Conversation{SessionID: session, UserIP: "127.0.0.1", CreatedAt: base}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func seedMessage(t *testing.T, s *SQLiteStore, convID string, role Role, content string, at time.Time) *Message {
	t.Helper()
	m := &Message{ConversationID: convID, Role: role, Content: content, CreatedAt: at}
	if role == RoleAssistant {
		m.ModelName = "gpt-5-nano"
		m.ResponseTimeMs = 1200
	}
	require.NoError(t, s.AppendMessage(context.Background(), m))
	return m
}

func TestConversation_CreateAndLookup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := seedConversation(t, s, "sess-1")
	assert.NotEmpty(t, c.ID)

	got, err := s.GetConversationBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "127.0.0.1", got.UserIP)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.CreateConversation(ctx, &Conversation{SessionID: "sess-1"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMessage_AppendUpdatesActivity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")

	seedMessage(t, s, c.ID, RoleUser, "hi", base.Add(time.Second))
	seedMessage(t, s, c.ID, RoleAssistant, "hello", base.Add(2*time.Second))

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "gpt-5-nano", msgs[1].ModelName)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(base.Add(2*time.Second)))
}

func TestMessage_RejectsUnknownConversationAndRole(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.AppendMessage(ctx, &Message{ConversationID: "nope", Role: RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	c := seedConversation(t, s, "sess-1")
	err = s.AppendMessage(ctx, &Message{ConversationID: c.ID, Role: "system", Content: "x"})
	assert.Error(t, err)
}

func TestToolCalls_PreserveOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")
	m := seedMessage(t, s, c.ID, RoleAssistant, "It is sunny.", base)

	cities := []string{"Paris", "Rome", "Oslo", "Lima"}
	for i, city := range cities {
		tc := &ToolCall{
			MessageID:       m.ID,
			FunctionName:    "get_current_weather",
			Arguments:       map[string]any{"city": city},
			Result:          map[string]any{"city": city, "temperature": 18.0},
			ExecutionTimeMs: int64(100 + i),
			Success:         true,
		}
		require.NoError(t, s.AppendToolCall(ctx, tc))
		assert.Equal(t, i+1, tc.Seq)
	}
	failed := &ToolCall{
		MessageID:    m.ID,
		FunctionName: "get_weather_forecast",
		Arguments:    map[string]any{"city": "Atlantis"},
		ErrorMessage: "Could not find weather data for that location",
	}
	require.NoError(t, s.AppendToolCall(ctx, failed))

	calls, err := s.ListToolCalls(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, calls, 5)
	for i, city := range cities {
		assert.Equal(t, i+1, calls[i].Seq)
		assert.Equal(t, city, calls[i].Arguments["city"])
		assert.Equal(t, 18.0, calls[i].Result["temperature"])
		assert.True(t, calls[i].Success)
	}
	assert.False(t, calls[4].Success)
	assert.Nil(t, calls[4].Result)
	assert.Equal(t, "Could not find weather data for that location", calls[4].ErrorMessage)

	err = s.AppendToolCall(ctx, &ToolCall{MessageID: m.ID, Seq: 1, FunctionName: "get_current_weather"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func newTurnRecord(session, userIP string, at time.Time, calls ...ToolCall) *TurnRecord {
	return &TurnRecord{
		Conversation: &Conversation{SessionID: session, UserIP: userIP, CreatedAt: at},
		User:         &Message{Role: RoleUser, Content: "Weather in Paris?", CreatedAt: at},
		Assistant: &Message{
			Role:           RoleAssistant,
			Content:        "Bring an umbrella.",
			ModelName:      "gpt-5-nano",
			ResponseTimeMs: 900,
			CreatedAt:      at.Add(900 * time.Millisecond),
		},
		ToolCalls: calls,
	}
}

func TestSaveTurn_WritesExchange(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := newTurnRecord("sess-1", "10.0.0.1", base,
		ToolCall{FunctionName: "get_current_weather", Arguments: map[string]any{"city": "Paris"}, Result: map[string]any{"temperature": 18.0}, Success: true},
		ToolCall{FunctionName: "get_weather_forecast", Arguments: map[string]any{"city": "Paris", "days": 9.0}, ErrorMessage: "invalid days"},
	)
	require.NoError(t, s.SaveTurn(ctx, rec))
	require.NotEmpty(t, rec.Conversation.ID)
	assert.Equal(t, rec.Conversation.ID, rec.Assistant.ConversationID)
	assert.True(t, rec.Conversation.LastActivity.Equal(base.Add(900*time.Millisecond)))

	msgs, err := s.ListMessages(ctx, rec.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, rec.Assistant.ID, msgs[1].ID)

	calls, err := s.ListToolCalls(ctx, rec.Assistant.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, 1, calls[0].Seq)
	assert.Equal(t, "get_weather_forecast", calls[1].FunctionName)
	assert.False(t, calls[1].Success)

	// the next turn of the session lands in the same conversation
	next := newTurnRecord("sess-1", "10.0.0.2", base.Add(time.Minute))
	require.NoError(t, s.SaveTurn(ctx, next))
	assert.Equal(t, rec.Conversation.ID, next.Conversation.ID)
	assert.Equal(t, "10.0.0.1", next.Conversation.UserIP)

	msgs, err = s.ListMessages(ctx, rec.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestSaveTurn_FailureLeavesNothing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	call := ToolCall{Seq: 1, FunctionName: "get_current_weather", Arguments: map[string]any{"city": "Paris"}, Success: true}

	// new conversation: rolled back along with the messages
	err := s.SaveTurn(ctx, newTurnRecord("sess-1", "", base, call, call))
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = s.GetConversationBySession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// existing conversation: kept, but the turn is not
	c := seedConversation(t, s, "sess-2")
	err = s.SaveTurn(ctx, newTurnRecord("sess-2", "", base.Add(time.Minute), call, call))
	assert.ErrorIs(t, err, ErrDuplicate)

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	candidates, err := s.ListUnevaluatedMessages(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(base))

	err = s.SaveTurn(ctx, &TurnRecord{Conversation: &Conversation{SessionID: "sess-3"}})
	assert.Error(t, err)
}

func TestDeleteConversation_Cascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")
	m := seedMessage(t, s, c.ID, RoleAssistant, "answer", base)
	require.NoError(t, s.AppendToolCall(ctx, &ToolCall{MessageID: m.ID, FunctionName: "get_current_weather", Success: true}))
	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{MessageID: m.ID, EvaluatorModel: "gpt-4o-mini", OverallScore: 8}))
	require.NoError(t, s.RecordEvaluationFailure(ctx, &EvaluationFailure{MessageID: m.ID, EvaluatorModel: "gpt-4o-mini", Reason: "unparseable"}))

	require.NoError(t, s.DeleteConversation(ctx, c.ID))

	_, err := s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEvaluationByMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	calls, err := s.ListToolCalls(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, calls)
	n, err := s.CountEvaluationFailures(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, s.DeleteConversation(ctx, c.ID), ErrNotFound)
}

func TestSaveEvaluation_AtMostOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")
	m := seedMessage(t, s, c.ID, RoleAssistant, "answer", base)

	e := &Evaluation{
		MessageID:       m.ID,
		EvaluatorModel:  "gpt-4o-mini",
		Scores:          Scores{Helpfulness: 9, Correctness: 8, Politeness: 10, Accuracy: 8, ScopeAdherence: 10},
		Explanations:    Explanations{Helpfulness: "answered the question"},
		OverallScore:    8.86,
		OverallFeedback: "Good",
	}
	require.NoError(t, s.SaveEvaluation(ctx, e))

	got, err := s.GetEvaluationByMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Scores, got.Scores)
	assert.Equal(t, "answered the question", got.Explanations.Helpfulness)
	assert.InDelta(t, 8.86, got.OverallScore, 1e-9)

	err = s.SaveEvaluation(ctx, &Evaluation{MessageID: m.ID, EvaluatorModel: "gpt-4o-mini"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestListUnevaluatedMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")

	seedMessage(t, s, c.ID, RoleUser, "question", base)
	oldest := seedMessage(t, s, c.ID, RoleAssistant, "first", base.Add(1*time.Second))
	evaluated := seedMessage(t, s, c.ID, RoleAssistant, "second", base.Add(2*time.Second))
	seedMessage(t, s, c.ID, RoleAssistant, "   ", base.Add(3*time.Second))
	failing := seedMessage(t, s, c.ID, RoleAssistant, "fourth", base.Add(4*time.Second))
	newest := seedMessage(t, s, c.ID, RoleAssistant, "fifth", base.Add(5*time.Second))

	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{MessageID: evaluated.ID, EvaluatorModel: "gpt-4o-mini"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordEvaluationFailure(ctx, &EvaluationFailure{
			MessageID: failing.ID, EvaluatorModel: "gpt-4o-mini", Reason: "unparseable",
		}))
	}

	got, err := s.ListUnevaluatedMessages(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newest.ID, got[0].ID)
	assert.Equal(t, oldest.ID, got[1].ID)

	got, err = s.ListUnevaluatedMessages(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, failing.ID, got[1].ID)

	got, err = s.ListUnevaluatedMessages(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, newest.ID, got[0].ID)
}

func TestPrecedingUserMessage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")
	other := seedConversation(t, s, "sess-2")

	orphan := seedMessage(t, s, c.ID, RoleAssistant, "unprompted", base)
	seedMessage(t, s, c.ID, RoleUser, "weather in Paris?", base.Add(time.Second))
	seedMessage(t, s, c.ID, RoleUser, "and in Rome?", base.Add(2*time.Second))
	reply := seedMessage(t, s, c.ID, RoleAssistant, "Rome is warm", base.Add(3*time.Second))
	seedMessage(t, s, c.ID, RoleUser, "thanks", base.Add(4*time.Second))
	seedMessage(t, s, other.ID, RoleUser, "other conversation", base.Add(2500*time.Millisecond))

	prev, err := s.PrecedingUserMessage(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, "and in Rome?", prev.Content)

	_, err = s.PrecedingUserMessage(ctx, orphan)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalMessages)
	assert.Zero(t, empty.EvaluationCoverage)

	c := seedConversation(t, s, "sess-1")
	seedMessage(t, s, c.ID, RoleUser, "q", base)
	a1 := seedMessage(t, s, c.ID, RoleAssistant, "a1", base.Add(time.Second))
	a2 := seedMessage(t, s, c.ID, RoleAssistant, "a2", base.Add(2*time.Second))
	seedMessage(t, s, c.ID, RoleAssistant, "a3", base.Add(3*time.Second))

	require.NoError(t, s.AppendToolCall(ctx, &ToolCall{MessageID: a1.ID, FunctionName: "get_current_weather", Success: true}))
	require.NoError(t, s.AppendToolCall(ctx, &ToolCall{MessageID: a1.ID, FunctionName: "get_current_weather", Success: true}))
	require.NoError(t, s.AppendToolCall(ctx, &ToolCall{MessageID: a2.ID, FunctionName: "get_weather_forecast", Success: false}))

	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{
		MessageID: a1.ID, EvaluatorModel: "gpt-4o-mini", OverallScore: 8,
		Scores: Scores{Helpfulness: 8, Correctness: 8, Politeness: 9, Accuracy: 7, ScopeAdherence: 10},
	}))
	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{
		MessageID: a2.ID, EvaluatorModel: "gpt-4o-mini", OverallScore: 7,
		Scores: Scores{Helpfulness: 7, Correctness: 6, Politeness: 9, Accuracy: 8, ScopeAdherence: 10},
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalConversations)
	assert.Equal(t, 4, st.TotalMessages)
	assert.Equal(t, 1, st.UserMessages)
	assert.Equal(t, 3, st.AssistantMessages)
	assert.Equal(t, 2, st.TotalEvaluations)
	assert.Equal(t, 1200.0, st.AvgResponseTimeMs)
	assert.Equal(t, 7.5, st.HelpfulnessScore)
	assert.Equal(t, 7.0, st.CorrectnessScore)
	assert.Equal(t, 7.5, st.OverallScore)
	assert.Equal(t, 66.7, st.ToolSuccessRate)
	assert.Equal(t, 66.7, st.EvaluationCoverage)
}

func TestEvaluationsSince(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s, "sess-1")
	old := seedMessage(t, s, c.ID, RoleAssistant, "old", base)
	recent := seedMessage(t, s, c.ID, RoleAssistant, "recent", base.Add(time.Hour))

	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{MessageID: old.ID, EvaluatorModel: "e", CreatedAt: base.Add(-48 * time.Hour)}))
	require.NoError(t, s.SaveEvaluation(ctx, &Evaluation{MessageID: recent.ID, EvaluatorModel: "e", OverallScore: 9, CreatedAt: base}))

	got, err := s.EvaluationsSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].MessageID)
	assert.Equal(t, "gpt-5-nano", got[0].ModelName)
	assert.Equal(t, 9.0, got[0].OverallScore)
}
