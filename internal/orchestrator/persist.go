package orchestrator

import (
	"fmt"
	"time"

	"github.com/lexiqai/weather-gateway/internal/store"
)

// persist writes the finished exchange as one unit: the conversation if
// new, the user message, the assistant message and its tool calls in order.
func (r *turnRun) persist() (conversationID, messageID string, err error) {
	started := r.state.StartedAt()

	now := r.o.now()
	if !now.After(started) {
		now = started.Add(time.Millisecond)
	}
	text := r.state.Text()
	calls := r.state.ToolCalls()

	assistant := &store.Message{
		Role:           store.RoleAssistant,
		Content:        text,
		ModelName:      r.req.Model.Name(),
		ResponseTimeMs: now.Sub(started).Milliseconds(),
		CreatedAt:      now,
	}
	if r.o.tokens != nil {
		assistant.TokensUsed = r.o.tokens.Count(text)
	}

	records := make([]store.ToolCall, 0, len(calls))
	for i, c := range calls {
		if !c.Success && !assistant.ErrorOccurred {
			assistant.ErrorOccurred = true
			assistant.ErrorMessage = fmt.Sprintf("%s: %s", c.FunctionName, c.Error)
		}
		records = append(records, store.ToolCall{
			Seq:             i + 1,
			FunctionName:    c.FunctionName,
			Arguments:       c.Arguments,
			Result:          c.Result,
			ExecutionTimeMs: c.Duration.Milliseconds(),
			Success:         c.Success,
			ErrorMessage:    c.Error,
			CreatedAt:       now,
		})
	}

	rec := &store.TurnRecord{
		Conversation: &store.Conversation{
			SessionID: r.req.SessionID,
			UserIP:    r.req.UserIP,
			UserAgent: r.req.UserAgent,
			CreatedAt: started,
		},
		User: &store.Message{
			Role:      store.RoleUser,
			Content:   r.req.Message,
			CreatedAt: started,
		},
		Assistant: assistant,
		ToolCalls: records,
	}
	if err := r.o.store.SaveTurn(r.ctx, rec); err != nil {
		return "", "", fmt.Errorf("failed to save turn: %w", err)
	}
	return rec.Conversation.ID, assistant.ID, nil
}
