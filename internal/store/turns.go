package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TurnRecord is one finished exchange: the user message, the assistant
// reply and the tool calls made while producing it.
type TurnRecord struct {
	// Conversation is reused when one exists for its SessionID and created
	// otherwise. It is filled in from the stored row.
	Conversation *Conversation
	User         *Message
	Assistant    *Message
	ToolCalls    []ToolCall
}

// SaveTurn writes a finished exchange in a single transaction. On error
// nothing of the turn is stored, including a conversation it would have
// created.
func (s *SQLiteStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	if rec == nil || rec.Conversation == nil || rec.User == nil || rec.Assistant == nil {
		return errors.New("turn record needs a conversation, a user message and an assistant message")
	}
	if rec.User.Role != RoleUser || rec.Assistant.Role != RoleAssistant {
		return fmt.Errorf("turn record roles must be %s then %s", RoleUser, RoleAssistant)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv := rec.Conversation
	conv.CreatedAt = s.timestamp(conv.CreatedAt)
	if conv.LastActivity.IsZero() {
		conv.LastActivity = conv.CreatedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		uuid.New().String(), conv.SessionID, nullString(conv.UserIP), nullString(conv.UserAgent),
		conv.CreatedAt.UnixMilli(), conv.LastActivity.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	stored, err := scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, conv.SessionID))
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	rec.User.ConversationID = stored.ID
	rec.Assistant.ConversationID = stored.ID
	if err := s.insertMessage(ctx, tx, rec.User); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}
	if err := s.insertMessage(ctx, tx, rec.Assistant); err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}

	for i := range rec.ToolCalls {
		tc := &rec.ToolCalls[i]
		tc.MessageID = rec.Assistant.ID
		if tc.Seq <= 0 {
			tc.Seq = i + 1
		}
		if err := s.insertToolCall(ctx, tx, tc); err != nil {
			return fmt.Errorf("failed to save tool call %s: %w", tc.FunctionName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	// last_activity moved with the messages
	for _, m := range []*Message{rec.User, rec.Assistant} {
		if m.CreatedAt.After(stored.LastActivity) {
			stored.LastActivity = m.CreatedAt
		}
	}
	*conv = *stored
	return nil
}
