package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const conversationColumns = `id, session_id, user_ip, user_agent, created_at, last_activity`

// CreateConversation inserts a conversation, assigning an id if empty.
// A second conversation for the same session yields ErrDuplicate.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.timestamp(c.CreatedAt)
	if c.LastActivity.IsZero() {
		c.LastActivity = c.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, nullString(c.UserIP), nullString(c.UserAgent),
		c.CreatedAt.UnixMilli(), c.LastActivity.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("conversation for session %s: %w", c.SessionID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by id
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationBySession loads the conversation owned by a session
func (s *SQLiteStore) GetConversationBySession(ctx context.Context, sessionID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, sessionID)
	return scanConversation(row)
}

// ListConversations returns the most recently active conversations first
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.user_ip, c.user_agent, c.created_at, c.last_activity,
		       COUNT(m.id),
		       COALESCE(AVG(CASE WHEN m.role = 'assistant' THEN m.response_time_ms END), 0)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.last_activity DESC, c.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var (
			cs                   ConversationSummary
			userIP, userAgent    sql.NullString
			createdAt, lastActAt int64
		)
		if err := rows.Scan(&cs.ID, &cs.SessionID, &userIP, &userAgent, &createdAt, &lastActAt,
			&cs.TotalMessages, &cs.AverageResponseTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		cs.UserIP = userIP.String
		cs.UserAgent = userAgent.String
		cs.CreatedAt = fromMillis(createdAt)
		cs.LastActivity = fromMillis(lastActAt)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, by cascade, all its descendants
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                    Conversation
		userIP, userAgent    sql.NullString
		createdAt, lastActAt int64
	)
	err := row.Scan(&c.ID, &c.SessionID, &userIP, &userAgent, &createdAt, &lastActAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	c.UserIP = userIP.String
	c.UserAgent = userAgent.String
	c.CreatedAt = fromMillis(createdAt)
	c.LastActivity = fromMillis(lastActAt)
	return &c, nil
}
