package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageColumns = `id, conversation_id, role, content, model_name, response_time_ms,
	tokens_used, error_occurred, error_message, created_at`

// AppendMessage inserts a message and bumps the conversation's last activity
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertMessage(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertMessage(ctx context.Context, tx *sql.Tx, m *Message) error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = s.timestamp(m.CreatedAt)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, nullString(m.ModelName),
		m.ResponseTimeMs, m.TokensUsed, boolToInt(m.ErrorOccurred), nullString(m.ErrorMessage),
		m.CreatedAt.UnixMilli(),
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_activity = MAX(last_activity, ?) WHERE id = ?`,
		m.CreatedAt.UnixMilli(), m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation activity: %w", err)
	}
	return nil
}

// GetMessage loads a message by id
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// ListMessages returns a conversation's messages oldest first
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return collectMessages(rows)
}

// PrecedingUserMessage finds the latest user message in m's conversation
// written before m. Returns ErrNotFound when there is none.
func (s *SQLiteStore) PrecedingUserMessage(ctx context.Context, m *Message) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND role = 'user'
		  AND (created_at < ?
		       OR (created_at = ? AND rowid < (SELECT rowid FROM messages WHERE id = ?)))
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		m.ConversationID, m.CreatedAt.UnixMilli(), m.CreatedAt.UnixMilli(), m.ID)
	return scanMessage(row)
}

// AppendToolCall records a tool call under its message. A zero Seq is
// assigned the next position for that message.
func (s *SQLiteStore) AppendToolCall(ctx context.Context, tc *ToolCall) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertToolCall(ctx, tx, tc); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertToolCall(ctx context.Context, tx *sql.Tx, tc *ToolCall) error {
	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	tc.CreatedAt = s.timestamp(tc.CreatedAt)

	args, err := json.Marshal(orEmpty(tc.Arguments))
	if err != nil {
		return fmt.Errorf("failed to encode tool arguments: %w", err)
	}
	var result sql.NullString
	if tc.Result != nil {
		b, err := json.Marshal(tc.Result)
		if err != nil {
			return fmt.Errorf("failed to encode tool result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	if tc.Seq <= 0 {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM tool_calls WHERE message_id = ?`,
			tc.MessageID).Scan(&tc.Seq)
		if err != nil {
			return fmt.Errorf("failed to assign tool call sequence: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tool_calls (id, message_id, seq, function_name, arguments, result,
			execution_time_ms, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.MessageID, tc.Seq, tc.FunctionName, string(args), result,
		tc.ExecutionTimeMs, boolToInt(tc.Success), nullString(tc.ErrorMessage),
		tc.CreatedAt.UnixMilli(),
	)
	switch {
	case isForeignKeyViolation(err):
		return fmt.Errorf("message %s: %w", tc.MessageID, ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("tool call %s/%d: %w", tc.MessageID, tc.Seq, ErrDuplicate)
	case err != nil:
		return fmt.Errorf("failed to insert tool call: %w", err)
	}
	return nil
}

// ListToolCalls returns a message's tool calls in invocation order
func (s *SQLiteStore) ListToolCalls(ctx context.Context, messageID string) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, seq, function_name, arguments, result,
		       execution_time_ms, success, error_message, created_at
		FROM tool_calls
		WHERE message_id = ?
		ORDER BY seq ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var (
			tc             ToolCall
			args           string
			result, errMsg sql.NullString
			execMs         sql.NullInt64
			success        int
			createdAt      int64
		)
		if err := rows.Scan(&tc.ID, &tc.MessageID, &tc.Seq, &tc.FunctionName, &args, &result,
			&execMs, &success, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &tc.Arguments); err != nil {
			return nil, fmt.Errorf("failed to decode tool arguments: %w", err)
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &tc.Result); err != nil {
				return nil, fmt.Errorf("failed to decode tool result: %w", err)
			}
		}
		tc.ExecutionTimeMs = execMs.Int64
		tc.Success = success != 0
		tc.ErrorMessage = errMsg.String
		tc.CreatedAt = fromMillis(createdAt)
		out = append(out, tc)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m              Message
		role           string
		model, errMsg  sql.NullString
		respMs, tokens sql.NullInt64
		errOccurred    int
		createdAt      int64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &model, &respMs,
		&tokens, &errOccurred, &errMsg, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Role = Role(role)
	m.ModelName = model.String
	m.ResponseTimeMs = respMs.Int64
	m.TokensUsed = int(tokens.Int64)
	m.ErrorOccurred = errOccurred != 0
	m.ErrorMessage = errMsg.String
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}
