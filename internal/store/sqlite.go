// Package store persists conversations, messages, tool calls and evaluations
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	user_ip TEXT,
	user_agent TEXT,
	created_at INTEGER NOT NULL,
	last_activity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content TEXT NOT NULL,
	model_name TEXT,
	response_time_ms INTEGER,
	tokens_used INTEGER,
	error_occurred INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_role_created ON messages(role, created_at);

CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	function_name TEXT NOT NULL,
	arguments TEXT NOT NULL,
	result TEXT,
	execution_time_ms INTEGER,
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE (message_id, seq)
);

CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
	evaluator_model TEXT NOT NULL,
	helpfulness_score INTEGER NOT NULL,
	correctness_score INTEGER NOT NULL,
	politeness_score INTEGER NOT NULL,
	accuracy_score INTEGER NOT NULL,
	scope_adherence_score INTEGER NOT NULL,
	overall_score REAL NOT NULL,
	helpfulness_explanation TEXT,
	correctness_explanation TEXT,
	politeness_explanation TEXT,
	accuracy_explanation TEXT,
	scope_adherence_explanation TEXT,
	overall_feedback TEXT,
	evaluation_time_ms INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

CREATE TABLE IF NOT EXISTS evaluation_failures (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	evaluator_model TEXT NOT NULL,
	reason TEXT NOT NULL,
	raw_response TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluation_failures_message ON evaluation_failures(message_id);
`

// SQLiteStore implements Store on a single SQLite database file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at path and applies the schema
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
