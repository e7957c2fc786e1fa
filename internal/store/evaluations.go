package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const evaluationColumns = `id, message_id, evaluator_model,
	helpfulness_score, correctness_score, politeness_score, accuracy_score, scope_adherence_score,
	overall_score,
	helpfulness_explanation, correctness_explanation, politeness_explanation,
	accuracy_explanation, scope_adherence_explanation,
	overall_feedback, evaluation_time_ms, created_at`

// SaveEvaluation stores the evaluation of a message. A message can be
// evaluated at most once; a second save yields ErrDuplicate.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, e *Evaluation) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = s.timestamp(e.CreatedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (`+evaluationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.EvaluatorModel,
		e.Scores.Helpfulness, e.Scores.Correctness, e.Scores.Politeness,
		e.Scores.Accuracy, e.Scores.ScopeAdherence,
		e.OverallScore,
		e.Explanations.Helpfulness, e.Explanations.Correctness, e.Explanations.Politeness,
		e.Explanations.Accuracy, e.Explanations.ScopeAdherence,
		e.OverallFeedback, e.EvaluationTimeMs, e.CreatedAt.UnixMilli(),
	)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("evaluation for message %s: %w", e.MessageID, ErrDuplicate)
	case isForeignKeyViolation(err):
		return fmt.Errorf("message %s: %w", e.MessageID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// GetEvaluationByMessage loads the evaluation of a message
func (s *SQLiteStore) GetEvaluationByMessage(ctx context.Context, messageID string) (*Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE message_id = ?`, messageID)
	return scanEvaluation(row)
}

// ListUnevaluatedMessages returns assistant messages with non-empty content
// and no evaluation, newest first. Messages with maxFailures or more recorded
// failures are skipped; maxFailures <= 0 disables that filter.
func (s *SQLiteStore) ListUnevaluatedMessages(ctx context.Context, limit, maxFailures int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.role = 'assistant'
		  AND TRIM(m.content) != ''
		  AND NOT EXISTS (SELECT 1 FROM evaluations e WHERE e.message_id = m.id)
		  AND (? <= 0 OR (SELECT COUNT(*) FROM evaluation_failures f WHERE f.message_id = m.id) < ?)
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, maxFailures, maxFailures, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unevaluated messages: %w", err)
	}
	return collectMessages(rows)
}

// RecordEvaluationFailure stores a failed evaluation attempt
func (s *SQLiteStore) RecordEvaluationFailure(ctx context.Context, f *EvaluationFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = s.timestamp(f.CreatedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_failures (id, message_id, evaluator_model, reason, raw_response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.MessageID, f.EvaluatorModel, f.Reason, nullString(f.RawResponse), f.CreatedAt.UnixMilli())
	if isForeignKeyViolation(err) {
		return fmt.Errorf("message %s: %w", f.MessageID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to record evaluation failure: %w", err)
	}
	return nil
}

// CountEvaluationFailures returns how many failed attempts a message has
func (s *SQLiteStore) CountEvaluationFailures(ctx context.Context, messageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluation_failures WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count evaluation failures: %w", err)
	}
	return n, nil
}

// EvaluationsSince returns evaluations created at or after since, oldest
// first, together with the model that produced each evaluated message
func (s *SQLiteStore) EvaluationsSince(ctx context.Context, since time.Time) ([]ModelEvaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.message_id, e.evaluator_model,
		       e.helpfulness_score, e.correctness_score, e.politeness_score,
		       e.accuracy_score, e.scope_adherence_score, e.overall_score,
		       e.helpfulness_explanation, e.correctness_explanation, e.politeness_explanation,
		       e.accuracy_explanation, e.scope_adherence_explanation,
		       e.overall_feedback, e.evaluation_time_ms, e.created_at,
		       COALESCE(m.model_name, '')
		FROM evaluations e
		JOIN messages m ON m.id = e.message_id
		WHERE e.created_at >= ?
		ORDER BY e.created_at ASC, e.rowid ASC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []ModelEvaluation
	for rows.Next() {
		var me ModelEvaluation
		e, err := scanEvaluationInto(rows, &me.ModelName)
		if err != nil {
			return nil, err
		}
		me.Evaluation = *e
		out = append(out, me)
	}
	return out, rows.Err()
}

func scanEvaluation(row rowScanner) (*Evaluation, error) {
	return scanEvaluationInto(row)
}

func scanEvaluationInto(row rowScanner, extra ...any) (*Evaluation, error) {
	var (
		e                              Evaluation
		help, corr, polite, acc, scope sql.NullString
		feedback                       sql.NullString
		evalMs                         sql.NullInt64
		createdAt                      int64
	)
	dest := []any{
		&e.ID, &e.MessageID, &e.EvaluatorModel,
		&e.Scores.Helpfulness, &e.Scores.Correctness, &e.Scores.Politeness,
		&e.Scores.Accuracy, &e.Scores.ScopeAdherence, &e.OverallScore,
		&help, &corr, &polite, &acc, &scope,
		&feedback, &evalMs, &createdAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan evaluation: %w", err)
	}
	e.Explanations = Explanations{
		Helpfulness:    help.String,
		Correctness:    corr.String,
		Politeness:     polite.String,
		Accuracy:       acc.String,
		ScopeAdherence: scope.String,
	}
	e.OverallFeedback = feedback.String
	e.EvaluationTimeMs = evalMs.Int64
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}
