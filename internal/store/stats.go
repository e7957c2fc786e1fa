package store

import (
	"context"
	"fmt"
	"math"
)

// Stats computes dashboard aggregates. Averages are rounded to one decimal,
// response time to whole milliseconds, and percentages are in [0,100].
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE role = 'user'),
			(SELECT COUNT(*) FROM messages WHERE role = 'assistant'),
			(SELECT COUNT(*) FROM evaluations),
			(SELECT COUNT(DISTINCT message_id) FROM evaluation_failures f
			  WHERE NOT EXISTS (SELECT 1 FROM evaluations e WHERE e.message_id = f.message_id))`,
	).Scan(&st.TotalConversations, &st.TotalMessages, &st.UserMessages,
		&st.AssistantMessages, &st.TotalEvaluations, &st.FailedEvaluations)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(response_time_ms), 0)
		FROM messages
		WHERE role = 'assistant' AND response_time_ms > 0`,
	).Scan(&st.AvgResponseTimeMs)
	if err != nil {
		return nil, fmt.Errorf("failed to average response time: %w", err)
	}
	st.AvgResponseTimeMs = math.Round(st.AvgResponseTimeMs)

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(helpfulness_score), 0),
		       COALESCE(AVG(correctness_score), 0),
		       COALESCE(AVG(politeness_score), 0),
		       COALESCE(AVG(accuracy_score), 0),
		       COALESCE(AVG(scope_adherence_score), 0),
		       COALESCE(AVG(overall_score), 0)
		FROM evaluations`,
	).Scan(&st.HelpfulnessScore, &st.CorrectnessScore, &st.PolitenessScore,
		&st.AccuracyScore, &st.ScopeScore, &st.OverallScore)
	if err != nil {
		return nil, fmt.Errorf("failed to average scores: %w", err)
	}

	var toolTotal, toolOK int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM tool_calls`,
	).Scan(&toolTotal, &toolOK)
	if err != nil {
		return nil, fmt.Errorf("failed to count tool calls: %w", err)
	}
	if toolTotal > 0 {
		st.ToolSuccessRate = float64(toolOK) / float64(toolTotal) * 100
	}
	if st.AssistantMessages > 0 {
		st.EvaluationCoverage = float64(st.TotalEvaluations) / float64(st.AssistantMessages) * 100
	}

	for _, v := range []*float64{
		&st.HelpfulnessScore, &st.CorrectnessScore, &st.PolitenessScore,
		&st.AccuracyScore, &st.ScopeScore, &st.OverallScore,
		&st.ToolSuccessRate, &st.EvaluationCoverage,
	} {
		*v = round1(*v)
	}

	return &st, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
