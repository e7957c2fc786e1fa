package evaluation

import (
	"context"
	"fmt"
	"math"
)

// AverageScores are per-dimension means
type AverageScores struct {
	Helpfulness    float64 `json:"helpfulness"`
	Correctness    float64 `json:"correctness"`
	Politeness     float64 `json:"politeness"`
	Accuracy       float64 `json:"accuracy"`
	ScopeAdherence float64 `json:"scope_adherence"`
	Overall        float64 `json:"overall"`
}

// ModelPerformance aggregates the evaluations of one chat model
type ModelPerformance struct {
	Evaluations  int     `json:"evaluations"`
	AverageScore float64 `json:"average_score"`
}

// Summary describes evaluations over a trailing window
type Summary struct {
	PeriodDays       int                         `json:"period_days"`
	TotalEvaluations int                         `json:"total_evaluations"`
	AverageScores    AverageScores               `json:"average_scores"`
	ModelPerformance map[string]ModelPerformance `json:"model_performance"`
}

// Summary aggregates evaluations from the last days days. Averages are
// rounded to two decimals.
func (p *Pipeline) Summary(ctx context.Context, days int) (*Summary, error) {
	if days <= 0 {
		days = 7
	}

	evals, err := p.store.EvaluationsSince(ctx, p.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}

	out := &Summary{
		PeriodDays:       days,
		TotalEvaluations: len(evals),
		ModelPerformance: make(map[string]ModelPerformance),
	}
	if len(evals) == 0 {
		return out, nil
	}

	var avg AverageScores
	totals := make(map[string]float64)
	for _, e := range evals {
		avg.Helpfulness += float64(e.Scores.Helpfulness)
		avg.Correctness += float64(e.Scores.Correctness)
		avg.Politeness += float64(e.Scores.Politeness)
		avg.Accuracy += float64(e.Scores.Accuracy)
		avg.ScopeAdherence += float64(e.Scores.ScopeAdherence)
		avg.Overall += e.OverallScore

		if e.ModelName == "" {
			continue
		}
		mp := out.ModelPerformance[e.ModelName]
		mp.Evaluations++
		out.ModelPerformance[e.ModelName] = mp
		totals[e.ModelName] += e.OverallScore
	}

	n := float64(len(evals))
	out.AverageScores = AverageScores{
		Helpfulness:    round2(avg.Helpfulness / n),
		Correctness:    round2(avg.Correctness / n),
		Politeness:     round2(avg.Politeness / n),
		Accuracy:       round2(avg.Accuracy / n),
		ScopeAdherence: round2(avg.ScopeAdherence / n),
		Overall:        round2(avg.Overall / n),
	}
	for model, mp := range out.ModelPerformance {
		mp.AverageScore = round2(totals[model] / float64(mp.Evaluations))
		out.ModelPerformance[model] = mp
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
