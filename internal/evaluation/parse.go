package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lexiqai/weather-gateway/internal/store"
)

const (
	minScore = 1
	maxScore = 10
)

type verdict struct {
	Scores       store.Scores
	Explanations store.Explanations
	Feedback     string
}

// parseVerdict extracts the scores from an evaluator reply. Markdown fences
// and text around the JSON object are tolerated; missing, non-integer or
// out-of-range scores are not.
func parseVerdict(raw string) (*verdict, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparseable)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	scores := make(map[string]int, len(dimensionKeys))
	for _, key := range dimensionKeys {
		name := key + "_score"
		v, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrUnparseable, name)
		}
		n, ok := integerScore(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an integer from %d to %d, got %v", ErrUnparseable, name, minScore, maxScore, v)
		}
		scores[key] = n
	}

	text := func(name string) string {
		s, _ := fields[name].(string)
		return strings.TrimSpace(s)
	}

	return &verdict{
		Scores: store.Scores{
			Helpfulness:    scores["helpfulness"],
			Correctness:    scores["correctness"],
			Politeness:     scores["politeness"],
			Accuracy:       scores["accuracy"],
			ScopeAdherence: scores["scope_adherence"],
		},
		Explanations: store.Explanations{
			Helpfulness:    text("helpfulness_explanation"),
			Correctness:    text("correctness_explanation"),
			Politeness:     text("politeness_explanation"),
			Accuracy:       text("accuracy_explanation"),
			ScopeAdherence: text("scope_adherence_explanation"),
		},
		Feedback: text("overall_feedback"),
	}, nil
}

func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func integerScore(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.Trunc(f) != f {
		return 0, false
	}
	if f < minScore || f > maxScore {
		return 0, false
	}
	return int(f), true
}
