package evaluation

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/weather-gateway/internal/store"
)

//go:embed rubric.yaml
var defaultRubric []byte

// Dimension keys, in prompt order
var dimensionKeys = []string{"helpfulness", "correctness", "politeness", "accuracy", "scope_adherence"}

// Dimension is one scored aspect of a response
type Dimension struct {
	Key      string   `yaml:"key"`
	Title    string   `yaml:"title"`
	Weight   float64  `yaml:"weight"`
	Question string   `yaml:"question"`
	Checks   []string `yaml:"checks"`
}

// Rubric drives the evaluator prompt and the overall score weighting
type Rubric struct {
	SystemPrompt      string      `yaml:"system_prompt"`
	StrictInstruction string      `yaml:"strict_instruction"`
	Dimensions        []Dimension `yaml:"dimensions"`
}

// DefaultRubric returns the built-in rubric
func DefaultRubric() *Rubric {
	r, err := ParseRubric(defaultRubric)
	if err != nil {
		panic(fmt.Sprintf("embedded rubric is invalid: %v", err))
	}
	return r
}

// LoadRubric reads a rubric from path, or returns the built-in one when path is empty
func LoadRubric(path string) (*Rubric, error) {
	if path == "" {
		return DefaultRubric(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}
	return ParseRubric(data)
}

// ParseRubric decodes and validates a YAML rubric
func ParseRubric(data []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rubric) validate() error {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		return fmt.Errorf("rubric: system_prompt is required")
	}
	if len(r.Dimensions) != len(dimensionKeys) {
		return fmt.Errorf("rubric: expected %d dimensions, got %d", len(dimensionKeys), len(r.Dimensions))
	}

	seen := make(map[string]bool, len(r.Dimensions))
	for _, d := range r.Dimensions {
		if !isDimensionKey(d.Key) {
			return fmt.Errorf("rubric: unknown dimension %q", d.Key)
		}
		if seen[d.Key] {
			return fmt.Errorf("rubric: duplicate dimension %q", d.Key)
		}
		if d.Weight <= 0 {
			return fmt.Errorf("rubric: dimension %q needs a positive weight", d.Key)
		}
		seen[d.Key] = true
	}
	return nil
}

// OverallScore is the weighted mean of the scores, rounded to two decimals
func (r *Rubric) OverallScore(s store.Scores) float64 {
	var sum, weights float64
	for _, d := range r.Dimensions {
		sum += d.Weight * float64(scoreFor(s, d.Key))
		weights += d.Weight
	}
	if weights == 0 {
		return 0
	}
	return math.Round(sum/weights*100) / 100
}

func isDimensionKey(key string) bool {
	for _, k := range dimensionKeys {
		if k == key {
			return true
		}
	}
	return false
}

func scoreFor(s store.Scores, key string) int {
	switch key {
	case "helpfulness":
		return s.Helpfulness
	case "correctness":
		return s.Correctness
	case "politeness":
		return s.Politeness
	case "accuracy":
		return s.Accuracy
	case "scope_adherence":
		return s.ScopeAdherence
	}
	return 0
}
