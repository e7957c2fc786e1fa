package llm

import (
	"fmt"
	"sort"

	"github.com/lexiqai/weather-gateway/internal/modelstream"
)

// Supported model identifiers
const (
	ModelGPT5Nano        = "gpt-5-nano"
	ModelGeminiFlashLite = "gemini-2.0-flash-lite"
	ProviderOpenAI       = "openai"
	ProviderGemini       = "gemini"
)

// ProviderFor returns the provider serving a supported model
func ProviderFor(model string) (string, bool) {
	switch model {
	case ModelGPT5Nano:
		return ProviderOpenAI, true
	case ModelGeminiFlashLite:
		return ProviderGemini, true
	}
	return "", false
}

// UnsupportedModelError is returned for a model outside the allow-list
type UnsupportedModelError struct {
	Model     string
	Supported []string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported model %q (supported: %v)", e.Model, e.Supported)
}

// Registry resolves model names to streaming models
type Registry struct {
	models       map[string]modelstream.Model
	defaultModel string
}

// NewRegistry registers models; defaultModel is used for empty lookups
func NewRegistry(defaultModel string, models ...modelstream.Model) *Registry {
	r := &Registry{
		models:       make(map[string]modelstream.Model, len(models)),
		defaultModel: defaultModel,
	}
	for _, m := range models {
		r.models[m.Name()] = m
	}
	return r
}

// Lookup returns the model registered under name, or the default when name is empty
func (r *Registry) Lookup(name string) (modelstream.Model, error) {
	if name == "" {
		name = r.defaultModel
	}
	m, ok := r.models[name]
	if !ok {
		return nil, &UnsupportedModelError{Model: name, Supported: r.Names()}
	}
	return m, nil
}

// Names returns the registered model names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
