package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the weather gateway service
type Config struct {
	// Server configuration
	Port              string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort    string `envconfig:"GRPC_HEALTH_PORT" default:"9090"`
	GRPCHealthEnabled bool   `envconfig:"GRPC_HEALTH_ENABLED" default:"true"`

	// SQLite database file; the directory is created on startup
	DatabasePath string `envconfig:"DATABASE_PATH" default:"chatbot_eval.db"`

	// Chat model providers
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""` // gemini models are only offered when set
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	DefaultModel  string `envconfig:"DEFAULT_MODEL" default:"gpt-5-nano"`

	ModelRequestTimeout int `envconfig:"MODEL_REQUEST_TIMEOUT" default:"120"` // seconds

	// OpenWeatherMap
	OpenWeatherMapAPIKey string `envconfig:"OPENWEATHERMAP_API_KEY" required:"true"`
	WeatherBaseURL       string `envconfig:"WEATHER_BASE_URL" default:"http://api.openweathermap.org/data/2.5"`
	ToolTimeoutMs        int    `envconfig:"TOOL_TIMEOUT_MS" default:"10000"`

	// Evaluation
	EvaluatorModel  string `envconfig:"EVALUATOR_MODEL" default:"gpt-5-nano"`
	EvalInterval    int    `envconfig:"EVAL_INTERVAL" default:"0"` // seconds; 0 disables the scheduler
	EvalBatchLimit  int    `envconfig:"EVAL_BATCH_LIMIT" default:"50"`
	EvalConcurrency int    `envconfig:"EVAL_CONCURRENCY" default:"2"`
	EvalMaxFailures int    `envconfig:"EVAL_MAX_FAILURES" default:"3"`
	RubricPath      string `envconfig:"RUBRIC_PATH" default:""`
	ResultEventName string `envconfig:"RESULT_EVENT_NAME" default:"tool_result"` // tool_result or weather_data

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Expose Prometheus metrics on /metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenWeatherMapAPIKey == "" {
		return fmt.Errorf("OPENWEATHERMAP_API_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.ResultEventName != "tool_result" && c.ResultEventName != "weather_data" {
		return fmt.Errorf("RESULT_EVENT_NAME must be tool_result or weather_data, got %q", c.ResultEventName)
	}
	if c.EvalInterval < 0 {
		return fmt.Errorf("EVAL_INTERVAL must not be negative")
	}
	if c.ToolTimeoutMs <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT_MS must be positive")
	}
	return nil
}

// ToolTimeout bounds a single tool execution
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

// ModelTimeout bounds a single model request, streaming included
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.ModelRequestTimeout) * time.Second
}

// EvalSchedule returns the batch interval; zero means no scheduler
func (c *Config) EvalSchedule() time.Duration {
	return time.Duration(c.EvalInterval) * time.Second
}

// BreakerResetTimeout is how long an open circuit waits before probing
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// InitialBackoff is the first retry delay
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
