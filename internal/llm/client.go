// Package llm talks to OpenAI-compatible chat completion endpoints: a
// streaming modelstream.Model for live turns and a plain ChatClient for
// evaluation.
package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/resilience"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	completionsPath = "/chat/completions"
)

// Config configures a connection to one model on one provider
type Config struct {
	// Provider names the upstream for logs and metrics, e.g. "openai"
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Retry    *resilience.RetryConfig
	Breaker  *resilience.CircuitBreaker
}

// conn is the HTTP plumbing shared by streaming and non-streaming clients
type conn struct {
	provider string
	model    string
	http     *resty.Client
	retry    *resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
}

func newConn(cfg Config) *conn {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(cfg.Provider, 5, 30*time.Second)
	}

	return &conn{
		provider: cfg.Provider,
		model:    cfg.Model,
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json"),
		retry:   cfg.Retry,
		breaker: cfg.Breaker,
		logger: observability.GetLogger().With().
			Str("component", "llm").
			Str("provider", cfg.Provider).
			Str("model", cfg.Model).
			Logger(),
	}
}

// post sends a completion request through the circuit breaker with retry on
// transient failures. When raw is true the body is left unread for streaming
// and the caller owns closing it.
func (c *conn) post(ctx context.Context, body chatRequest, raw bool, result any) (*resty.Response, error) {
	var (
		resp     *resty.Response
		canceled error
	)

	err := c.breaker.Call(func() error {
		err := resilience.RetryContext(ctx, func() error {
			req := c.http.R().SetContext(ctx).SetBody(body)
			if raw {
				req.SetDoNotParseResponse(true)
			} else if result != nil {
				req.SetResult(result)
			}

			r, err := req.Post(completionsPath)
			if err != nil {
				return err
			}

			code := r.StatusCode()
			if code == http.StatusOK {
				resp = r
				return nil
			}

			statusErr := &StatusError{Provider: c.provider, StatusCode: code, Body: responseBody(r, raw)}
			if code == http.StatusTooManyRequests || code >= 500 {
				return resilience.NewRetryableError(statusErr)
			}
			return statusErr
		}, c.retry, resilience.IsRetryableNetworkError)

		// a caller that went away says nothing about upstream health
		if errors.Is(err, context.Canceled) {
			canceled = err
			return nil
		}
		return err
	})

	observability.UpdateCircuitBreakerState(c.provider, int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(c.provider)
		c.logger.Warn().Err(err).Msg("Model request failed")
		return nil, err
	}
	if canceled != nil {
		return nil, canceled
	}
	return resp, nil
}

// HealthCheck reports unhealthy while the provider circuit is open
func (c *conn) HealthCheck(ctx context.Context) (bool, error) {
	if c.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func responseBody(r *resty.Response, raw bool) string {
	if !raw {
		return r.String()
	}
	body := r.RawBody()
	if body == nil {
		return ""
	}
	defer body.Close()

	b, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(b)
}
