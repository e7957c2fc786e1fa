package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/weather-gateway/internal/api"
	"github.com/lexiqai/weather-gateway/internal/config"
	"github.com/lexiqai/weather-gateway/internal/evaluation"
	"github.com/lexiqai/weather-gateway/internal/events"
	"github.com/lexiqai/weather-gateway/internal/llm"
	"github.com/lexiqai/weather-gateway/internal/modelstream"
	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/orchestrator"
	"github.com/lexiqai/weather-gateway/internal/resilience"
	"github.com/lexiqai/weather-gateway/internal/session"
	"github.com/lexiqai/weather-gateway/internal/store"
	"github.com/lexiqai/weather-gateway/internal/tokens"
	"github.com/lexiqai/weather-gateway/internal/tools"
	"github.com/lexiqai/weather-gateway/internal/weather"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("database", cfg.DatabasePath).
		Str("default_model", cfg.DefaultModel).
		Str("evaluator_model", cfg.EvaluatorModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Weather Gateway Service starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    cfg.InitialBackoff(),
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	breaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, cfg.BreakerResetTimeout())
	}

	weatherClient := weather.NewClient(weather.Config{
		BaseURL: cfg.WeatherBaseURL,
		APIKey:  cfg.OpenWeatherMapAPIKey,
		Timeout: cfg.ToolTimeout(),
		Retry:   retry,
		Breaker: breaker("weather"),
	})
	dispatcher := tools.NewDispatcher(weatherClient, tools.WithTimeout(cfg.ToolTimeout()))

	health := observability.NewHealthChecker(5 * time.Second)
	health.Register("database", func(ctx context.Context) (bool, error) {
		if err := st.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	health.Register("weather", weatherClient.HealthCheck)

	// One breaker per provider, shared by the chat models and the evaluator
	providers := map[string]llm.Config{
		llm.ProviderOpenAI: {
			Provider: llm.ProviderOpenAI,
			BaseURL:  cfg.OpenAIBaseURL,
			APIKey:   cfg.OpenAIAPIKey,
			Timeout:  cfg.ModelTimeout(),
			Retry:    retry,
			Breaker:  breaker(llm.ProviderOpenAI),
		},
	}
	if cfg.GeminiAPIKey != "" {
		providers[llm.ProviderGemini] = llm.Config{
			Provider: llm.ProviderGemini,
			BaseURL:  cfg.GeminiBaseURL,
			APIKey:   cfg.GeminiAPIKey,
			Timeout:  cfg.ModelTimeout(),
			Retry:    retry,
			Breaker:  breaker(llm.ProviderGemini),
		}
	}

	var models []modelstream.Model
	for _, name := range []string{llm.ModelGPT5Nano, llm.ModelGeminiFlashLite} {
		provider, _ := llm.ProviderFor(name)
		pcfg, ok := providers[provider]
		if !ok {
			logger.Info().Str("model", name).Msg("Model disabled, provider not configured")
			continue
		}
		pcfg.Model = name
		m := llm.NewStreamingModel(pcfg)
		models = append(models, m)
		health.Register("model:"+name, m.HealthCheck)
	}
	registry := llm.NewRegistry(cfg.DefaultModel, models...)
	if _, err := registry.Lookup(""); err != nil {
		return fmt.Errorf("default model: %w", err)
	}

	evalProvider, ok := llm.ProviderFor(cfg.EvaluatorModel)
	if !ok {
		return fmt.Errorf("unsupported evaluator model %q", cfg.EvaluatorModel)
	}
	evalCfg, ok := providers[evalProvider]
	if !ok {
		return fmt.Errorf("evaluator model %s needs %s credentials", cfg.EvaluatorModel, evalProvider)
	}
	evalCfg.Model = cfg.EvaluatorModel
	evaluator := llm.NewChatClient(evalCfg, llm.WithJSONMode())

	rubric := evaluation.DefaultRubric()
	if cfg.RubricPath != "" {
		if rubric, err = evaluation.LoadRubric(cfg.RubricPath); err != nil {
			return err
		}
	}
	pipeline := evaluation.NewPipeline(st, evaluator,
		evaluation.WithRubric(rubric),
		evaluation.WithConcurrency(cfg.EvalConcurrency),
		evaluation.WithMaxFailures(cfg.EvalMaxFailures),
	)

	orchOpts := []orchestrator.Option{}
	if counter, err := tokens.Default(); err != nil {
		logger.Warn().Err(err).Msg("Token counter unavailable, tokens_used will be 0")
	} else {
		orchOpts = append(orchOpts, orchestrator.WithTokenCounter(counter))
	}
	orch := orchestrator.New(session.NewManager(), dispatcher, st, orchOpts...)

	srv := api.NewServer(api.Dependencies{
		Turns:     orch,
		Models:    registry,
		Evaluator: pipeline,
		Store:     st,
		Health:    health,
	},
		api.WithResultEvent(events.Type(cfg.ResultEventName)),
		api.WithMetrics(cfg.MetricsEnabled),
		api.WithBatchLimit(cfg.EvalBatchLimit),
	)

	// Create HTTP server with timeouts; no write timeout since turns stream
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcAddr := ""
	if cfg.GRPCHealthEnabled {
		grpcAddr = fmt.Sprintf(":%s", cfg.GRPCHealthPort)
	}
	httpListener, grpcListener, err := listeners(server.Addr, grpcAddr)
	if err != nil {
		return err
	}
	var grpcHealth *observability.GRPCHealth
	if grpcListener != nil {
		grpcHealth = observability.NewGRPCHealth()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/api/chat/stream", cfg.Port)).
			Msg("Server listening")
		if err := server.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcHealth != nil {
		g.Go(func() error {
			logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health server listening")
			return grpcHealth.Server.Serve(grpcListener)
		})
		g.Go(func() error {
			grpcHealth.Watch(ctx, health, 15*time.Second, logger)
			return nil
		})
	}

	if interval := cfg.EvalSchedule(); interval > 0 {
		g.Go(func() error {
			return pipeline.Run(ctx, interval, cfg.EvalBatchLimit)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if grpcHealth != nil {
			grpcHealth.Shutdown()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// listeners binds the HTTP port and, when grpcAddr is set, the gRPC health
// port. Both are bound before anything serves; on error nothing stays bound.
func listeners(httpAddr, grpcAddr string) (httpLis, grpcLis net.Listener, err error) {
	httpLis, err = net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("http listener: %w", err)
	}
	if grpcAddr == "" {
		return httpLis, nil, nil
	}
	grpcLis, err = net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLis.Close()
		return nil, nil, fmt.Errorf("grpc health listener: %w", err)
	}
	return httpLis, grpcLis, nil
}
