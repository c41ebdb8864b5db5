package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cua/internal/bridge"
	"cua/internal/config"
	"cua/internal/engine"
	cuaerrors "cua/internal/errors"
	"cua/internal/llm"
	"cua/internal/logging"
	"cua/internal/observability"
	"cua/internal/oracle"
	"cua/internal/prompts"
	"cua/internal/server/app"
	serverhttp "cua/internal/server/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task API and the browser extension endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", config.DefaultServerAddr, "listen address")
	flags.String("model", config.DefaultLLMModel, "chat completion model")
	flags.String("selection", "first", "extension selection policy: first, last")
	flags.Int("max-retries", 3, "attempts per task")
	flags.Int("max-steps", 20, "steps per attempt")
	opts.bind(cmd, "server.addr", "addr")
	opts.bind(cmd, "llm.model", "model")
	opts.bind(cmd, "bridge.selection", "selection")
	opts.bind(cmd, "engine.max_retries", "max-retries")
	opts.bind(cmd, "engine.max_steps", "max-steps")
	return cmd
}

// server holds the wired components of one serve process.
type server struct {
	cfg     config.Config
	logger  logging.Logger
	tracer  *observability.TracerProvider
	metrics *observability.MetricsCollector
	tasks   *app.TaskService
	channel *bridge.Channel
	handler http.Handler
}

func buildServer(cfg config.Config) (*server, error) {
	logger := logging.NewComponentLogger("main")

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    "cua",
		ServiceVersion: appVersion(),
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var (
		gatherer      prometheus.Gatherer
		engineMetrics *engine.Metrics
		collector     *observability.MetricsCollector
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		engineMetrics = engine.MustNewMetrics(reg)
		collector, err = observability.NewMetricsCollector(observability.MetricsConfig{Enabled: true, Registerer: reg})
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		gatherer = reg
	}

	policy, err := bridge.ParseSelectionPolicy(cfg.Bridge.Selection)
	if err != nil {
		return nil, err
	}
	channel := bridge.NewChannel(bridge.Options{Policy: policy, Metrics: collector})
	wsHandler := bridge.NewWebSocketHandler(channel, bridge.WebSocketConfig{
		HeartbeatInterval: cfg.Bridge.HeartbeatInterval,
	}, nil)

	client, err := llm.NewOpenAIClient(cfg.LLM.Model, llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	retryConfig := cuaerrors.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.LLM.MaxRetries
	client = llm.NewRetryClient(client, retryConfig,
		cuaerrors.NewCircuitBreaker("llm", cuaerrors.DefaultCircuitBreakerConfig()))

	loader, err := prompts.NewPromptLoader()
	if err != nil {
		return nil, err
	}
	planner := oracle.New(client, loader, oracle.Options{
		ContentLimit: cfg.Engine.ContentLimit,
		Metrics:      collector,
		Tracer:       tracer,
	})

	store := app.NewInMemoryTaskStore()
	orchestrator := engine.NewOrchestrator(store, channel, planner, engine.ConfigFrom(cfg.Engine),
		engine.WithMetrics(engineMetrics),
		engine.WithTracer(tracer),
	)
	tasks := app.NewTaskService(store, orchestrator, nil)

	health := app.NewHealthChecker()
	health.RegisterProbe(app.NewExtensionProbe(channel))
	health.RegisterProbe(app.NewLLMProbe(cfg.LLM.Model, cfg.LLM.APIKey != ""))

	gin.SetMode(gin.ReleaseMode)
	router := serverhttp.NewRouter(serverhttp.RouterDeps{
		Tasks:     tasks,
		Channel:   channel,
		Health:    health,
		WebSocket: wsHandler,
		Gatherer:  gatherer,
		Tracer:    tracer,
	}, serverhttp.RouterConfig{
		Version:          appVersion(),
		AllowedOrigins:   cfg.Server.CORSOrigins,
		APIKeyConfigured: cfg.LLM.APIKey != "",
		KeepLastTasks:    cfg.Tasks.KeepLast,
	})

	return &server{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		metrics: collector,
		tasks:   tasks,
		channel: channel,
		handler: router,
	}, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	logging.Configure(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	s, err := buildServer(cfg)
	if err != nil {
		return err
	}
	s.logConfig()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Server listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.tasks.RunJanitor(gctx, cfg.Tasks.CleanupInterval, cfg.Tasks.KeepLast)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.shutdown(shutdownCtx, httpServer)
	})

	err = g.Wait()
	s.logger.Info("Server stopped")
	return err
}

func (s *server) shutdown(ctx context.Context, httpServer *http.Server) error {
	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task shutdown: %w", err))
	}
	if err := s.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (s *server) logConfig() {
	cfg := s.cfg
	s.logger.Info("=== Server Configuration ===")
	s.logger.Info("Version: %s", appVersion())
	s.logger.Info("LLM Model: %s", cfg.LLM.Model)
	s.logger.Info("Base URL: %s", cfg.LLM.BaseURL)
	s.logger.Info("Max Retries: %d, Max Steps: %d", cfg.Engine.MaxRetries, cfg.Engine.MaxSteps)
	s.logger.Info("Extension selection: %s", cfg.Bridge.Selection)
	s.logger.Info("Tracing: %t, Metrics: %t", cfg.Tracing.Enabled, cfg.Metrics.Enabled)
	s.logger.Info("===========================")
	if cfg.LLM.APIKey == "" {
		s.logger.Warn("OPENAI_API_KEY not set; task submission is disabled")
	}
}
