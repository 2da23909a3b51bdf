package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/config"
	"github.com/capitalize-ai/canvas-chat/internal/eventbus"
	"github.com/capitalize-ai/canvas-chat/internal/handler"
	"github.com/capitalize-ai/canvas-chat/internal/jobs"
	"github.com/capitalize-ai/canvas-chat/internal/llm"
	natsclient "github.com/capitalize-ai/canvas-chat/internal/nats"
	"github.com/capitalize-ai/canvas-chat/internal/ratelimit"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/internal/store"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/tracing"
)

// serve runs the API until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting API server",
		zap.String("store", cfg.StoreDriver),
		zap.String("event_bus", cfg.EventBus),
		zap.String("llm_provider", cfg.LLMProvider),
	)

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "canvas-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// Outbound provider calls share one gate.
	gate := ratelimit.NewGate(cfg.RateGateCapacity, cfg.RateGateInterval)
	provider, err := newLLMClient(cfg, ratelimit.NewHTTPClient(gate, cfg.LLMTimeout))
	if err != nil {
		return err
	}
	chat := llm.NewGated(provider, gate)

	var images llm.ImageGenerator
	if _, ok := provider.(llm.ImageGenerator); ok {
		images = chat
	}

	st, err := store.Open(ctx, store.Config{
		Driver:        cfg.StoreDriver,
		BoltPath:      cfg.BoltPath,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	registry := broadcast.NewRegistry(cfg.HeartbeatInterval, log)

	bus, err := eventbus.Open(ctx, eventbus.Config{
		Driver: cfg.EventBus,
		NATS: natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		},
		RedisURL: cfg.RedisURL,
	}, registry, log)
	if err != nil {
		return fmt.Errorf("failed to open event bus: %w", err)
	}
	defer bus.Close()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go func() {
		if err := bus.Run(relayCtx); err != nil {
			log.Error("event relay stopped", zap.Error(err))
		}
	}()

	conversations := service.NewConversationService(st, chat, log)
	artifacts := service.NewArtifactService(st, chat, images, log)
	reconciler := service.NewReconciler(service.ReconcilerConfig{
		Store:         st,
		Conversations: conversations,
		LLM:           chat,
		Tools:         artifacts,
		Events:        bus,
		Logger:        log,
		MaxSteps:      cfg.MaxSteps,
		DefaultModel:  cfg.DefaultModel,
	})

	runner := jobs.NewRunner(cfg.JobConcurrency, log)
	extractor := jobs.NewExtractor(runner, reconciler, bus, log)

	checks := map[string]handler.Check{"store": st.Ping}
	if p, ok := bus.(interface{ Ping(context.Context) error }); ok {
		checks["event_bus"] = p.Ping
	}

	router := handler.NewRouter(handler.RouterConfig{
		Conversations:     conversations,
		Reconciler:        reconciler,
		Artifacts:         artifacts,
		Votes:             service.NewVoteService(st, conversations),
		Registry:          registry,
		Extractor:         extractor,
		Checks:            checks,
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedOrigins:    cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	// Push channels never finish on their own.
	server.RegisterOnShutdown(registry.Close)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("background jobs cancelled", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.IsDevelopment() {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func newLLMClient(cfg *config.Config, httpClient *http.Client) (llm.Client, error) {
	provider := llm.Provider(cfg.LLMProvider)
	opts := llm.Options{HTTPClient: httpClient}

	switch provider {
	case llm.ProviderAnthropic:
		opts.APIKey = cfg.AnthropicAPIKey
	default:
		provider = llm.ProviderOpenAI
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", provider)
	}

	client, err := llm.NewClient(provider, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, nil
}
