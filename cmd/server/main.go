package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/callscope/backend/internal/analysis"
	"github.com/callscope/backend/internal/chain"
	"github.com/callscope/backend/internal/config"
	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/db"
	"github.com/callscope/backend/internal/health"
	httpapi "github.com/callscope/backend/internal/http"
	"github.com/callscope/backend/internal/http/handlers"
	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/poller"
	"github.com/callscope/backend/internal/service"
	"github.com/callscope/backend/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "callscope-backend").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		callStore    service.CallStore
		handlerStore handlers.CallStore
	)
	if cfg.DatabaseURL != "" {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
		callStore, handlerStore = store, store
	} else {
		logger.Warn().Msg("DATABASE_URL is not set, calls are not persisted")
	}

	agents, err := convai.LoadAgentDirectory(cfg.AgentsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.AgentsFile).Msg("failed to load agents file")
	}
	vendor := &convai.Client{BaseURL: cfg.ConvAIBaseURL, APIKey: cfg.ConvAIAPIKey, Agents: agents}

	analyzer, err := analysis.NewAnalyzer(cfg.AnalysisConfig())
	if err != nil {
		logger.Warn().Err(err).Msg("analysis provider unavailable, using synthetic analytics")
		analyzer = nil
	}
	dispatcher := &analysis.Dispatcher{
		Analyzer: analyzer,
		Audio:    vendor,
		Timeout:  cfg.AnalysisTimeout,
		Metrics:  m,
		Logger:   logger.With().Str("component", "analysis").Logger(),
	}

	hub := stream.NewHub(logger.With().Str("component", "stream").Logger(), m)
	pipeline := service.NewPipeline(callStore, hub, nil, logger.With().Str("component", "pipeline").Logger())
	queue := analysis.NewQueue(dispatcher, cfg.AnalysisMinInterval, pipeline.OnAnalysis, logger.With().Str("component", "analysis_queue").Logger())
	pipeline.Analysis = queue

	tracker := chain.NewTracker(logger.With().Str("component", "chain").Logger(), cfg.ChainStaleAfter)
	tracker.RetainMerged = cfg.ChainRetainMerged
	feed := poller.New(cfg.PollerConfig(), vendor, tracker, pipeline, logger.With().Str("component", "poller").Logger())
	feed.Metrics = m

	checker := health.NewChecker(logger.With().Str("component", "health").Logger())
	checker.Register("convai", vendor.CheckHealth)
	if p, ok := analyzer.(analysis.Pinger); ok {
		checker.Register("analysis", p.Ping)
	} else {
		checker.Register("analysis", nil)
	}

	go hub.Run(ctx)
	go pipeline.Run(ctx)
	go queue.Run(ctx)
	go checker.Run(ctx, cfg.HealthCheckInterval)

	if cfg.ConvAIAPIKey == "" {
		logger.Warn().Msg("CONVAI_API_KEY is not set, history polling disabled")
	} else {
		if _, err := feed.Preload(ctx); err != nil {
			logger.Warn().Err(err).Msg("history preload failed, first poll will announce everything")
		}
		feed.Start(ctx)
	}

	router := httpapi.Router(cfg, httpapi.Deps{
		Handler: &handlers.Handler{
			Store:         handlerStore,
			Feed:          feed,
			Conversations: tracker,
			Dispatcher:    dispatcher,
			Queue:         queue,
			OnAnalysis:    pipeline.OnAnalysis,
			Health:        checker,
			Agents:        agents,
			Metrics:       m,
		},
		Hub:     hub,
		Metrics: m,
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	feed.Disconnect()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
