package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"source", cfg.Source.Kind,
		"analyzer", cfg.Index.Analyzer,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdownMetrics(context.Background())
	}

	an, err := analyzer.New(cfg.Index.Analyzer)
	if err != nil {
		slog.Error("invalid analyzer", "error", err)
		os.Exit(1)
	}

	src, closeSource, err := source.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open source", "kind", cfg.Source.Kind, "error", err)
		os.Exit(1)
	}
	defer closeSource()

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var onCommit []system.CommitFunc
	if queryCache != nil {
		onCommit = append(onCommit, queryCache.OnCommit)
	}

	var searchCollector *events.Collector
	if cfg.Kafka.Enabled {
		searchProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer searchProducer.Close()
		searchCollector = events.NewCollector(searchProducer, 10000, m)
		searchCollector.Start(ctx)
		defer searchCollector.Close()

		commitProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.GenerationCommitted)
		defer commitProducer.Close()
		commitCollector := events.NewCollector(commitProducer, 100, m)
		commitCollector.Start(ctx)
		defer commitCollector.Close()
		onCommit = append(onCommit, commitCollector.OnCommit)
		slog.Info("event collectors started",
			"search_topic", cfg.Kafka.Topics.SearchEvents,
			"commit_topic", cfg.Kafka.Topics.GenerationCommitted,
		)
	}

	fields := cfg.Search.DefaultFields
	if len(fields) == 0 {
		fields = source.DefaultFields(cfg.Source.Kind)
	}
	sysCfg := system.Config{
		Analyzer:             an,
		DefaultFields:        fields,
		AllowLeadingWildcard: cfg.Search.AllowLeadingWildcard,
		FacetDimensions:      cfg.Search.FacetDimensions,
		HitLimit:             cfg.Search.DefaultLimit,
		FacetTopN:            cfg.Search.FacetTopN,
		Metrics:              m,
		OnCommit:             onCommit,
	}
	if cfg.Index.Persist {
		sysCfg.Store = segment.NewStore(cfg.Index.DataDir, cfg.Index.Keep)
	}
	sys := system.New(sysCfg)
	defer sys.Close()

	restored, err := sys.Restore(ctx)
	if err != nil {
		slog.Error("failed to restore generation", "data_dir", cfg.Index.DataDir, "error", err)
		os.Exit(1)
	}
	if !restored {
		stats, err := sys.Reindex(ctx, src)
		if err != nil {
			slog.Error("initial build failed", "source", src.Name(), "error", err)
			os.Exit(1)
		}
		slog.Info("initial generation built", "generation", stats.ID, "documents", stats.Documents)
	}

	sources := map[string]system.Source{src.Name(): src}
	if cfg.Kafka.Enabled {
		reindex := events.NewReindexHandler(sys, src.Name(), sources, resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		})
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ReindexRequests, reindex.Handle)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("reindex consumer stopped", "error", err)
			}
		}()
		slog.Info("reindex consumer started", "topic", cfg.Kafka.Topics.ReindexRequests)
	}

	checker := health.NewChecker()
	checker.Register("generation", func(ctx context.Context) health.ComponentHealth {
		stats, err := sys.Stats()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents", stats.ID, stats.Documents),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, health.StatusDegraded))
	}

	opts := handler.Options{
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxResults:    cfg.Search.MaxResults,
		Sources:       sources,
		DefaultSource: src.Name(),
		Cache:         queryCache,
		Metrics:       m,
	}
	if searchCollector != nil {
		opts.Tracker = searchCollector
	}
	h := handler.New(sys, opts)

	// Builds may outlast the search timeout, so only searches are bounded.
	mux := http.NewServeMux()
	h.Register(mux, middleware.Timeout(cfg.Search.Timeout))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
