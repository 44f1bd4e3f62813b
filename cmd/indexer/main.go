package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/logger"
)

// The indexer builds one generation from the configured source and writes
// it to the data directory, where a search service picks it up on start.
// With -request it instead asks running search services to rebuild.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	request := flag.Bool("request", false, "publish a reindex request instead of building locally")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *request {
		if err := requestReindex(ctx, cfg); err != nil {
			slog.Error("reindex request failed", "error", err)
			os.Exit(1)
		}
		return
	}

	stats, err := build(ctx, cfg)
	if err != nil {
		slog.Error("build failed", "source", cfg.Source.Kind, "error", err)
		os.Exit(1)
	}
	slog.Info("indexer finished",
		"generation", stats.ID,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"dimensions", stats.Dimensions,
		"data_dir", cfg.Index.DataDir,
	)
}

func build(ctx context.Context, cfg *config.Config) (index.Stats, error) {
	an, err := analyzer.New(cfg.Index.Analyzer)
	if err != nil {
		return index.Stats{}, err
	}
	src, closeSource, err := source.Open(ctx, cfg)
	if err != nil {
		return index.Stats{}, err
	}
	defer closeSource()

	var onCommit []system.CommitFunc
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.GenerationCommitted)
		defer producer.Close()
		onCommit = append(onCommit, func(ctx context.Context, stats index.Stats) {
			if err := producer.Publish(ctx, events.ToKafka(events.NewGenerationEvent(stats))); err != nil {
				slog.Warn("failed to announce generation", "generation", stats.ID, "error", err)
			}
		})
	}

	dataDir := cfg.Index.DataDir
	if dataDir == "" {
		dataDir = "data/generations"
	}
	sys := system.New(system.Config{
		Analyzer: an,
		Store:    segment.NewStore(dataDir, cfg.Index.Keep),
		OnCommit: onCommit,
	})
	defer sys.Close()

	// Restoring first keeps generation ids increasing across runs.
	if _, err := sys.Restore(ctx); err != nil {
		return index.Stats{}, err
	}
	return sys.Reindex(ctx, src)
}

func requestReindex(ctx context.Context, cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return errors.New("kafka.enabled must be set to publish requests")
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReindexRequests)
	defer producer.Close()

	req := events.NewReindexRequest(cfg.Source.Kind)
	if err := producer.Publish(ctx, events.ToKafka(req)); err != nil {
		return err
	}
	slog.Info("reindex requested", "id", req.ID, "source", req.Source, "topic", producer.Topic())
	return nil
}
