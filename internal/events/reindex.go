package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/resilience"
)

// Reindexer rebuilds a generation from a source. *system.System satisfies
// it.
type Reindexer interface {
	Reindex(ctx context.Context, src system.Source) (index.Stats, error)
}

// ReindexHandler consumes ReindexRequest messages. A build that collides
// with one already running is retried with backoff.
type ReindexHandler struct {
	target   Reindexer
	sources  map[string]system.Source
	fallback string
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

// NewReindexHandler serves requests for the named sources. Requests that
// name no source use fallback.
func NewReindexHandler(target Reindexer, fallback string, sources map[string]system.Source, retry resilience.RetryConfig) *ReindexHandler {
	retry.Retryable = func(err error) bool {
		return errors.Is(err, apperrors.ErrWriterBusy)
	}
	return &ReindexHandler{
		target:   target,
		sources:  sources,
		fallback: fallback,
		retry:    retry,
		logger:   slog.Default().With("component", "reindex-handler"),
	}
}

// Handle is a kafka.MessageHandler.
func (h *ReindexHandler) Handle(ctx context.Context, msg kafka.Message) error {
	if msg.Type != "" && msg.Type != string(EventReindexRequested) {
		h.logger.Debug("ignoring message", "type", msg.Type)
		return nil
	}
	req, err := kafka.DecodeJSON[ReindexRequest](msg.Value)
	if err != nil {
		return err
	}
	name := req.Source
	if name == "" {
		name = h.fallback
	}
	src, ok := h.sources[name]
	if !ok {
		return fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidInput, name)
	}

	var stats index.Stats
	err = resilience.Retry(ctx, "reindex "+name, h.retry, func() error {
		var err error
		stats, err = h.target.Reindex(ctx, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("reindex request %s: %w", req.ID, err)
	}
	h.logger.Info("reindex request served", "request", req.ID, "source", name, "generation", stats.ID, "documents", stats.Documents)
	return nil
}
