// Package system ties the writer, parser and executor together behind one
// handle that publishes generations atomically and serves searches from
// whichever generation is current when the search starts.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
)

// Source produces the full document set for one generation.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]document.Document, error)
}

// Store persists generations. segment.Store satisfies it.
type Store interface {
	Save(g *index.Generation) error
	Latest() (*index.Generation, error)
}

// CommitFunc runs after a generation has been published.
type CommitFunc func(ctx context.Context, stats index.Stats)

type Config struct {
	Analyzer             analyzer.Analyzer
	DefaultFields        []string
	AllowLeadingWildcard bool
	// FacetDimensions is used when a request names none. Empty counts
	// every dimension.
	FacetDimensions []string
	// HitLimit is used when a request leaves Limit at zero. Zero or less
	// returns every match.
	HitLimit  int
	FacetTopN int

	Store    Store
	Metrics  *metrics.Metrics
	OnCommit []CommitFunc
}

// Request is one search against the current generation. Zero values fall
// back to the system configuration. A negative Limit returns every match.
type Request struct {
	Expression      string   `json:"expression"`
	DefaultFields   []string `json:"default_fields,omitempty"`
	FacetDimensions []string `json:"facet_dimensions,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	FacetTopN       int      `json:"facet_top_n,omitempty"`
}

type System struct {
	cfg      Config
	writer   *index.Writer
	executor *search.Executor
	current  atomic.Pointer[index.Generation]
	indexing atomic.Bool
	logger   *slog.Logger
}

func New(cfg Config) *System {
	if cfg.Analyzer == nil {
		cfg.Analyzer = analyzer.Standard{}
	}
	if len(cfg.DefaultFields) == 0 {
		cfg.DefaultFields = []string{"contents"}
	}
	return &System{
		cfg:      cfg,
		writer:   index.NewWriter(cfg.Analyzer),
		executor: search.NewExecutor(),
		logger:   slog.Default().With("component", "search-system"),
	}
}

// Restore publishes the newest persisted generation, if any, and continues
// id assignment after it. It reports whether a generation was loaded. A
// persisted generation no newer than the live one is left unpublished.
func (s *System) Restore(ctx context.Context) (bool, error) {
	if s.cfg.Store == nil {
		return false, nil
	}
	if !s.indexing.CompareAndSwap(false, true) {
		return false, &apperrors.WriterBusyError{}
	}
	defer s.indexing.Store(false)

	g, err := s.cfg.Store.Latest()
	if err != nil {
		if errors.Is(err, segment.ErrNoGeneration) {
			return false, nil
		}
		return false, fmt.Errorf("restoring generation: %w", err)
	}
	if g.Analyzer() != s.cfg.Analyzer.Name() {
		g.Close()
		return false, fmt.Errorf("%w: persisted generation %d uses analyzer %q, configured %q",
			apperrors.ErrInvalidInput, g.ID(), g.Analyzer(), s.cfg.Analyzer.Name())
	}
	if cur := s.current.Load(); cur != nil && cur.ID() >= g.ID() {
		if cur != g {
			g.Close()
		}
		s.logger.Info("persisted generation not newer than live", "persisted", g.ID(), "live", cur.ID())
		return false, nil
	}
	s.writer.Resume(g.ID())
	stats := s.publish(ctx, g, false)
	s.logger.Info("generation restored", "generation", stats.ID, "documents", stats.Documents)
	return true, nil
}

// Index builds a generation from docs and publishes it. The previous
// generation is closed once its in-flight searches finish. On any error
// the current generation stays in place.
func (s *System) Index(ctx context.Context, docs []document.Document) (index.Stats, error) {
	if !s.indexing.CompareAndSwap(false, true) {
		s.recordBuild("busy", time.Now())
		return index.Stats{}, &apperrors.WriterBusyError{}
	}
	defer s.indexing.Store(false)

	start := time.Now()
	g, err := s.writer.Build(ctx, docs)
	if err != nil {
		s.recordBuild(buildStatus(err), start)
		return index.Stats{}, err
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Save(g); err != nil {
			g.Close()
			s.recordBuild("error", start)
			return index.Stats{}, fmt.Errorf("persisting generation %d: %w", g.ID(), err)
		}
	}
	stats := s.publish(ctx, g, true)
	s.recordBuild("ok", start)
	return stats, nil
}

// Reindex loads src and indexes its documents.
func (s *System) Reindex(ctx context.Context, src Source) (index.Stats, error) {
	start := time.Now()
	docs, err := src.Load(ctx)
	if err != nil {
		return index.Stats{}, fmt.Errorf("loading source %s: %w", src.Name(), err)
	}
	s.logger.Info("source loaded", "source", src.Name(), "documents", len(docs), "duration", time.Since(start))
	return s.Index(ctx, docs)
}

func (s *System) publish(ctx context.Context, g *index.Generation, notify bool) index.Stats {
	stats := g.Stats()
	if old := s.current.Swap(g); old != nil {
		old.Close()
	}
	if m := s.cfg.Metrics; m != nil {
		m.GenerationID.Set(float64(stats.ID))
		m.GenerationDocuments.Set(float64(stats.Documents))
		m.GenerationTerms.Set(float64(stats.Terms))
		if notify {
			m.DocsIndexedTotal.Add(float64(stats.Documents))
		}
	}
	s.logger.Info("generation published", "generation", stats.ID, "documents", stats.Documents)
	if notify {
		for _, fn := range s.cfg.OnCommit {
			fn(ctx, stats)
		}
	}
	return stats
}

func buildStatus(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrWriterBusy):
		return "busy"
	case errors.Is(err, apperrors.ErrIndexing):
		return "invalid"
	default:
		return "error"
	}
}

func (s *System) recordBuild(status string, start time.Time) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.BuildDuration.Observe(time.Since(start).Seconds())
	}
}

// acquire pins the current generation. A generation swapped out between
// the load and the pin is retried against its replacement.
func (s *System) acquire() (*index.Generation, error) {
	for {
		g := s.current.Load()
		if g == nil {
			return nil, apperrors.ErrNoGeneration
		}
		if g.Acquire() {
			return g, nil
		}
	}
}

// Parse parses req.Expression against the current generation's schema.
func (s *System) Parse(req Request) (query.Node, error) {
	g, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return s.parser(g, req).Parse(req.Expression)
}

func (s *System) parser(g *index.Generation, req Request) *query.Parser {
	fields := req.DefaultFields
	if len(fields) == 0 {
		fields = s.cfg.DefaultFields
	}
	return &query.Parser{
		Analyzer:             s.cfg.Analyzer,
		DefaultFields:        fields,
		AllowLeadingWildcard: s.cfg.AllowLeadingWildcard,
		Schema:               g.Schema(),
	}
}

// Search parses and runs req against the generation current at call time.
func (s *System) Search(ctx context.Context, req Request) (*search.Result, error) {
	g, err := s.acquire()
	if err != nil {
		s.recordSearch(nil, err)
		return nil, err
	}
	defer g.Release()

	q, err := s.parser(g, req).Parse(req.Expression)
	if err != nil {
		s.recordSearch(nil, err)
		return nil, err
	}

	limit := req.Limit
	switch {
	case limit < 0:
		limit = search.NoLimit
	case limit == 0 && s.cfg.HitLimit > 0:
		limit = s.cfg.HitLimit
	case limit == 0:
		limit = search.NoLimit
	}
	dims := req.FacetDimensions
	if len(dims) == 0 {
		dims = s.cfg.FacetDimensions
	}
	topN := req.FacetTopN
	if topN == 0 {
		topN = s.cfg.FacetTopN
	}

	res, err := s.executor.Search(ctx, g, search.Request{
		Query:           q,
		Limit:           limit,
		FacetDimensions: dims,
		FacetTopN:       topN,
	})
	s.recordSearch(res, err)
	return res, err
}

func (s *System) recordSearch(res *search.Result, err error) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, apperrors.ErrQuerySyntax):
		m.SearchQueriesTotal.WithLabelValues("syntax_error").Inc()
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues("error").Inc()
	case res.TotalHits == 0:
		m.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
		m.SearchResultsCount.Observe(0)
	default:
		m.SearchQueriesTotal.WithLabelValues("hit").Inc()
		m.SearchResultsCount.Observe(float64(res.TotalHits))
	}
}

// Current returns the published generation or nil. Callers that search it
// directly must Acquire it first.
func (s *System) Current() *index.Generation {
	return s.current.Load()
}

// Stats describes the current generation.
func (s *System) Stats() (index.Stats, error) {
	g, err := s.acquire()
	if err != nil {
		return index.Stats{}, err
	}
	defer g.Release()
	return g.Stats(), nil
}

// Building reports whether a build, persist or publish is in progress.
func (s *System) Building() bool {
	return s.indexing.Load()
}

// Close unpublishes and closes the current generation.
func (s *System) Close() error {
	if g := s.current.Swap(nil); g != nil {
		return g.Close()
	}
	return nil
}
