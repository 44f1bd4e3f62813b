// Package search evaluates query trees against a generation, ranks the
// matches and aggregates facet counts over the full match set.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/query"
)

// NoLimit requests every matching document.
const NoLimit = -1

// Request describes one search.
type Request struct {
	Query query.Node
	// Limit caps the number of hits. NoLimit (or any negative value) means
	// the generation's document count. Zero returns no hits but still
	// counts facets.
	Limit int
	// FacetDimensions selects the dimensions to count. Empty means all.
	FacetDimensions []string
	// FacetTopN caps labels per dimension; zero or less keeps all.
	FacetTopN int
}

// Hit is one ranked document.
type Hit struct {
	Doc    uint32           `json:"doc"`
	Score  float64          `json:"score"`
	Fields []document.Field `json:"fields"`
}

// LabelCount is one facet label with the number of hits carrying it.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FacetResult holds the counts of one dimension. Value is the sum of all
// label counts; ChildCount the number of labels with a non-zero count.
type FacetResult struct {
	Dimension  string       `json:"dimension"`
	Value      int          `json:"value"`
	ChildCount int          `json:"child_count"`
	Labels     []LabelCount `json:"labels"`
}

// Result is the output of a search. TotalHits counts matches before
// truncation to the limit.
type Result struct {
	Generation uint64        `json:"generation"`
	Query      string        `json:"query"`
	TotalHits  int           `json:"total_hits"`
	Hits       []Hit         `json:"hits"`
	Facets     []FacetResult `json:"facets"`
}

// Executor runs searches. It is stateless and safe for concurrent use.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor() *Executor {
	return &Executor{
		logger: slog.Default().With("component", "search-executor"),
	}
}

// Search evaluates req against g. It fails with GenerationClosedError if g
// has been released, and with the context error if ctx ends first.
func (e *Executor) Search(ctx context.Context, g *index.Generation, req Request) (*Result, error) {
	if !g.Acquire() {
		return nil, g.ClosedError()
	}
	defer g.Release()

	start := time.Now()
	q := req.Query
	if q == nil {
		q = query.MatchAll{}
	}

	m, err := e.eval(ctx, g, q)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit < 0 {
		limit = g.DocCount()
	}

	result := &Result{
		Generation: g.ID(),
		Query:      q.String(),
		TotalHits:  int(m.docs.GetCardinality()),
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		hits, err := rank(gctx, m, limit)
		if err != nil {
			return err
		}
		for i := range hits {
			hits[i].Fields = g.Stored(hits[i].Doc)
		}
		result.Hits = hits
		return nil
	})
	grp.Go(func() error {
		facets, err := countFacets(gctx, g, m.docs, req.FacetDimensions, req.FacetTopN)
		if err != nil {
			return err
		}
		result.Facets = facets
		return nil
	})
	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("collecting results: %w", err)
	}

	e.logger.Debug("search executed",
		"generation", g.ID(),
		"query", result.Query,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"duration", time.Since(start),
	)
	return result, nil
}

// matches is the result of evaluating one node: the matching documents
// and their scores. A nil scores map means every document scores uniform.
type matches struct {
	docs    *roaring.Bitmap
	scores  map[uint32]float64
	uniform float64
}

func (m matches) score(doc uint32) float64 {
	if m.scores == nil {
		return m.uniform
	}
	return m.scores[doc]
}

func leaf(docs *roaring.Bitmap) matches {
	if docs == nil {
		docs = roaring.New()
	}
	return matches{docs: docs, uniform: 1}
}

func (e *Executor) eval(ctx context.Context, g *index.Generation, n query.Node) (matches, error) {
	if err := ctx.Err(); err != nil {
		return matches{}, err
	}
	switch q := n.(type) {
	case query.MatchAll:
		return leaf(g.All()), nil
	case query.Term:
		return leaf(g.Postings(q.Field, q.Value)), nil
	case query.Wildcard:
		docs, err := expandWildcard(ctx, g, q)
		if err != nil {
			return matches{}, err
		}
		return leaf(docs), nil
	case query.Range:
		return leaf(g.NumericRange(q.Field, q.Low, q.High)), nil
	case query.Or:
		return e.evalOr(ctx, g, q.Clauses)
	case query.And:
		return e.evalAnd(ctx, g, q.Clauses)
	default:
		return matches{}, fmt.Errorf("unsupported query node %T", n)
	}
}

func (e *Executor) evalOr(ctx context.Context, g *index.Generation, clauses []query.Node) (matches, error) {
	if len(clauses) == 0 {
		return leaf(nil), nil
	}
	children := make([]matches, 0, len(clauses))
	bitmaps := make([]*roaring.Bitmap, 0, len(clauses))
	for _, c := range clauses {
		m, err := e.eval(ctx, g, c)
		if err != nil {
			return matches{}, err
		}
		children = append(children, m)
		bitmaps = append(bitmaps, m.docs)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	out := matches{docs: roaring.FastOr(bitmaps...), scores: make(map[uint32]float64)}
	for _, child := range children {
		it := child.docs.Iterator()
		for it.HasNext() {
			doc := it.Next()
			out.scores[doc] += child.score(doc)
		}
	}
	return out, nil
}

func (e *Executor) evalAnd(ctx context.Context, g *index.Generation, clauses []query.Node) (matches, error) {
	if len(clauses) == 0 {
		return leaf(nil), nil
	}
	children := make([]matches, 0, len(clauses))
	bitmaps := make([]*roaring.Bitmap, 0, len(clauses))
	for _, c := range clauses {
		m, err := e.eval(ctx, g, c)
		if err != nil {
			return matches{}, err
		}
		if m.docs.IsEmpty() {
			return leaf(nil), nil
		}
		children = append(children, m)
		bitmaps = append(bitmaps, m.docs)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	out := matches{docs: roaring.FastAnd(bitmaps...), scores: make(map[uint32]float64)}
	it := out.docs.Iterator()
	for it.HasNext() {
		doc := it.Next()
		var s float64
		for _, child := range children {
			s += child.score(doc)
		}
		out.scores[doc] = s
	}
	return out, nil
}

// expandWildcard ORs the postings of every dictionary term matching the
// pattern. The scan is bounded by the pattern's literal prefix.
func expandWildcard(ctx context.Context, g *index.Generation, w query.Wildcard) (*roaring.Bitmap, error) {
	m := w.Compile()
	prefixOnly := m.PrefixOnly()
	var matched []*roaring.Bitmap
	err := g.ScanTerms(ctx, w.Field, m.Prefix(), func(term string, postings *roaring.Bitmap) bool {
		if prefixOnly || m.Match(term) {
			matched = append(matched, postings)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", w, err)
	}
	if len(matched) == 0 {
		return roaring.New(), nil
	}
	return roaring.FastOr(matched...), nil
}
