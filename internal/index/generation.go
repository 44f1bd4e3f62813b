// Package index holds the immutable search generation (inverted index,
// numeric columns, stored fields and taxonomy) and the writer that builds it.
package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
)

// closedBit marks a released generation in the reference state word. The
// low bits count readers that currently hold the generation.
const closedBit int64 = 1 << 62

// scanCheckInterval is how many dictionary terms are visited between
// context checks during term scans.
const scanCheckInterval = 1024

// termDict is the sorted term dictionary of one field with a posting
// bitmap per term.
type termDict struct {
	terms    []string
	postings []*roaring.Bitmap
}

func (d *termDict) lookup(term string) *roaring.Bitmap {
	i := sort.SearchStrings(d.terms, term)
	if i < len(d.terms) && d.terms[i] == term {
		return d.postings[i]
	}
	return nil
}

// numericColumn holds (value, doc) pairs of one Int field sorted by value,
// then doc.
type numericColumn struct {
	values []int64
	docs   []uint32
}

// Generation is an immutable, queryable snapshot of the index. Readers
// call Acquire before touching it and Release when done; Close retires the
// generation and frees its structures once the last reader is gone.
type Generation struct {
	id        uint64
	analyzer  string
	createdAt time.Time
	docCount  int

	schema   map[string]document.FieldType
	terms    map[string]*termDict
	numeric  map[string]*numericColumn
	stored   [][]document.Field
	taxonomy *Taxonomy
	facets   [][]FacetOrdinal
	all      *roaring.Bitmap

	state    atomic.Int64
	freeOnce sync.Once
}

// Stats summarises a generation for status endpoints and logs.
type Stats struct {
	ID         uint64    `json:"id"`
	Analyzer   string    `json:"analyzer"`
	CreatedAt  time.Time `json:"created_at"`
	Documents  int       `json:"documents"`
	Fields     int       `json:"fields"`
	Terms      int       `json:"terms"`
	Dimensions []string  `json:"dimensions"`
}

func (g *Generation) ID() uint64 { return g.id }

func (g *Generation) DocCount() int { return g.docCount }

// Analyzer returns the name of the analyzer text fields were built with.
func (g *Generation) Analyzer() string { return g.analyzer }

func (g *Generation) CreatedAt() time.Time { return g.createdAt }

// Acquire registers a reader. It returns false once the generation has
// been closed.
func (g *Generation) Acquire() bool {
	for {
		s := g.state.Load()
		if s&closedBit != 0 {
			return false
		}
		if g.state.CompareAndSwap(s, s+1) {
			return true
		}
	}
}

// Release drops a reader registered by Acquire.
func (g *Generation) Release() {
	if g.state.Add(-1) == closedBit {
		g.free()
	}
}

// Close retires the generation. Readers already holding it finish
// normally; new Acquire calls fail. Close is idempotent.
func (g *Generation) Close() error {
	for {
		s := g.state.Load()
		if s&closedBit != 0 {
			return nil
		}
		if g.state.CompareAndSwap(s, s|closedBit) {
			if s == 0 {
				g.free()
			}
			return nil
		}
	}
}

// Closed reports whether Close has been called.
func (g *Generation) Closed() bool {
	return g.state.Load()&closedBit != 0
}

// ClosedError builds the error returned for use after release.
func (g *Generation) ClosedError() error {
	return &apperrors.GenerationClosedError{Generation: g.id}
}

func (g *Generation) free() {
	g.freeOnce.Do(func() {
		g.terms = nil
		g.numeric = nil
		g.stored = nil
		g.facets = nil
		g.all = nil
	})
}

// FieldType reports the type of an indexed field.
func (g *Generation) FieldType(field string) (document.FieldType, bool) {
	t, ok := g.schema[field]
	return t, ok
}

// Schema returns a copy of the indexed field types.
func (g *Generation) Schema() map[string]document.FieldType {
	out := make(map[string]document.FieldType, len(g.schema))
	for k, v := range g.schema {
		out[k] = v
	}
	return out
}

// Postings returns the documents containing term in field, or nil. The
// bitmap is shared and must not be modified.
func (g *Generation) Postings(field, term string) *roaring.Bitmap {
	d, ok := g.terms[field]
	if !ok {
		return nil
	}
	return d.lookup(term)
}

// ScanTerms visits, in lexicographic order, every term of field that
// starts with prefix. It stops when fn returns false or ctx is done.
func (g *Generation) ScanTerms(ctx context.Context, field, prefix string, fn func(term string, postings *roaring.Bitmap) bool) error {
	d, ok := g.terms[field]
	if !ok {
		return nil
	}
	start := sort.SearchStrings(d.terms, prefix)
	for i := start; i < len(d.terms); i++ {
		if (i-start)%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		term := d.terms[i]
		if !strings.HasPrefix(term, prefix) {
			return nil
		}
		if !fn(term, d.postings[i]) {
			return nil
		}
	}
	return nil
}

// NumericRange returns the documents whose value of field lies in
// [low, high]. An inverted range matches nothing.
func (g *Generation) NumericRange(field string, low, high int64) *roaring.Bitmap {
	out := roaring.New()
	col, ok := g.numeric[field]
	if !ok || low > high {
		return out
	}
	i := sort.Search(len(col.values), func(i int) bool { return col.values[i] >= low })
	for ; i < len(col.values) && col.values[i] <= high; i++ {
		out.Add(col.docs[i])
	}
	return out
}

// All returns every document id of the generation. The bitmap is shared.
func (g *Generation) All() *roaring.Bitmap { return g.all }

// Stored returns the stored fields of doc in insertion order.
func (g *Generation) Stored(doc uint32) []document.Field {
	if int(doc) >= len(g.stored) {
		return nil
	}
	return g.stored[doc]
}

// Taxonomy returns the facet taxonomy.
func (g *Generation) Taxonomy() *Taxonomy { return g.taxonomy }

// Facets returns the facet ordinals assigned to doc.
func (g *Generation) Facets(doc uint32) []FacetOrdinal {
	if int(doc) >= len(g.facets) {
		return nil
	}
	return g.facets[doc]
}

func (g *Generation) Stats() Stats {
	s := Stats{
		ID:         g.id,
		Analyzer:   g.analyzer,
		CreatedAt:  g.createdAt,
		Documents:  g.docCount,
		Fields:     len(g.schema),
		Dimensions: g.taxonomy.Dimensions(),
	}
	for _, d := range g.terms {
		s.Terms += len(d.terms)
	}
	return s
}
