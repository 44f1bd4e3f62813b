package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
)

const buildCheckInterval = 1024

// Writer turns a document batch into a new Generation. Only one build may
// run at a time; a concurrent Build fails with WriterBusyError.
type Writer struct {
	analyzer analyzer.Analyzer
	busy     atomic.Bool
	lastID   atomic.Uint64
	logger   *slog.Logger
}

// NewWriter creates a Writer that analyzes text fields with a.
func NewWriter(a analyzer.Analyzer) *Writer {
	if a == nil {
		a = analyzer.Standard{}
	}
	return &Writer{
		analyzer: a,
		logger:   slog.Default().With("component", "index-writer"),
	}
}

// Analyzer returns the analyzer used for text fields.
func (w *Writer) Analyzer() analyzer.Analyzer { return w.analyzer }

// Building reports whether a build is in progress.
func (w *Writer) Building() bool { return w.busy.Load() }

// Resume makes the next generation id follow id. It is used after loading
// a persisted generation so ids keep increasing across restarts.
func (w *Writer) Resume(id uint64) {
	for {
		cur := w.lastID.Load()
		if cur >= id || w.lastID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Build indexes docs into a fresh generation. Document ids are assigned in
// input order starting at 0. On error nothing is published and the partial
// build is discarded.
func (w *Writer) Build(ctx context.Context, docs []document.Document) (*Generation, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return nil, &apperrors.WriterBusyError{}
	}
	defer w.busy.Store(false)

	if uint64(len(docs)) > math.MaxUint32 {
		return nil, &apperrors.IndexingError{Doc: len(docs) - 1, Reason: "too many documents for one generation"}
	}

	start := time.Now()
	b := newBuilder(w.analyzer, len(docs))
	for i, doc := range docs {
		if i%buildCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("build cancelled at document %d: %w", i, err)
			}
		}
		if err := b.add(i, doc); err != nil {
			w.logger.Warn("build rejected", "doc", i, "error", err)
			return nil, err
		}
	}

	g := b.freeze(w.lastID.Add(1))
	stats := g.Stats()
	w.logger.Info("generation built",
		"generation", g.id,
		"docs", stats.Documents,
		"fields", stats.Fields,
		"terms", stats.Terms,
		"dimensions", len(stats.Dimensions),
		"duration", time.Since(start),
	)
	return g, nil
}

type numericEntry struct {
	value int64
	doc   uint32
}

type builder struct {
	analyzer analyzer.Analyzer
	schema   map[string]document.FieldType
	terms    map[string]map[string]*roaring.Bitmap
	numeric  map[string][]numericEntry
	stored   [][]document.Field
	taxonomy *Taxonomy
	facets   [][]FacetOrdinal
}

func newBuilder(a analyzer.Analyzer, n int) *builder {
	return &builder{
		analyzer: a,
		schema:   make(map[string]document.FieldType),
		terms:    make(map[string]map[string]*roaring.Bitmap),
		numeric:  make(map[string][]numericEntry),
		stored:   make([][]document.Field, 0, n),
		taxonomy: newTaxonomy(),
		facets:   make([][]FacetOrdinal, 0, n),
	}
}

func (b *builder) add(i int, doc document.Document) error {
	id := uint32(i)
	var stored []document.Field
	var ords []FacetOrdinal

	for _, f := range doc.Fields {
		if f.Name == "" {
			return &apperrors.IndexingError{Doc: i, Reason: "field with empty name"}
		}
		if f.Inert() {
			continue
		}
		value, err := f.Normalize()
		if err != nil {
			return &apperrors.IndexingError{Doc: i, Field: f.Name, Reason: err.Error()}
		}

		if f.Indexed {
			if prev, seen := b.schema[f.Name]; seen && prev != f.Type {
				return &apperrors.IndexingError{
					Doc:    i,
					Field:  f.Name,
					Reason: fmt.Sprintf("indexed as %s, previously %s", f.Type, prev),
				}
			}
			b.schema[f.Name] = f.Type
			b.index(id, f.Name, f.Type, value)
		}

		if f.Stored {
			stored = append(stored, document.Field{
				Name:   f.Name,
				Type:   f.Type,
				Value:  value,
				Stored: true,
			})
		}

		if f.Faceted {
			label := document.Field{Type: f.Type, Value: value}.Label()
			if label == "" {
				return &apperrors.IndexingError{Doc: i, Field: f.Name, Reason: "empty facet label"}
			}
			ords = appendUnique(ords, b.taxonomy.assign(f.Name, label))
		}
	}

	b.stored = append(b.stored, stored)
	b.facets = append(b.facets, ords)
	return nil
}

func (b *builder) index(id uint32, field string, typ document.FieldType, value any) {
	switch typ {
	case document.Int:
		b.numeric[field] = append(b.numeric[field], numericEntry{value: value.(int64), doc: id})
	case document.Keyword:
		b.addTerm(field, value.(string), id)
	case document.Text:
		for _, term := range b.analyzer.Analyze(value.(string)) {
			b.addTerm(field, term, id)
		}
	}
}

func (b *builder) addTerm(field, term string, id uint32) {
	dict, ok := b.terms[field]
	if !ok {
		dict = make(map[string]*roaring.Bitmap)
		b.terms[field] = dict
	}
	bm, ok := dict[term]
	if !ok {
		bm = roaring.New()
		dict[term] = bm
	}
	bm.Add(id)
}

func (b *builder) freeze(id uint64) *Generation {
	g := &Generation{
		id:        id,
		analyzer:  b.analyzer.Name(),
		createdAt: time.Now().UTC(),
		docCount:  len(b.stored),
		schema:    b.schema,
		terms:     make(map[string]*termDict, len(b.terms)),
		numeric:   make(map[string]*numericColumn, len(b.numeric)),
		stored:    b.stored,
		taxonomy:  b.taxonomy,
		facets:    b.facets,
		all:       roaring.New(),
	}
	g.all.AddRange(0, uint64(g.docCount))

	for field, dict := range b.terms {
		td := &termDict{
			terms:    make([]string, 0, len(dict)),
			postings: make([]*roaring.Bitmap, 0, len(dict)),
		}
		for term := range dict {
			td.terms = append(td.terms, term)
		}
		sort.Strings(td.terms)
		for _, term := range td.terms {
			bm := dict[term]
			bm.RunOptimize()
			td.postings = append(td.postings, bm)
		}
		g.terms[field] = td
	}

	for field, entries := range b.numeric {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].value != entries[j].value {
				return entries[i].value < entries[j].value
			}
			return entries[i].doc < entries[j].doc
		})
		col := &numericColumn{
			values: make([]int64, len(entries)),
			docs:   make([]uint32, len(entries)),
		}
		for i, e := range entries {
			col.values[i] = e.value
			col.docs[i] = e.doc
		}
		g.numeric[field] = col
	}
	return g
}

func appendUnique(ords []FacetOrdinal, o FacetOrdinal) []FacetOrdinal {
	for _, existing := range ords {
		if existing == o {
			return ords
		}
	}
	return append(ords, o)
}
