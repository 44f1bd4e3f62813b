package index

import (
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
)

// Snapshot is the serializable form of a Generation.
type Snapshot struct {
	ID         uint64                        `json:"id"`
	Analyzer   string                        `json:"analyzer"`
	CreatedAt  time.Time                     `json:"created_at"`
	DocCount   int                           `json:"doc_count"`
	Schema     map[string]document.FieldType `json:"schema"`
	Terms      []TermsSnapshot               `json:"terms"`
	Numeric    []NumericSnapshot             `json:"numeric"`
	Stored     [][]document.Field            `json:"stored"`
	Dimensions []DimensionSnapshot           `json:"dimensions"`
	Facets     [][]FacetOrdinal              `json:"facets"`
}

type TermsSnapshot struct {
	Field    string   `json:"field"`
	Terms    []string `json:"terms"`
	Postings [][]byte `json:"postings"`
}

type NumericSnapshot struct {
	Field  string   `json:"field"`
	Values []int64  `json:"values"`
	Docs   []uint32 `json:"docs"`
}

type DimensionSnapshot struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// Snapshot captures the generation for persistence.
func (g *Generation) Snapshot() (*Snapshot, error) {
	if !g.Acquire() {
		return nil, g.ClosedError()
	}
	defer g.Release()

	s := &Snapshot{
		ID:        g.id,
		Analyzer:  g.analyzer,
		CreatedAt: g.createdAt,
		DocCount:  g.docCount,
		Schema:    g.Schema(),
		Stored:    g.stored,
		Facets:    g.facets,
	}
	for field, d := range g.terms {
		ts := TermsSnapshot{Field: field, Terms: d.terms, Postings: make([][]byte, len(d.postings))}
		for i, bm := range d.postings {
			data, err := bm.ToBytes()
			if err != nil {
				return nil, fmt.Errorf("encoding postings %s:%s: %w", field, d.terms[i], err)
			}
			ts.Postings[i] = data
		}
		s.Terms = append(s.Terms, ts)
	}
	for field, col := range g.numeric {
		s.Numeric = append(s.Numeric, NumericSnapshot{Field: field, Values: col.values, Docs: col.docs})
	}
	for _, d := range g.taxonomy.dims {
		s.Dimensions = append(s.Dimensions, DimensionSnapshot{Name: d.Name, Labels: d.labels})
	}
	return s, nil
}

// FromSnapshot rebuilds a Generation from its serialized form.
func FromSnapshot(s *Snapshot) (*Generation, error) {
	if len(s.Stored) != s.DocCount || len(s.Facets) != s.DocCount {
		return nil, fmt.Errorf("snapshot %d: document tables disagree with doc count %d", s.ID, s.DocCount)
	}
	g := &Generation{
		id:        s.ID,
		analyzer:  s.Analyzer,
		createdAt: s.CreatedAt,
		docCount:  s.DocCount,
		schema:    s.Schema,
		terms:     make(map[string]*termDict, len(s.Terms)),
		numeric:   make(map[string]*numericColumn, len(s.Numeric)),
		stored:    s.Stored,
		taxonomy:  newTaxonomy(),
		facets:    s.Facets,
		all:       roaring.New(),
	}
	if g.schema == nil {
		g.schema = make(map[string]document.FieldType)
	}
	g.all.AddRange(0, uint64(g.docCount))

	for _, ts := range s.Terms {
		if len(ts.Terms) != len(ts.Postings) {
			return nil, fmt.Errorf("snapshot %d: field %s has %d terms and %d posting lists",
				s.ID, ts.Field, len(ts.Terms), len(ts.Postings))
		}
		d := &termDict{terms: ts.Terms, postings: make([]*roaring.Bitmap, len(ts.Postings))}
		for i, data := range ts.Postings {
			bm := roaring.New()
			if err := bm.UnmarshalBinary(data); err != nil {
				return nil, fmt.Errorf("decoding postings %s:%s: %w", ts.Field, ts.Terms[i], err)
			}
			d.postings[i] = bm
		}
		g.terms[ts.Field] = d
	}
	for _, ns := range s.Numeric {
		if len(ns.Values) != len(ns.Docs) {
			return nil, fmt.Errorf("snapshot %d: numeric field %s is misaligned", s.ID, ns.Field)
		}
		g.numeric[ns.Field] = &numericColumn{values: ns.Values, docs: ns.Docs}
	}
	for _, ds := range s.Dimensions {
		for _, label := range ds.Labels {
			g.taxonomy.assign(ds.Name, label)
		}
	}
	for doc, ords := range g.facets {
		for _, o := range ords {
			if int(o.Dim) >= len(g.taxonomy.dims) || int(o.Ord) >= g.taxonomy.dims[o.Dim].Len() {
				return nil, fmt.Errorf("snapshot %d: document %d references unknown facet ordinal %v", s.ID, doc, o)
			}
		}
	}
	return g, nil
}
