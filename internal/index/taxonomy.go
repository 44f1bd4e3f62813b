package index

import "sort"

// FacetOrdinal identifies one (dimension, label) pair. Ord is dense within
// its dimension.
type FacetOrdinal struct {
	Dim int32 `json:"d"`
	Ord int32 `json:"o"`
}

// Dimension is the label arena of one facet dimension.
type Dimension struct {
	Name   string
	labels []string
	ords   map[string]int32
}

// Len returns the number of distinct labels.
func (d *Dimension) Len() int { return len(d.labels) }

// Label returns the label for an ordinal.
func (d *Dimension) Label(ord int32) string { return d.labels[ord] }

// Ordinal returns the ordinal of label, if it was ever assigned.
func (d *Dimension) Ordinal(label string) (int32, bool) {
	ord, ok := d.ords[label]
	return ord, ok
}

// Taxonomy maps facet (dimension, label) pairs to ordinals. It is built by
// the writer and read-only once the owning generation is published.
type Taxonomy struct {
	dims  []*Dimension
	index map[string]int32
}

func newTaxonomy() *Taxonomy {
	return &Taxonomy{index: make(map[string]int32)}
}

// assign returns the ordinal for (dim, label), allocating one on first use.
func (t *Taxonomy) assign(dim, label string) FacetOrdinal {
	di, ok := t.index[dim]
	if !ok {
		di = int32(len(t.dims))
		t.index[dim] = di
		t.dims = append(t.dims, &Dimension{Name: dim, ords: make(map[string]int32)})
	}
	d := t.dims[di]
	ord, ok := d.ords[label]
	if !ok {
		ord = int32(len(d.labels))
		d.ords[label] = ord
		d.labels = append(d.labels, label)
	}
	return FacetOrdinal{Dim: di, Ord: ord}
}

// Dimension looks up a dimension by name.
func (t *Taxonomy) Dimension(name string) (int32, *Dimension, bool) {
	di, ok := t.index[name]
	if !ok {
		return 0, nil, false
	}
	return di, t.dims[di], true
}

// DimensionAt returns the dimension with index di.
func (t *Taxonomy) DimensionAt(di int32) *Dimension { return t.dims[di] }

// Dimensions returns all dimension names in lexicographic order.
func (t *Taxonomy) Dimensions() []string {
	names := make([]string, 0, len(t.dims))
	for _, d := range t.dims {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a (dimension, label) pair.
func (t *Taxonomy) Lookup(dim, label string) (FacetOrdinal, bool) {
	di, d, ok := t.Dimension(dim)
	if !ok {
		return FacetOrdinal{}, false
	}
	ord, ok := d.Ordinal(label)
	if !ok {
		return FacetOrdinal{}, false
	}
	return FacetOrdinal{Dim: di, Ord: ord}, true
}

// Resolve is the inverse of Lookup.
func (t *Taxonomy) Resolve(o FacetOrdinal) (dim, label string) {
	d := t.dims[o.Dim]
	return d.Name, d.labels[o.Ord]
}

// Len returns the number of dimensions.
func (t *Taxonomy) Len() int { return len(t.dims) }
