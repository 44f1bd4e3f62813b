package search

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
)

const facetCheckInterval = 4096

// countFacets tallies labels of the requested dimensions over every
// matching document. Unknown dimensions yield an empty result.
func countFacets(ctx context.Context, g *index.Generation, docs *roaring.Bitmap, dims []string, topN int) ([]FacetResult, error) {
	tax := g.Taxonomy()
	if len(dims) == 0 {
		dims = tax.Dimensions()
	}

	// counts[di] is indexed by label ordinal; nil for dimensions not asked for.
	counts := make([][]int, tax.Len())
	for _, name := range dims {
		if di, d, ok := tax.Dimension(name); ok && counts[di] == nil {
			counts[di] = make([]int, d.Len())
		}
	}

	it := docs.Iterator()
	for i := 0; it.HasNext(); i++ {
		if i%facetCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, o := range g.Facets(it.Next()) {
			if c := counts[o.Dim]; c != nil {
				c[o.Ord]++
			}
		}
	}

	results := make([]FacetResult, 0, len(dims))
	for _, name := range dims {
		fr := FacetResult{Dimension: name, Labels: []LabelCount{}}
		di, d, ok := tax.Dimension(name)
		if !ok {
			results = append(results, fr)
			continue
		}
		for ord, n := range counts[di] {
			if n == 0 {
				continue
			}
			fr.Value += n
			fr.Labels = append(fr.Labels, LabelCount{Label: d.Label(int32(ord)), Count: n})
		}
		fr.ChildCount = len(fr.Labels)
		sort.Slice(fr.Labels, func(i, j int) bool {
			if fr.Labels[i].Count != fr.Labels[j].Count {
				return fr.Labels[i].Count > fr.Labels[j].Count
			}
			return fr.Labels[i].Label < fr.Labels[j].Label
		})
		if topN > 0 && len(fr.Labels) > topN {
			fr.Labels = fr.Labels[:topN]
		}
		results = append(results, fr)
	}
	return results, nil
}
