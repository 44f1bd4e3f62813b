package search

import (
	"container/heap"
	"context"
	"sort"
)

const rankCheckInterval = 4096

// rank orders matches by score descending, then doc id ascending, and keeps
// the first limit. Small limits use a bounded heap instead of a full sort.
func rank(ctx context.Context, m matches, limit int) ([]Hit, error) {
	total := int(m.docs.GetCardinality())
	if limit <= 0 || total == 0 {
		return []Hit{}, nil
	}

	if limit >= total {
		hits := make([]Hit, 0, total)
		it := m.docs.Iterator()
		for i := 0; it.HasNext(); i++ {
			if i%rankCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			doc := it.Next()
			hits = append(hits, Hit{Doc: doc, Score: m.score(doc)})
		}
		sort.SliceStable(hits, func(i, j int) bool { return before(hits[i], hits[j]) })
		return hits, nil
	}

	h := &hitHeap{}
	it := m.docs.Iterator()
	for i := 0; it.HasNext(); i++ {
		if i%rankCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		doc := it.Next()
		heap.Push(h, Hit{Doc: doc, Score: m.score(doc)})
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits, nil
}

// before is the result order: higher score first, then lower doc id.
func before(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Doc < b.Doc
}

// hitHeap keeps the worst retained hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return before(h[j], h[i]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
