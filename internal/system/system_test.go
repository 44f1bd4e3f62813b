package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
)

func zones() []document.Document {
	zone := func(id, display, offset string) document.Document {
		return document.New(
			document.TextField("id", id, true),
			document.TextField("time_zone_display_name", display, true),
			document.Field{Name: "offset", Type: document.Keyword, Value: offset, Stored: true, Faceted: true},
		)
	}
	return []document.Document{
		zone("America/Los_Angeles", "Pacific Standard Time", "-8h0m0s"),
		zone("America/New_York", "Eastern Standard Time", "-5h0m0s"),
		zone("Europe/London", "Greenwich Mean Time", "0s"),
	}
}

func lines(n int) []document.Document {
	docs := make([]document.Document, n)
	for i := range docs {
		docs[i] = document.New(
			document.TextField("contents", fmt.Sprintf("line %d of the file", i+1), true),
			document.IntField("line_number", int64(i+1), true),
		)
	}
	return docs
}

func zoneConfig() Config {
	return Config{DefaultFields: []string{"id", "time_zone_display_name"}}
}

type memStore struct {
	mu    sync.Mutex
	saved []*index.Generation
	err   error
	gate  chan struct{}
}

func (m *memStore) Save(g *index.Generation) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, g)
	return nil
}

func (m *memStore) Latest() (*index.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, segment.ErrNoGeneration
	}
	return m.saved[len(m.saved)-1], nil
}

type staticSource struct {
	docs []document.Document
	err  error
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Load(context.Context) ([]document.Document, error) {
	return s.docs, s.err
}

func TestSearchBeforeIndex(t *testing.T) {
	s := New(zoneConfig())
	_, err := s.Search(context.Background(), Request{Expression: "pacific"})
	assert.ErrorIs(t, err, apperrors.ErrNoGeneration)

	_, err = s.Stats()
	assert.ErrorIs(t, err, apperrors.ErrNoGeneration)
}

func TestIndexAndSearch(t *testing.T) {
	s := New(zoneConfig())
	defer s.Close()

	stats, err := s.Index(context.Background(), zones())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, uint64(1), stats.ID)
	assert.Equal(t, []string{"offset"}, stats.Dimensions)

	res, err := s.Search(context.Background(), Request{Expression: "standard"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHits)
	require.Len(t, res.Facets, 1)
	assert.Equal(t, 2, res.Facets[0].ChildCount)

	res, err = s.Search(context.Background(), Request{Expression: "id:america*"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHits)
}

func TestSearchRequestDefaults(t *testing.T) {
	s := New(Config{HitLimit: 2, FacetTopN: 1})
	defer s.Close()
	_, err := s.Index(context.Background(), lines(5))
	require.NoError(t, err)

	res, err := s.Search(context.Background(), Request{Expression: "line"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalHits)
	assert.Len(t, res.Hits, 2)

	res, err = s.Search(context.Background(), Request{Expression: "line", Limit: -1})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 5)

	res, err = s.Search(context.Background(), Request{Expression: "line_number:[MIN TO 2]", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHits)

	res, err = s.Search(context.Background(), Request{Expression: "*:*"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalHits)
}

func TestBareWordSkipsNumericDefaultField(t *testing.T) {
	s := New(Config{DefaultFields: []string{"contents", "line_number"}, AllowLeadingWildcard: true})
	defer s.Close()
	_, err := s.Index(context.Background(), lines(3))
	require.NoError(t, err)

	for _, expr := range []string{"line", "lin*", "*ine"} {
		res, err := s.Search(context.Background(), Request{Expression: expr})
		require.NoError(t, err, expr)
		assert.Equal(t, 3, res.TotalHits, expr)
	}

	res, err := s.Search(context.Background(), Request{Expression: "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalHits)

	_, err = s.Search(context.Background(), Request{Expression: "line_number:line"})
	assert.ErrorIs(t, err, apperrors.ErrQuerySyntax)
}

func TestSearchSyntaxError(t *testing.T) {
	s := New(zoneConfig())
	defer s.Close()
	_, err := s.Index(context.Background(), zones())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), Request{Expression: "(pacific"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrQuerySyntax)

	_, err = s.Parse(Request{Expression: "*acific"})
	assert.ErrorIs(t, err, apperrors.ErrQuerySyntax)

	leading := New(Config{DefaultFields: []string{"id"}, AllowLeadingWildcard: true})
	defer leading.Close()
	_, err = leading.Index(context.Background(), zones())
	require.NoError(t, err)
	res, err := leading.Search(context.Background(), Request{Expression: "*york"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalHits)
}

func TestReplaceClosesPreviousGeneration(t *testing.T) {
	s := New(zoneConfig())
	defer s.Close()
	_, err := s.Index(context.Background(), zones())
	require.NoError(t, err)
	first := s.Current()

	stats, err := s.Index(context.Background(), zones()[:1])
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ID)
	assert.True(t, first.Closed())

	_, err = search.NewExecutor().Search(context.Background(), first, search.Request{Limit: search.NoLimit})
	var closed *apperrors.GenerationClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, uint64(1), closed.Generation)

	res, err := s.Search(context.Background(), Request{Expression: "*:*"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Equal(t, 1, res.TotalHits)
}

func TestFailedIndexKeepsCurrent(t *testing.T) {
	s := New(zoneConfig())
	defer s.Close()
	_, err := s.Index(context.Background(), zones())
	require.NoError(t, err)

	bad := []document.Document{
		document.New(document.IntField("n", 1, false)),
		document.New(document.KeywordField("n", "x", false)),
	}
	_, err = s.Index(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexing)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.ID)
}

func TestIndexWhileBuildingIsBusy(t *testing.T) {
	store := &memStore{gate: make(chan struct{})}
	s := New(Config{Store: store})
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.Index(context.Background(), lines(3))
		done <- err
	}()
	require.Eventually(t, s.Building, timeout, tick)

	_, err := s.Index(context.Background(), lines(1))
	var busy *apperrors.WriterBusyError
	assert.ErrorAs(t, err, &busy)

	restored, err := s.Restore(context.Background())
	assert.ErrorAs(t, err, &busy)
	assert.False(t, restored)

	close(store.gate)
	require.NoError(t, <-done)
	assert.False(t, s.Building())

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
}

func TestStoreFailureDoesNotPublish(t *testing.T) {
	store := &memStore{}
	s := New(Config{Store: store})
	defer s.Close()
	_, err := s.Index(context.Background(), lines(2))
	require.NoError(t, err)

	store.err = errors.New("disk full")
	_, err = s.Index(context.Background(), lines(4))
	require.Error(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
}

func TestRestoreFromSegmentStore(t *testing.T) {
	dir := t.TempDir()
	first := New(Config{Store: segment.NewStore(dir, 2)})
	_, err := first.Index(context.Background(), lines(4))
	require.NoError(t, err)
	_, err = first.Index(context.Background(), lines(6))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := New(Config{Store: segment.NewStore(dir, 2)})
	defer second.Close()
	ok, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	res, err := second.Search(context.Background(), Request{Expression: "line_number:[5 TO MAX]"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Equal(t, 2, res.TotalHits)

	stats, err := second.Index(context.Background(), lines(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.ID)
}

func TestRestoreKeepsNewerLiveGeneration(t *testing.T) {
	s := New(Config{Store: segment.NewStore(t.TempDir(), 2)})
	defer s.Close()
	_, err := s.Index(context.Background(), lines(3))
	require.NoError(t, err)

	ok, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := s.Search(context.Background(), Request{Expression: "line_number:[1 TO 3]"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 3, res.TotalHits)
}

func TestRestoreWithoutFiles(t *testing.T) {
	s := New(Config{Store: segment.NewStore(t.TempDir(), 2)})
	ok, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s.Current())
}

func TestRestoreRejectsAnalyzerMismatch(t *testing.T) {
	store := &memStore{}
	english := New(Config{Store: store, Analyzer: mustAnalyzer(t, "english")})
	_, err := english.Index(context.Background(), lines(1))
	require.NoError(t, err)

	standard := New(Config{Store: store})
	_, err = standard.Restore(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReindexFromSource(t *testing.T) {
	s := New(zoneConfig())
	defer s.Close()

	stats, err := s.Reindex(context.Background(), staticSource{docs: zones()})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)

	_, err = s.Reindex(context.Background(), staticSource{err: errors.New("boom")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "static")
}

func TestCommitHooksAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	var committed []index.Stats
	s := New(Config{
		Metrics: m,
		OnCommit: []CommitFunc{func(_ context.Context, st index.Stats) {
			committed = append(committed, st)
		}},
	})
	defer s.Close()

	_, err := s.Index(context.Background(), lines(3))
	require.NoError(t, err)
	_, err = s.Search(context.Background(), Request{Expression: "line"})
	require.NoError(t, err)
	_, err = s.Search(context.Background(), Request{Expression: "absent"})
	require.NoError(t, err)
	_, err = s.Search(context.Background(), Request{Expression: "(line"})
	require.Error(t, err)

	require.Len(t, committed, 1)
	assert.Equal(t, 3, committed[0].Documents)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuildsTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GenerationDocuments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationID))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("zero_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("syntax_error")))
}

// Every search sees exactly one generation: its hit count matches that
// generation's size, and its id lies between the ids published before
// and after the call.
func TestSearchesDuringReplacementSeeOneGeneration(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	sizeOf := func(id uint64) int {
		if id%2 == 1 {
			return 5
		}
		return 7
	}
	_, err := s.Index(context.Background(), lines(sizeOf(1)))
	require.NoError(t, err)

	var stop atomic.Bool
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				before := s.Current().ID()
				res, err := s.Search(context.Background(), Request{Expression: "*:*", Limit: -1})
				after := s.Current().ID()
				if err != nil {
					errs <- err
					return
				}
				if res.TotalHits != sizeOf(res.Generation) || len(res.Hits) != res.TotalHits {
					errs <- fmt.Errorf("generation %d returned %d hits", res.Generation, res.TotalHits)
					return
				}
				if res.Generation < before || res.Generation > after {
					errs <- fmt.Errorf("generation %d outside [%d, %d]", res.Generation, before, after)
					return
				}
			}
		}()
	}

	for id := uint64(2); id <= 30; id++ {
		stats, err := s.Index(context.Background(), lines(sizeOf(id)))
		require.NoError(t, err)
		require.Equal(t, id, stats.ID)
	}
	stop.Store(true)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
