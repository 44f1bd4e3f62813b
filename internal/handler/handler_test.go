package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
)

type staticSource struct {
	docs []document.Document
	gate chan struct{}
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Load(ctx context.Context) ([]document.Document, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.docs, nil
}

func zoneDocs() []document.Document {
	zone := func(id, display, offset string) document.Document {
		return document.New(
			document.TextField("id", id, true),
			document.TextField("time_zone_display_name", display, true),
			document.Field{Name: "offset", Type: document.Keyword, Value: offset, Stored: true, Faceted: true},
		)
	}
	return []document.Document{
		zone("America/Los_Angeles", "Pacific Standard Time", "-8h0m0s"),
		zone("America/Vancouver", "Pacific Standard Time", "-8h0m0s"),
		zone("America/New_York", "Eastern Standard Time", "-5h0m0s"),
		zone("Europe/London", "Greenwich Mean Time", "0s"),
	}
}

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string]string)
	return n, nil
}

type recordingTracker struct {
	mu       sync.Mutex
	searches []*search.Result
	hits     []bool
}

func (r *recordingTracker) TrackSearch(res *search.Result, _ time.Duration, cacheHit bool, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches = append(r.searches, res)
	r.hits = append(r.hits, cacheHit)
}

func newServer(t *testing.T, opts Options, index bool) (*httptest.Server, *system.System) {
	t.Helper()
	sys := system.New(system.Config{
		DefaultFields:   []string{"id", "time_zone_display_name"},
		FacetDimensions: []string{"offset"},
	})
	t.Cleanup(func() { sys.Close() })
	if index {
		_, err := sys.Index(context.Background(), zoneDocs())
		require.NoError(t, err)
	}
	mux := http.NewServeMux()
	New(sys, opts).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sys
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type searchBody struct {
	search.Result
	CacheHit bool `json:"cache_hit"`
}

func TestSearchReturnsHitsAndFacets(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body searchBody
	status := getJSON(t, srv.URL+"/api/v1/search?q=pacific", &body)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, 2, body.TotalHits)
	assert.Len(t, body.Hits, 2)
	require.Len(t, body.Facets, 1)
	assert.Equal(t, "offset", body.Facets[0].Dimension)
	assert.Equal(t, []search.LabelCount{{Label: "-8h0m0s", Count: 2}}, body.Facets[0].Labels)
	assert.False(t, body.CacheHit)
}

func TestRegisterWrapsOnlySearch(t *testing.T) {
	sys := system.New(system.Config{DefaultFields: []string{"id"}})
	t.Cleanup(func() { sys.Close() })
	_, err := sys.Index(context.Background(), zoneDocs())
	require.NoError(t, err)

	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Wrapped", name)
				next.ServeHTTP(w, r)
			})
		}
	}
	mux := http.NewServeMux()
	New(sys, Options{}).Register(mux, tag("outer"), tag("inner"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/search?q=")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"outer", "inner"}, resp.Header.Values("X-Wrapped"))

	resp, err = http.Get(srv.URL + "/api/v1/generation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Values("X-Wrapped"))
}

func TestSearchMissingQuery(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body map[string]string
	status := getJSON(t, srv.URL+"/api/v1/search", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "'q'")
}

func TestSearchEmptyQueryMatchesAll(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body searchBody
	status := getJSON(t, srv.URL+"/api/v1/search?q=", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, body.TotalHits)
}

func TestSearchLimitClampedToMaxResults(t *testing.T) {
	srv, _ := newServer(t, Options{MaxResults: 1}, true)

	var body searchBody
	status := getJSON(t, srv.URL+"/api/v1/search?q=&limit=50", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, body.TotalHits)
	assert.Len(t, body.Hits, 1)
}

func TestSearchRejectsBadParams(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	for _, q := range []string{"q=a&limit=0", "q=a&limit=x", "q=a&top=-1"} {
		status := getJSON(t, srv.URL+"/api/v1/search?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, status, q)
	}
}

func TestSearchSyntaxError(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body map[string]any
	status := getJSON(t, srv.URL+"/api/v1/search?q=%28pacific", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "(pacific", body["query"])
	assert.Contains(t, body, "position")
}

func TestSearchFacetAndFieldParams(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body searchBody
	status := getJSON(t, srv.URL+"/api/v1/search?q=america&fields=id&facet=offset,time_zone_display_name", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, body.TotalHits)
	// time_zone_display_name is not faceted, so only offset reports counts.
	dims := make([]string, 0, len(body.Facets))
	for _, f := range body.Facets {
		if f.Value > 0 {
			dims = append(dims, f.Dimension)
		}
	}
	assert.Equal(t, []string{"offset"}, dims)
}

func TestSearchWithoutGeneration(t *testing.T) {
	srv, _ := newServer(t, Options{}, false)

	status := getJSON(t, srv.URL+"/api/v1/search?q=pacific", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status = getJSON(t, srv.URL+"/api/v1/generation", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestSearchUsesCache(t *testing.T) {
	backend := &memBackend{data: make(map[string]string)}
	tracker := &recordingTracker{}
	srv, _ := newServer(t, Options{
		Cache:   cache.New(backend, time.Minute, nil),
		Tracker: tracker,
	}, true)

	var first, second searchBody
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=pacific", &first))
	// Differently spelled but equivalent query shares the entry.
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=PACIFIC", &second))

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.TotalHits, second.TotalHits)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, []bool{false, true}, tracker.hits)
}

func TestCacheMissAfterNewGeneration(t *testing.T) {
	backend := &memBackend{data: make(map[string]string)}
	srv, sys := newServer(t, Options{Cache: cache.New(backend, time.Minute, nil)}, true)

	var body searchBody
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=pacific", &body))
	_, err := sys.Index(context.Background(), zoneDocs()[:1])
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/search?q=pacific", &body))
	assert.False(t, body.CacheHit)
	assert.Equal(t, 1, body.TotalHits)
}

func TestGeneration(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body map[string]any
	status := getJSON(t, srv.URL+"/api/v1/generation", &body)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["id"])
	assert.EqualValues(t, 4, body["documents"])
	assert.Equal(t, false, body["building"])
}

func TestReindex(t *testing.T) {
	src := &staticSource{docs: zoneDocs()[:2]}
	srv, sys := newServer(t, Options{
		Sources:       map[string]system.Source{"static": src},
		DefaultSource: "static",
	}, true)

	resp, err := http.Post(srv.URL+"/api/v1/reindex", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats, err := sys.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.EqualValues(t, 2, stats.ID)
}

func TestReindexUnknownSource(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	resp, err := http.Post(srv.URL+"/api/v1/reindex?source=nope", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type busySystem struct {
	SearchSystem
}

func (busySystem) Reindex(context.Context, system.Source) (index.Stats, error) {
	return index.Stats{}, &apperrors.WriterBusyError{}
}

func TestReindexWhileBuilding(t *testing.T) {
	mux := http.NewServeMux()
	New(busySystem{}, Options{
		Sources:       map[string]system.Source{"static": &staticSource{}},
		DefaultSource: "static",
	}).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/reindex", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReindexCancelledLoad(t *testing.T) {
	slow := &staticSource{docs: zoneDocs(), gate: make(chan struct{})}
	srv, sys := newServer(t, Options{
		Sources:       map[string]system.Source{"slow": slow},
		DefaultSource: "slow",
	}, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/v1/reindex", nil)
	require.NoError(t, err)
	_, err = http.DefaultClient.Do(req)
	require.Error(t, err)

	assert.Eventually(t, func() bool { return !sys.Building() }, time.Second, 5*time.Millisecond)
	stats, err := sys.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ID)
}

func TestCacheEndpoints(t *testing.T) {
	srv, _ := newServer(t, Options{}, true)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/cache/stats", &body))
	assert.Equal(t, "disabled", body["status"])

	resp, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	backend := &memBackend{data: map[string]string{"search:1:abc": "{}"}}
	srv2, _ := newServer(t, Options{Cache: cache.New(backend, time.Minute, nil)}, true)
	resp, err = http.Post(srv2.URL+"/api/v1/cache/invalidate", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, backend.data)
}

func TestListParam(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, listParam([]string{"a,b", " c ", ""}))
	assert.Nil(t, listParam(nil))
}
