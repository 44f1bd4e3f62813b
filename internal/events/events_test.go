package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/resilience"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	block  chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, ev kafka.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []kafka.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Event(nil), f.events...)
}

func TestCollectorPublishesTrackedEvents(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 16, nil)
	c.Start(context.Background())

	c.OnCommit(context.Background(), index.Stats{ID: 4, Documents: 12, Analyzer: "standard"})
	c.TrackSearch(&search.Result{Generation: 4, Query: "contents:fish", TotalHits: 2, Hits: make([]search.Hit, 2)}, 3*time.Millisecond, false, "req-1")
	c.TrackSearch(&search.Result{Generation: 4, Query: "contents:cat"}, time.Millisecond, true, "")
	c.Close()

	got := pub.published()
	require.Len(t, got, 3)

	assert.Equal(t, "generation-4", got[0].Key)
	assert.Equal(t, string(EventGenerationCommitted), got[0].Type)
	gen := got[0].Value.(GenerationEvent)
	assert.Equal(t, uint64(4), gen.Generation)
	assert.Equal(t, 12, gen.Documents)
	assert.Len(t, gen.ID, 36)

	assert.Equal(t, string(EventSearch), got[1].Type)
	se := got[1].Value.(SearchEvent)
	assert.Equal(t, 2, se.Returned)
	assert.Equal(t, "req-1", se.RequestID)

	assert.Equal(t, string(EventZeroResult), got[2].Type)
	assert.True(t, got[2].Value.(SearchEvent).CacheHit)
}

func TestCollectorDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pub := &fakePublisher{block: make(chan struct{})}
	c := NewCollector(pub, 1, m)

	c.Track(NewReindexRequest("a"))
	c.Track(NewReindexRequest("b"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal))

	close(pub.block)
	c.Start(context.Background())
	c.Close()
	assert.Len(t, pub.published(), 1)

	c.Track(NewReindexRequest("after close"))
	c.Close()
}

func TestCollectorDrainsOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 8, nil)
	for i := 0; i < 3; i++ {
		c.Track(NewReindexRequest("x"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Start(ctx)
	c.Close()
	assert.Len(t, pub.published(), 3)
}

type fakeReindexer struct {
	busyFor int
	calls   int
	err     error
	sources []string
}

func (f *fakeReindexer) Reindex(_ context.Context, src system.Source) (index.Stats, error) {
	f.calls++
	f.sources = append(f.sources, src.Name())
	if f.calls <= f.busyFor {
		return index.Stats{}, &apperrors.WriterBusyError{}
	}
	if f.err != nil {
		return index.Stats{}, f.err
	}
	return index.Stats{ID: uint64(f.calls), Documents: 1}, nil
}

type namedSource string

func (n namedSource) Name() string { return string(n) }

func (n namedSource) Load(context.Context) ([]document.Document, error) {
	return []document.Document{document.New(document.KeywordField("id", string(n), true))}, nil
}

func reindexMessage(t *testing.T, source string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(NewReindexRequest(source))
	require.NoError(t, err)
	return kafka.Message{Type: string(EventReindexRequested), Value: b}
}

func newHandler(target Reindexer) *ReindexHandler {
	sources := map[string]system.Source{
		"timezones": namedSource("timezones"),
		"lines":     namedSource("lines"),
	}
	return NewReindexHandler(target, "timezones", sources, resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})
}

func TestReindexHandler(t *testing.T) {
	target := &fakeReindexer{}
	h := newHandler(target)

	require.NoError(t, h.Handle(context.Background(), reindexMessage(t, "lines")))
	require.NoError(t, h.Handle(context.Background(), reindexMessage(t, "")))
	assert.Equal(t, []string{"lines", "timezones"}, target.sources)
}

func TestReindexHandlerRetriesBusyWriter(t *testing.T) {
	target := &fakeReindexer{busyFor: 2}
	require.NoError(t, newHandler(target).Handle(context.Background(), reindexMessage(t, "lines")))
	assert.Equal(t, 3, target.calls)
}

func TestReindexHandlerDoesNotRetryOtherErrors(t *testing.T) {
	target := &fakeReindexer{err: &apperrors.IndexingError{Doc: 0, Reason: "bad"}}
	err := newHandler(target).Handle(context.Background(), reindexMessage(t, "lines"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexing)
	assert.Equal(t, 1, target.calls)
}

func TestReindexHandlerRejectsBadMessages(t *testing.T) {
	target := &fakeReindexer{}
	h := newHandler(target)

	err := h.Handle(context.Background(), reindexMessage(t, "ftp"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = h.Handle(context.Background(), kafka.Message{Value: []byte("{")})
	assert.Error(t, err)

	assert.NoError(t, h.Handle(context.Background(), kafka.Message{Type: "search", Value: []byte("{}")}))
	assert.Zero(t, target.calls)
}

func TestReindexAgainstSystem(t *testing.T) {
	sys := system.New(system.Config{DefaultFields: []string{"id"}})
	defer sys.Close()
	require.NoError(t, newHandler(sys).Handle(context.Background(), reindexMessage(t, "lines")))

	res, err := sys.Search(context.Background(), system.Request{Expression: "id:lines"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalHits)
}
