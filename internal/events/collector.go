package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
)

// Publisher sends one event. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers events and publishes them from one goroutine so the
// search and build paths never wait on the broker.
type Collector struct {
	publisher Publisher
	metrics   *metrics.Metrics
	eventCh   chan Event
	logger    *slog.Logger
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewCollector creates a Collector. m may be nil.
func NewCollector(publisher Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		metrics:   m,
		eventCh:   make(chan Event, bufferSize),
		logger:    slog.Default().With("component", "event-collector"),
		done:      make(chan struct{}),
	}
}

// Start runs the publish loop until Close is called or ctx ends. Events
// still buffered when ctx ends are published with a fresh context.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, ev)
			case <-ctx.Done():
				c.drain()
				return
			}
		}
	}()
	c.logger.Info("event collector started", "buffer_size", cap(c.eventCh))
}

// Track queues ev, dropping it when the buffer is full or the collector is
// closed.
func (c *Collector) Track(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- ev:
	default:
		if c.metrics != nil {
			c.metrics.EventsDroppedTotal.Inc()
		}
		c.logger.Warn("event dropped (buffer full)", "type", ev.EventType())
	}
}

// OnCommit tracks a GenerationEvent; it has the system.CommitFunc shape.
func (c *Collector) OnCommit(_ context.Context, stats index.Stats) {
	c.Track(NewGenerationEvent(stats))
}

func (c *Collector) TrackSearch(res *search.Result, latency time.Duration, cacheHit bool, requestID string) {
	c.Track(NewSearchEvent(res, latency, cacheHit, requestID))
}

// Close stops accepting events and waits for the buffer to be published.
// Start must have been called.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, ev Event) {
	err := c.publisher.Publish(ctx, ToKafka(ev))
	if err != nil {
		c.logger.Error("failed to publish event", "type", ev.EventType(), "error", err)
	}
}

func (c *Collector) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, ev)
		default:
			return
		}
	}
}
