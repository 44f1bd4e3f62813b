// Package events publishes generation and search activity to Kafka and
// turns reindex requests from Kafka into builds.
package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/kafka"
)

type EventType string

const (
	EventGenerationCommitted EventType = "generation.committed"
	EventSearch              EventType = "search"
	EventZeroResult          EventType = "zero_result"
	EventReindexRequested    EventType = "reindex.requested"
)

// Event is anything the collector can publish.
type Event interface {
	EventKey() string
	EventType() EventType
}

// ToKafka wraps ev for a kafka.Producer, keyed and typed by the event.
func ToKafka(ev Event) kafka.Event {
	return kafka.Event{Key: ev.EventKey(), Type: string(ev.EventType()), Value: ev}
}

type GenerationEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
	Analyzer   string    `json:"analyzer"`
	Documents  int       `json:"documents"`
	Terms      int       `json:"terms"`
	Dimensions []string  `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewGenerationEvent(stats index.Stats) GenerationEvent {
	return GenerationEvent{
		ID:         uuid.NewString(),
		Type:       EventGenerationCommitted,
		Generation: stats.ID,
		Analyzer:   stats.Analyzer,
		Documents:  stats.Documents,
		Terms:      stats.Terms,
		Dimensions: stats.Dimensions,
		CreatedAt:  stats.CreatedAt,
		Timestamp:  time.Now().UTC(),
	}
}

func (e GenerationEvent) EventKey() string     { return "generation-" + strconv.FormatUint(e.Generation, 10) }
func (e GenerationEvent) EventType() EventType { return e.Type }

type SearchEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Generation uint64    `json:"generation"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSearchEvent describes a completed search. Searches without hits are
// typed EventZeroResult.
func NewSearchEvent(res *search.Result, latency time.Duration, cacheHit bool, requestID string) SearchEvent {
	typ := EventSearch
	if res.TotalHits == 0 {
		typ = EventZeroResult
	}
	return SearchEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		Query:      res.Query,
		Generation: res.Generation,
		TotalHits:  res.TotalHits,
		Returned:   len(res.Hits),
		LatencyMs:  latency.Milliseconds(),
		CacheHit:   cacheHit,
		RequestID:  requestID,
		Timestamp:  time.Now().UTC(),
	}
}

func (e SearchEvent) EventKey() string     { return e.Query }
func (e SearchEvent) EventType() EventType { return e.Type }

// ReindexRequest asks a service to rebuild its generation from a named
// source. An empty Source means the service default.
type ReindexRequest struct {
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReindexRequest(source string) ReindexRequest {
	return ReindexRequest{ID: uuid.NewString(), Source: source, Timestamp: time.Now().UTC()}
}

func (e ReindexRequest) EventKey() string     { return e.ID }
func (e ReindexRequest) EventType() EventType { return EventReindexRequested }
