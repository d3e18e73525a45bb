// Package pipeline orchestrates transcription runs: normalize, segment,
// fan out to a backend, and aggregate ordered results. It also tracks live
// runs for the HTTP API.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/scribe/internal/metrics"
)

// State is a run's position in its lifecycle. Transitions are linear:
// pending, normalizing, segmenting, transcribing, aggregating, then done or
// failed. Failed is reachable from any active state.
type State string

const (
	StatePending      State = "pending"
	StateNormalizing  State = "normalizing"
	StateSegmenting   State = "segmenting"
	StateTranscribing State = "transcribing"
	StateAggregating  State = "aggregating"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Stage classifies where a failed run gave up.
type Stage string

const (
	StageDecode   Stage = "decode"
	StageBackend  Stage = "backend"
	StageInternal Stage = "internal"
)

// Progress is a measured snapshot of run advancement. Completed and Total
// count transcribed segments; Fraction is their ratio and stays 0 until
// segment counts exist. No synthetic progress is ever reported.
type Progress struct {
	State     State   `json:"state"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

// Event is one serialized SSE event. IDs are monotonic per hub so clients
// can resume with Last-Event-ID.
type Event struct {
	ID   string
	Type string
	Data []byte
}

// Hub fans run events out to SSE subscribers. A ring buffer retains recent
// events for replay on reconnect. Slow subscribers lose events rather than
// stalling the pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	seq atomic.Uint64

	ringMu   sync.RWMutex
	ring     []Event
	ringHead int
}

// NewHub creates a hub retaining ringSize events for replay.
func NewHub(ringSize int) *Hub {
	if ringSize < 1 {
		ringSize = 64
	}
	return &Hub{
		subs: make(map[uint64]chan Event),
		ring: make([]Event, ringSize),
	}
}

// Publish serializes payload and delivers it to every subscriber.
// A no-op after Close.
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	event := Event{
		ID:   fmt.Sprintf("%d-%d", time.Now().UnixMilli(), h.seq.Add(1)),
		Type: eventType,
		Data: data,
	}

	h.ringMu.Lock()
	h.ring[h.ringHead] = event
	h.ringHead = (h.ringHead + 1) % len(h.ring)
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	metrics.SSEEventsPublishedTotal.Inc()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. Subscribing to a closed hub returns an already-closed channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 64)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID, oldest
// first. An empty ID replays the whole buffer.
func (h *Hub) ReplaySince(lastEventID string) []Event {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""
	for i := 0; i < len(h.ring); i++ {
		e := h.ring[(h.ringHead+i)%len(h.ring)]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		events = append(events, e)
	}
	return events
}

// Close ends the stream: subscriber channels are closed after any buffered
// events drain, and later Publish calls do nothing. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
