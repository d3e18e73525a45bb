package pipeline

import (
	"sort"
	"sync"
)

// Registry tracks runs for API lookup. It holds at most maxRuns entries;
// when full, the oldest terminal run is evicted. Active runs are never
// evicted, so the registry can exceed its bound while load is high.
type Registry struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	maxRuns int
}

// NewRegistry creates a registry bounded to maxRuns entries.
func NewRegistry(maxRuns int) *Registry {
	if maxRuns < 1 {
		maxRuns = 100
	}
	return &Registry{
		runs:    make(map[string]*Run),
		maxRuns: maxRuns,
	}
}

// Add registers a run, evicting the oldest terminal run if at capacity.
func (g *Registry) Add(r *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.runs) >= g.maxRuns {
		g.evictOldestTerminal()
	}
	g.runs[r.ID] = r
}

// Get returns the run with the given ID, or false.
func (g *Registry) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

// Remove drops a run from the registry. It reports whether the run was
// tracked.
func (g *Registry) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.runs[id]
	delete(g.runs, id)
	return ok
}

// List returns snapshots of all tracked runs, newest first.
func (g *Registry) List() []Snapshot {
	g.mu.RLock()
	snaps := make([]Snapshot, 0, len(g.runs))
	for _, r := range g.runs {
		snaps = append(snaps, r.Snapshot())
	}
	g.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// evictOldestTerminal removes the terminal run with the earliest creation
// time. Caller holds the lock.
func (g *Registry) evictOldestTerminal() {
	var oldest *Run
	for _, r := range g.runs {
		if !r.State().Terminal() {
			continue
		}
		if oldest == nil || r.CreatedAt().Before(oldest.CreatedAt()) {
			oldest = r
		}
	}
	if oldest != nil {
		delete(g.runs, oldest.ID)
	}
}

// ActiveRuns counts runs not yet in a terminal state.
func (g *Registry) ActiveRuns() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, r := range g.runs {
		if !r.State().Terminal() {
			n++
		}
	}
	return n
}

// TrackedRuns counts all runs held by the registry.
func (g *Registry) TrackedRuns() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runs)
}

// SubscriberCount totals SSE subscribers across all run hubs.
func (g *Registry) SubscriberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, r := range g.runs {
		n += r.Events.Subscribers()
	}
	return n
}
