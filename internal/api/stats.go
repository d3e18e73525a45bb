package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/scribe/internal/pipeline"
)

type StatsHandler struct {
	engine    *pipeline.Engine
	startTime time.Time
}

func NewStatsHandler(engine *pipeline.Engine, startTime time.Time) *StatsHandler {
	return &StatsHandler{engine: engine, startTime: startTime}
}

// GetStats returns overall engine statistics: run counts by state and
// backend, plus live gauges.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	byState := make(map[string]int)
	byBackend := make(map[string]int)
	for _, s := range h.engine.Runs() {
		byState[string(s.Progress.State)]++
		byBackend[s.Backend]++
	}

	reg := h.engine.Stats()
	WriteJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":    int64(time.Since(h.startTime).Seconds()),
		"active_runs":       reg.ActiveRuns(),
		"tracked_runs":      reg.TrackedRuns(),
		"event_subscribers": reg.SubscriberCount(),
		"runs_by_state":     byState,
		"runs_by_backend":   byBackend,
	})
}

// Routes registers stats routes on the given router.
func (h *StatsHandler) Routes(r chi.Router) {
	r.Get("/stats", h.GetStats)
}
