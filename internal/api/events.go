package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/scribe/internal/pipeline"
)

type EventsHandler struct {
	engine *pipeline.Engine
}

func NewEventsHandler(engine *pipeline.Engine) *EventsHandler {
	return &EventsHandler{engine: engine}
}

// Routes registers the run event stream.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/transcriptions/{id}/events", h.StreamRunEvents)
}

// StreamRunEvents opens an SSE connection for one run: state changes,
// per-segment progress, then a final done or failed event, after which the
// stream ends. Fresh connections replay the run's full event ring, so a
// subscriber arriving late still sees the whole story; Last-Event-ID trims
// the replay to events after the one named.
func (h *EventsHandler) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := h.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replay so nothing published in between is lost.
	// Duplicates across the boundary are tolerated; event IDs let clients
	// deduplicate.
	ch, cancel := run.Events.Subscribe()
	defer cancel()

	for _, e := range run.Events.ReplaySince(r.Header.Get("Last-Event-ID")) {
		fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Debug().Str("run_id", run.ID).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("run_id", run.ID).Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				// Run reached a terminal state; its hub is closed.
				return
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
