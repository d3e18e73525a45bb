package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/scribe/internal/pipeline"
)

// AdminHandler exposes destructive run management. Its routes are mounted
// behind RequireAuth, so they are unreachable on deployments without an
// auth token.
type AdminHandler struct {
	engine *pipeline.Engine
}

func NewAdminHandler(engine *pipeline.Engine) *AdminHandler {
	return &AdminHandler{engine: engine}
}

// DeleteTranscription cancels the run if it is still executing and drops it
// from the registry. Open event streams end when the cancellation lands.
func (h *AdminHandler) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := h.engine.Run(id); !ok {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}

	canceled := h.engine.CancelRun(id)
	h.engine.RemoveRun(id)

	hlog.FromRequest(r).Info().
		Str("run_id", id).
		Bool("canceled", canceled).
		Msg("run deleted")

	WriteJSON(w, http.StatusOK, map[string]any{
		"run_id":   id,
		"canceled": canceled,
	})
}

// Routes registers admin routes on the given router.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Delete("/transcriptions/{id}", h.DeleteTranscription)
}
