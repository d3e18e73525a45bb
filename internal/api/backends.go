package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/scribe/internal/pipeline"
)

type BackendsHandler struct {
	engine *pipeline.Engine
}

func NewBackendsHandler(engine *pipeline.Engine) *BackendsHandler {
	return &BackendsHandler{engine: engine}
}

func (h *BackendsHandler) Routes(r chi.Router) {
	r.Get("/backends", h.ListBackends)
}

// ListBackends enumerates configured backends with their capability sets so
// clients can pick a language, task, and backend that actually work together.
func (h *BackendsHandler) ListBackends(w http.ResponseWriter, r *http.Request) {
	infos := h.engine.BackendInfos()
	WriteJSON(w, http.StatusOK, map[string]any{
		"backends": infos,
		"default":  h.engine.DefaultBackend(),
		"total":    len(infos),
	})
}
