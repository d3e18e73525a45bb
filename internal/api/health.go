package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/scratch"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	engine    *pipeline.Engine
	version   string
	startTime time.Time
	log       zerolog.Logger
}

func NewHealthHandler(engine *pipeline.Engine, version string, startTime time.Time, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		version:   version,
		startTime: startTime,
		log:       log.With().Str("handler", "health").Logger(),
	}
}

// ServeHTTP reports service health: scratch writability is load-bearing
// (unhealthy, 503), a missing decoder or unreachable backend degrades but
// keeps serving (wav-only input, or the other backends).
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.engine.Normalizer().Available() {
		checks["ffmpeg"] = "ok"
	} else {
		checks["ffmpeg"] = "missing: only wav input will decode"
		status = "degraded"
	}

	if ws, err := scratch.New(h.engine.ScratchDir(), h.log); err != nil {
		checks["scratch"] = "error: " + err.Error()
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		ws.Close()
		checks["scratch"] = "ok"
	}

	for _, name := range h.engine.BackendNames() {
		b, _ := h.engine.Backend(name)
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := b.Ping(ctx)
		cancel()
		if err != nil {
			checks["backend:"+name] = "unreachable: " + err.Error()
			if status == "healthy" {
				status = "degraded"
			}
			continue
		}
		checks["backend:"+name] = "ok"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
