package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/pipeline"
	"github.com/snarg/scribe/internal/transcript"
)

// emptyResultHint accompanies finished transcripts that contain segments the
// backend could not understand.
const emptyResultHint = "some segments produced no recognizable speech; " +
	"try another backend, a different chunk length, or cleaner audio"

type TranscriptionsHandler struct {
	engine    *pipeline.Engine
	maxUpload int64
	log       zerolog.Logger
}

func NewTranscriptionsHandler(engine *pipeline.Engine, maxUpload int64, log zerolog.Logger) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		engine:    engine,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "transcriptions").Logger(),
	}
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/{id}", h.Get)
	r.Get("/transcriptions/{id}/text", h.GetText)
	r.Get("/transcriptions/{id}/timestamped", h.GetTimestamped)
	r.Get("/transcriptions/{id}/srt", h.GetSRT)
}

// Create accepts a media upload and starts a transcription run.
// The multipart form carries the audio file plus optional backend, language,
// task, and chunk_length fields.
func (h *TranscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", h.maxUpload))
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "audio file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	mtype := mimetype.Detect(data)
	if !allowedMedia(mtype) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType,
			"upload does not look like audio or video", mtype.String())
		return
	}

	params := pipeline.RunParams{
		Backend:     r.FormValue("backend"),
		Language:    r.FormValue("language"),
		Task:        r.FormValue("task"),
		Filename:    header.Filename,
		ContentType: mtype.String(),
		Data:        data,
	}
	if v := r.FormValue("chunk_length"); v != "" {
		sec, err := strconv.ParseFloat(v, 64)
		if err != nil || sec <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid chunk_length: want seconds > 0")
			return
		}
		params.ChunkLength = time.Duration(sec * float64(time.Second))
	}

	run, err := h.engine.StartRun(params)
	if err != nil {
		if errors.Is(err, pipeline.ErrShuttingDown) {
			WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := run.Snapshot()
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"run_id": run.ID,
		"state":  snap.Progress.State,
		"media":  snap.Media,
	})
}

// runResponse is a run snapshot plus, once done, the full transcript.
type runResponse struct {
	pipeline.Snapshot
	Transcript *transcript.Transcript `json:"transcript,omitempty"`
	Hint       string                 `json:"hint,omitempty"`
}

// Get returns the current snapshot of a run, including the assembled
// transcript once the run is done.
func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := runResponse{Snapshot: run.Snapshot()}
	if t := run.Transcript(); t != nil {
		resp.Transcript = t
		if resp.Result != nil && resp.Result.EmptyUnits > 0 {
			resp.Hint = emptyResultHint
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// List returns snapshots of tracked runs, newest first.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	runs := h.engine.Runs()
	if limit, ok := QueryInt(r, "limit"); ok && limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetText serves the plain transcript.
func (h *TranscriptionsHandler) GetText(w http.ResponseWriter, r *http.Request) {
	h.artifact(w, r, func(t *transcript.Transcript) (string, string) {
		return t.Plain(), "text/plain; charset=utf-8"
	})
}

// GetTimestamped serves the per-segment timestamped listing.
func (h *TranscriptionsHandler) GetTimestamped(w http.ResponseWriter, r *http.Request) {
	h.artifact(w, r, func(t *transcript.Transcript) (string, string) {
		return t.Timestamped(), "text/plain; charset=utf-8"
	})
}

// GetSRT serves SubRip captions as a download.
func (h *TranscriptionsHandler) GetSRT(w http.ResponseWriter, r *http.Request) {
	run, ok := h.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	t, ok := h.finished(w, run)
	if !ok {
		return
	}

	name := artifactBase(run.Snapshot().Media.Filename, run.ID) + ".srt"
	w.Header().Set("Content-Type", "application/x-subrip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, t.SRT())
}

func (h *TranscriptionsHandler) artifact(w http.ResponseWriter, r *http.Request, render func(*transcript.Transcript) (string, string)) {
	run, ok := h.engine.Run(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	t, ok := h.finished(w, run)
	if !ok {
		return
	}

	body, contentType := render(t)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

// finished fetches the run's transcript, writing a conflict response when
// the run has not completed.
func (h *TranscriptionsHandler) finished(w http.ResponseWriter, run *pipeline.Run) (*transcript.Transcript, bool) {
	snap := run.Snapshot()
	switch snap.Progress.State {
	case pipeline.StateDone:
		return run.Transcript(), true
	case pipeline.StateFailed:
		WriteErrorDetail(w, http.StatusConflict, "run failed",
			fmt.Sprintf("%s: %s", snap.FailStage, snap.Error))
		return nil, false
	default:
		WriteErrorDetail(w, http.StatusConflict, "transcript not ready",
			string(snap.Progress.State))
		return nil, false
	}
}

// allowedMedia accepts anything that sniffs as audio or video, plus Ogg,
// which mimetype classifies as application/ogg.
func allowedMedia(mtype *mimetype.MIME) bool {
	s := mtype.String()
	return strings.HasPrefix(s, "audio/") ||
		strings.HasPrefix(s, "video/") ||
		mtype.Is("application/ogg")
}

// artifactBase names downloaded artifacts after the uploaded file, falling
// back to the run ID.
func artifactBase(filename, runID string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		return runID
	}
	return base
}
