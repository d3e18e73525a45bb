package pipeline

import (
	"sync"
	"time"

	"github.com/snarg/scribe/internal/transcript"
)

// MediaInfo describes the uploaded media as received and after decoding.
type MediaInfo struct {
	Filename    string  `json:"filename,omitempty"`
	SizeBytes   int64   `json:"size_bytes"`
	ContentType string  `json:"content_type,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// ResultSummary is the lightweight view of a finished transcript carried in
// run snapshots. Full artifacts are fetched separately.
type ResultSummary struct {
	DurationSec float64 `json:"duration_sec"`
	Units       int     `json:"units"`
	EmptyUnits  int     `json:"empty_units"`
	Words       int     `json:"words"`
	Language    string  `json:"language,omitempty"`
	ElapsedMS   int64   `json:"elapsed_ms"`
}

// Snapshot is a point-in-time copy of run state, safe to serialize while the
// run keeps moving.
type Snapshot struct {
	ID        string    `json:"id"`
	Backend   string    `json:"backend"`
	Language  string    `json:"language"`
	Task      string    `json:"task"`
	Media     MediaInfo `json:"media"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Result *ResultSummary `json:"result,omitempty"`

	// Failure details, set only in state failed.
	FailStage Stage  `json:"fail_stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Run tracks one transcription request from accept to terminal state. All
// mutation goes through its methods; reads take the same lock via Snapshot.
type Run struct {
	ID      string
	Backend string

	Events *Hub

	mu        sync.RWMutex
	language  string
	task      string
	media     MediaInfo
	progress  Progress
	result    *transcript.Transcript
	failStage Stage
	failErr   error
	createdAt time.Time
	updatedAt time.Time
}

// NewRun creates a run in state pending with its own event hub.
func NewRun(id, backend, language, task string, media MediaInfo) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Backend:   backend,
		Events:    NewHub(256),
		language:  language,
		task:      task,
		media:     media,
		progress:  Progress{State: StatePending},
		createdAt: now,
		updatedAt: now,
	}
}

// SetState moves the run to a non-terminal state and publishes the change.
func (r *Run) SetState(s State) {
	r.mu.Lock()
	r.progress.State = s
	r.updatedAt = time.Now()
	p := r.progress
	r.mu.Unlock()

	r.Events.Publish("state", p)
}

// SetProgress records segment completion counts and publishes the change.
func (r *Run) SetProgress(completed, total int) {
	r.mu.Lock()
	r.progress.Completed = completed
	r.progress.Total = total
	if total > 0 {
		r.progress.Fraction = float64(completed) / float64(total)
	}
	r.updatedAt = time.Now()
	p := r.progress
	r.mu.Unlock()

	r.Events.Publish("progress", p)
}

// SetDuration records the decoded media duration once normalization knows it.
func (r *Run) SetDuration(seconds float64) {
	r.mu.Lock()
	r.media.DurationSec = seconds
	r.updatedAt = time.Now()
	r.mu.Unlock()
}

// Complete moves the run to done, stores the transcript, and closes the
// event stream.
func (r *Run) Complete(t *transcript.Transcript) {
	r.mu.Lock()
	r.progress.State = StateDone
	if r.progress.Total > 0 {
		r.progress.Completed = r.progress.Total
		r.progress.Fraction = 1
	}
	r.result = t
	r.updatedAt = time.Now()
	summary := summarize(t)
	r.mu.Unlock()

	r.Events.Publish("done", summary)
	r.Events.Close()
}

// Fail moves the run to failed with a stage classification and closes the
// event stream.
func (r *Run) Fail(stage Stage, err error) {
	r.mu.Lock()
	r.progress.State = StateFailed
	r.failStage = stage
	r.failErr = err
	r.updatedAt = time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.mu.Unlock()

	r.Events.Publish("failed", map[string]string{
		"stage": string(stage),
		"error": msg,
	})
	r.Events.Close()
}

// Transcript returns the finished transcript, or nil before completion.
func (r *Run) Transcript() *transcript.Transcript {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress.State
}

// CreatedAt returns when the run was accepted.
func (r *Run) CreatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.createdAt
}

// Snapshot copies the run's current state for serialization.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ID:        r.ID,
		Backend:   r.Backend,
		Language:  r.language,
		Task:      r.task,
		Media:     r.media,
		Progress:  r.progress,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	if r.result != nil {
		snap.Result = summarize(r.result)
	}
	if r.progress.State == StateFailed {
		snap.FailStage = r.failStage
		if r.failErr != nil {
			snap.Error = r.failErr.Error()
		}
	}
	return snap
}

func summarize(t *transcript.Transcript) *ResultSummary {
	if t == nil {
		return nil
	}
	empty := 0
	for _, u := range t.Units {
		if u.NoSpeech {
			empty++
		}
	}
	return &ResultSummary{
		DurationSec: t.Duration,
		Units:       len(t.Units),
		EmptyUnits:  empty,
		Words:       t.WordCount(),
		Language:    t.Language,
		ElapsedMS:   t.Elapsed.Milliseconds(),
	}
}
