package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/media"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/segment"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
)

// ErrShuttingDown is returned by StartRun once Shutdown has begun.
var ErrShuttingDown = errors.New("engine shutting down")

// EngineOptions configures the shared pipeline engine.
type EngineOptions struct {
	Backends        []transcribe.Backend
	DefaultBackend  string // empty = first registered
	DefaultLanguage string // empty = "en-US"
	Normalizer      *media.Normalizer
	Segmentation    segment.Options
	Workers         int
	ScratchDir      string
	MaxTrackedRuns  int
	Log             zerolog.Logger
}

// Engine accepts uploads, runs each through the pipeline in a background
// goroutine, and tracks runs for API lookup. One engine serves the whole
// process.
type Engine struct {
	backends        map[string]transcribe.Backend
	defaultBackend  string
	defaultLanguage string
	normalizer      *media.Normalizer
	segOpts         segment.Options
	workers         int
	scratchDir      string
	registry        *Registry
	log             zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// RunParams describes one transcription request. Zero-valued fields fall
// back to engine defaults.
type RunParams struct {
	Backend     string
	Language    string
	Task        string
	ChunkLength time.Duration

	Filename    string
	ContentType string
	Data        []byte
}

// BackendInfo pairs a backend name with its advertised capabilities.
type BackendInfo struct {
	Name         string                  `json:"name"`
	Default      bool                    `json:"default"`
	Capabilities transcribe.Capabilities `json:"capabilities"`
}

// NewEngine validates the backend set and returns a ready engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if len(opts.Backends) == 0 {
		return nil, errors.New("engine: at least one backend required")
	}

	backends := make(map[string]transcribe.Backend, len(opts.Backends))
	for _, b := range opts.Backends {
		name := b.Name()
		if _, dup := backends[name]; dup {
			return nil, fmt.Errorf("engine: duplicate backend %q", name)
		}
		backends[name] = b
	}

	def := opts.DefaultBackend
	if def == "" {
		def = opts.Backends[0].Name()
	}
	if _, ok := backends[def]; !ok {
		return nil, fmt.Errorf("engine: default backend %q not configured", def)
	}

	lang := opts.DefaultLanguage
	if lang == "" {
		lang = "en-US"
	}

	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = media.NewNormalizer("", opts.Log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		backends:        backends,
		defaultBackend:  def,
		defaultLanguage: lang,
		normalizer:      normalizer,
		segOpts:         opts.Segmentation,
		workers:         opts.Workers,
		scratchDir:      opts.ScratchDir,
		registry:        NewRegistry(opts.MaxTrackedRuns),
		log:             opts.Log.With().Str("component", "engine").Logger(),
		ctx:             ctx,
		cancel:          cancel,
		cancels:         make(map[string]context.CancelFunc),
	}, nil
}

// StartRun validates params, registers a run, and starts the pipeline in the
// background. Validation failures are caller errors; nothing is registered
// for them.
func (e *Engine) StartRun(params RunParams) (*Run, error) {
	if e.ctx.Err() != nil {
		return nil, ErrShuttingDown
	}
	if len(params.Data) == 0 {
		return nil, errors.New("empty upload")
	}

	name := params.Backend
	if name == "" {
		name = e.defaultBackend
	}
	backend, ok := e.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(e.BackendNames(), ", "))
	}

	opts := transcribe.Opts{
		Language: params.Language,
		Task:     transcribe.Task(params.Task),
	}
	if opts.Language == "" {
		opts.Language = e.defaultLanguage
	}
	if opts.Task == "" {
		opts.Task = transcribe.TaskTranscribe
	}
	if err := transcribe.ValidateOpts(backend, opts); err != nil {
		return nil, err
	}

	segOpts := e.segOpts
	if params.ChunkLength > 0 {
		segOpts.ChunkLength = segment.ClampChunkLength(params.ChunkLength)
	}

	run := NewRun(uuid.NewString(), name, opts.Language, string(opts.Task), MediaInfo{
		Filename:    params.Filename,
		SizeBytes:   int64(len(params.Data)),
		ContentType: params.ContentType,
	})
	e.registry.Add(run)
	metrics.UploadBytes.Observe(float64(len(params.Data)))

	e.wg.Add(1)
	go e.execute(run, backend, opts, segOpts, params)

	e.log.Info().
		Str("run_id", run.ID).
		Str("backend", name).
		Str("language", opts.Language).
		Str("task", string(opts.Task)).
		Int64("size_bytes", int64(len(params.Data))).
		Str("filename", params.Filename).
		Msg("run accepted")
	return run, nil
}

func (e *Engine) execute(run *Run, backend transcribe.Backend, opts transcribe.Opts, segOpts segment.Options, params RunParams) {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	e.cancelMu.Lock()
	e.cancels[run.ID] = cancel
	e.cancelMu.Unlock()

	log := e.log.With().Str("run_id", run.ID).Logger()
	start := time.Now()

	orch, err := New(Options{
		Backend:      backend,
		Opts:         opts,
		Segmentation: segOpts,
		Workers:      e.workers,
		ScratchDir:   e.scratchDir,
		Normalizer:   e.normalizer,
		OnState:      run.SetState,
		OnProgress:   run.SetProgress,
		OnDuration:   run.SetDuration,
		Log:          log,
	})
	if err != nil {
		e.finish(log, run, start, nil, err)
		return
	}

	t, err := orch.RunBytes(ctx, params.Data, params.Filename)
	e.finish(log, run, start, t, err)
}

// CancelRun aborts an active run; it finishes failed with a canceled
// outcome. Reports whether an active run was found.
func (e *Engine) CancelRun(id string) bool {
	e.cancelMu.Lock()
	cancel, ok := e.cancels[id]
	e.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RemoveRun drops a run from the registry. Active runs keep executing until
// canceled; they just stop being visible.
func (e *Engine) RemoveRun(id string) bool {
	return e.registry.Remove(id)
}

func (e *Engine) finish(log zerolog.Logger, run *Run, start time.Time, t *transcript.Transcript, err error) {
	// Drop the cancel entry before the terminal state is published, so
	// CancelRun never reports true for a run observers already saw finish.
	e.cancelMu.Lock()
	delete(e.cancels, run.ID)
	e.cancelMu.Unlock()

	elapsed := time.Since(start)

	if err == nil {
		run.Complete(t)
		metrics.ObserveRun(run.Backend, metrics.OutcomeCompleted, elapsed)
		log.Info().
			Int("units", len(t.Units)).
			Int("words", t.WordCount()).
			Dur("elapsed", elapsed).
			Msg("run completed")
		return
	}

	stage, outcome := classifyFailure(err)
	run.Fail(stage, err)
	metrics.ObserveRun(run.Backend, outcome, elapsed)
	log.Warn().Err(err).
		Str("stage", string(stage)).
		Dur("elapsed", elapsed).
		Msg("run failed")
}

// FailureStage reports which pipeline stage an error belongs to.
func FailureStage(err error) Stage {
	stage, _ := classifyFailure(err)
	return stage
}

// classifyFailure maps a pipeline error to the failed stage and the metric
// outcome label.
func classifyFailure(err error) (Stage, string) {
	var decodeErr *media.DecodeError
	var unavailable *transcribe.UnavailableError
	switch {
	case errors.As(err, &decodeErr):
		return StageDecode, metrics.OutcomeDecodeFailed
	case errors.As(err, &unavailable):
		return StageBackend, metrics.OutcomeBackendFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StageInternal, metrics.OutcomeCanceled
	default:
		return StageInternal, metrics.OutcomeInternalFailed
	}
}

// Run looks up a tracked run by ID.
func (e *Engine) Run(id string) (*Run, bool) {
	return e.registry.Get(id)
}

// Runs lists snapshots of all tracked runs, newest first.
func (e *Engine) Runs() []Snapshot {
	return e.registry.List()
}

// Backend returns a configured backend by name.
func (e *Engine) Backend(name string) (transcribe.Backend, bool) {
	b, ok := e.backends[name]
	return b, ok
}

// BackendNames returns configured backend names, sorted.
func (e *Engine) BackendNames() []string {
	names := make([]string, 0, len(e.backends))
	for name := range e.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackendInfos describes every configured backend for the API.
func (e *Engine) BackendInfos() []BackendInfo {
	infos := make([]BackendInfo, 0, len(e.backends))
	for _, name := range e.BackendNames() {
		infos = append(infos, BackendInfo{
			Name:         name,
			Default:      name == e.defaultBackend,
			Capabilities: e.backends[name].Capabilities(),
		})
	}
	return infos
}

// DefaultBackend returns the name used when a request names no backend.
func (e *Engine) DefaultBackend() string { return e.defaultBackend }

// Normalizer returns the shared media normalizer.
func (e *Engine) Normalizer() *media.Normalizer { return e.normalizer }

// ScratchDir returns the configured scratch parent directory. Empty means
// the system temp directory.
func (e *Engine) ScratchDir() string { return e.scratchDir }

// Stats implements the metrics collector's engine view.
func (e *Engine) Stats() *Registry { return e.registry }

// Shutdown cancels active runs and waits for their goroutines, bounded by
// ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
