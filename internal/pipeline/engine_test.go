package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/media"
	"github.com/snarg/scribe/internal/segment"
	"github.com/snarg/scribe/internal/transcribe"
)

func newTestEngine(t *testing.T, backends ...transcribe.Backend) *Engine {
	t.Helper()
	e, err := NewEngine(EngineOptions{
		Backends:     backends,
		Normalizer:   media.NewNormalizer("scribe-test-missing-ffmpeg", zerolog.Nop()),
		Segmentation: segment.Options{Strategy: segment.StrategyFixed, ChunkLength: 2 * time.Second},
		Workers:      2,
		ScratchDir:   t.TempDir(),
		Log:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// wavUpload builds a canonical WAV payload of the given length, the only
// container the pipeline decodes without ffmpeg.
func wavUpload(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * media.SampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 1000
	}
	data, err := media.EncodeWAVBytes(samples, media.SampleRate)
	if err != nil {
		t.Fatalf("encode upload: %v", err)
	}
	return data
}

// waitTerminal blocks until the run's event stream closes, which happens
// only on completion or failure.
func waitTerminal(t *testing.T, run *Run) {
	t.Helper()
	events, cancel := run.Events.Subscribe()
	defer cancel()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("run %s did not reach a terminal state (state %s)", run.ID, run.State())
		}
	}
}

func TestEngineRunCompletes(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	defer e.Shutdown(context.Background())

	run, err := e.StartRun(RunParams{
		Filename: "meeting.wav",
		Data:     wavUpload(t, 6),
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitTerminal(t, run)

	if got := run.State(); got != StateDone {
		t.Fatalf("state = %s, want %s", got, StateDone)
	}
	tr := run.Transcript()
	if tr == nil {
		t.Fatal("done run has no transcript")
	}
	if got, want := tr.Text, "chunk 0 chunk 1 chunk 2"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}

	snap := run.Snapshot()
	if snap.Result == nil {
		t.Fatal("snapshot of done run has no result summary")
	}
	if snap.Result.Units != 3 {
		t.Errorf("summary units = %d, want 3", snap.Result.Units)
	}
	if snap.Result.Words != 6 {
		t.Errorf("summary words = %d, want 6", snap.Result.Words)
	}
	if snap.Result.DurationSec != 6 {
		t.Errorf("summary duration = %v, want 6", snap.Result.DurationSec)
	}
	if snap.Media.DurationSec != 6 {
		t.Errorf("media duration = %v, want 6", snap.Media.DurationSec)
	}
	if snap.Progress.Fraction != 1 {
		t.Errorf("fraction = %v, want 1", snap.Progress.Fraction)
	}
	if snap.Backend != "fake" {
		t.Errorf("backend = %q, want fake", snap.Backend)
	}
	if snap.Language != "en-US" {
		t.Errorf("language = %q, want engine default en-US", snap.Language)
	}
}

func TestEngineStartRunValidation(t *testing.T) {
	google := &fakeBackend{name: "google", caps: transcribe.Capabilities{Concurrency: 2}}
	e := newTestEngine(t, google)
	defer e.Shutdown(context.Background())

	cases := []struct {
		name   string
		params RunParams
	}{
		{"empty upload", RunParams{}},
		{"unknown backend", RunParams{Backend: "nope", Data: wavUpload(t, 1)}},
		{"auto without detection support", RunParams{Language: "auto", Data: wavUpload(t, 1)}},
		{"translate without support", RunParams{Task: "translate", Data: wavUpload(t, 1)}},
		{"bad language tag", RunParams{Language: "english please", Data: wavUpload(t, 1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.StartRun(tc.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if n := e.Stats().TrackedRuns(); n != 0 {
		t.Errorf("rejected requests should not register runs, tracked = %d", n)
	}
}

func TestEngineDecodeFailure(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	defer e.Shutdown(context.Background())

	run, err := e.StartRun(RunParams{
		Filename: "notes.mp3",
		Data:     []byte("definitely not audio"),
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitTerminal(t, run)

	snap := run.Snapshot()
	if snap.Progress.State != StateFailed {
		t.Fatalf("state = %s, want %s", snap.Progress.State, StateFailed)
	}
	if snap.FailStage != StageDecode {
		t.Errorf("stage = %q, want %q", snap.FailStage, StageDecode)
	}
	if snap.Error == "" {
		t.Error("failed snapshot should carry the error message")
	}
	if run.Transcript() != nil {
		t.Error("failed run must not expose a transcript")
	}
}

func TestEngineBackendFailure(t *testing.T) {
	fake := newFakeBackend()
	fake.result = func(index int) (*transcribe.Result, error) {
		if index == 1 {
			return nil, &transcribe.UnavailableError{Backend: "fake", Err: fmt.Errorf("HTTP 503")}
		}
		return &transcribe.Result{Text: "ok"}, nil
	}

	e := newTestEngine(t, fake)
	defer e.Shutdown(context.Background())

	run, err := e.StartRun(RunParams{Filename: "a.wav", Data: wavUpload(t, 6)})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitTerminal(t, run)

	snap := run.Snapshot()
	if snap.Progress.State != StateFailed {
		t.Fatalf("state = %s, want %s", snap.Progress.State, StateFailed)
	}
	if snap.FailStage != StageBackend {
		t.Errorf("stage = %q, want %q", snap.FailStage, StageBackend)
	}
}

func TestEngineRunLookup(t *testing.T) {
	e := newTestEngine(t, newFakeBackend())
	defer e.Shutdown(context.Background())

	run, err := e.StartRun(RunParams{Filename: "a.wav", Data: wavUpload(t, 2)})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitTerminal(t, run)

	got, ok := e.Run(run.ID)
	if !ok || got.ID != run.ID {
		t.Errorf("Run(%q) = %v, %v", run.ID, got, ok)
	}
	if _, ok := e.Run("missing"); ok {
		t.Error("lookup of unknown id should fail")
	}
	if runs := e.Runs(); len(runs) != 1 {
		t.Errorf("Runs() = %d entries, want 1", len(runs))
	}
}

func TestEngineBackendInfos(t *testing.T) {
	google := &fakeBackend{name: "google", caps: transcribe.Capabilities{Concurrency: 2}}
	whisper := &fakeBackend{name: "whisper", caps: transcribe.Capabilities{AutoDetect: true, Translate: true, Concurrency: 1}}

	e, err := NewEngine(EngineOptions{
		Backends:       []transcribe.Backend{whisper, google},
		DefaultBackend: "whisper",
		Log:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Shutdown(context.Background())

	infos := e.BackendInfos()
	if len(infos) != 2 {
		t.Fatalf("infos = %d, want 2", len(infos))
	}
	// Sorted by name.
	if infos[0].Name != "google" || infos[1].Name != "whisper" {
		t.Errorf("names = %q, %q", infos[0].Name, infos[1].Name)
	}
	if infos[0].Default || !infos[1].Default {
		t.Error("default flag should mark whisper only")
	}
	if !infos[1].Capabilities.Translate {
		t.Error("whisper capabilities should advertise translate")
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(EngineOptions{Log: zerolog.Nop()}); err == nil {
		t.Error("no backends should be rejected")
	}

	b := newFakeBackend()
	if _, err := NewEngine(EngineOptions{
		Backends:       []transcribe.Backend{b},
		DefaultBackend: "missing",
		Log:            zerolog.Nop(),
	}); err == nil {
		t.Error("unconfigured default backend should be rejected")
	}

	if _, err := NewEngine(EngineOptions{
		Backends: []transcribe.Backend{b, newFakeBackend()},
		Log:      zerolog.Nop(),
	}); err == nil {
		t.Error("duplicate backend names should be rejected")
	}
}

func TestEngineShutdownCancelsActiveRuns(t *testing.T) {
	fake := newFakeBackend()
	fake.delay = func(index int) time.Duration { return 10 * time.Second }

	e := newTestEngine(t, fake)

	run, err := e.StartRun(RunParams{Filename: "slow.wav", Data: wavUpload(t, 6)})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := run.State(); got != StateFailed {
		t.Errorf("state after shutdown = %s, want %s", got, StateFailed)
	}
	if _, err := e.StartRun(RunParams{Data: wavUpload(t, 1)}); err == nil {
		t.Error("StartRun after shutdown should fail")
	}
}
