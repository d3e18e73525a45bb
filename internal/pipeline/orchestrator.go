package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe/internal/media"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/scratch"
	"github.com/snarg/scribe/internal/segment"
	"github.com/snarg/scribe/internal/transcribe"
	"github.com/snarg/scribe/internal/transcript"
)

// Options configures one orchestrated run.
type Options struct {
	Backend      transcribe.Backend
	Opts         transcribe.Opts
	Segmentation segment.Options
	Workers      int    // segment workers, capped by the backend's concurrency
	ScratchDir   string // parent directory for the per-run scratch workspace
	Normalizer   *media.Normalizer

	// OnState and OnProgress report pipeline advancement; OnDuration reports
	// the decoded audio length once it is known. All may be nil. OnProgress
	// calls are monotonic in completed count.
	OnState    func(State)
	OnProgress func(completed, total int)
	OnDuration func(seconds float64)

	Log zerolog.Logger
}

// Orchestrator runs the pipeline for one input: normalize, segment, fan
// segments out to backend workers, aggregate in segment order. A failed
// segment aborts the whole run; no partial transcript is ever returned.
type Orchestrator struct {
	opts    Options
	workers int
	log     zerolog.Logger
}

// New validates options against the backend's capabilities and returns an
// orchestrator ready to run.
func New(opts Options) (*Orchestrator, error) {
	if opts.Backend == nil {
		return nil, errors.New("orchestrator: backend required")
	}
	if err := transcribe.ValidateOpts(opts.Backend, opts.Opts); err != nil {
		return nil, err
	}
	if opts.Normalizer == nil {
		opts.Normalizer = media.NewNormalizer("", opts.Log)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	if limit := opts.Backend.Capabilities().Concurrency; limit > 0 && workers > limit {
		workers = limit
	}

	return &Orchestrator{
		opts:    opts,
		workers: workers,
		log:     opts.Log.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// RunBytes decodes raw media bytes to canonical audio, then runs the
// pipeline. hint is the original filename, used to help the decoder.
func (o *Orchestrator) RunBytes(ctx context.Context, raw []byte, hint string) (*transcript.Transcript, error) {
	o.state(StateNormalizing)
	buf, err := o.opts.Normalizer.Normalize(ctx, raw, hint)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, buf)
}

// Run transcribes already-canonical audio: segment, transcribe each segment,
// aggregate into an ordered transcript.
func (o *Orchestrator) Run(ctx context.Context, buf *media.AudioBuffer) (*transcript.Transcript, error) {
	start := time.Now()

	if o.opts.OnDuration != nil {
		o.opts.OnDuration(buf.Duration())
	}

	o.state(StateSegmenting)
	segs := segment.Split(buf, o.opts.Segmentation)
	if len(segs) == 0 {
		return nil, errors.New("segmentation produced no segments")
	}
	o.log.Debug().
		Int("segments", len(segs)).
		Float64("duration_sec", buf.Duration()).
		Msg("audio segmented")

	ws, err := scratch.New(o.opts.ScratchDir, o.log)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	o.state(StateTranscribing)
	o.progress(0, len(segs))

	units, detected, err := o.transcribeAll(ctx, ws, buf, segs)
	if err != nil {
		return nil, err
	}

	o.state(StateAggregating)
	t := transcript.Assemble(units, transcript.Meta{
		Language: o.language(detected),
		Backend:  o.opts.Backend.Name(),
		Duration: buf.Duration(),
		Elapsed:  time.Since(start),
	})

	o.log.Info().
		Int("segments", len(segs)).
		Int("words", t.WordCount()).
		Dur("elapsed", t.Elapsed).
		Msg("run complete")
	return t, nil
}

// transcribeAll fans segments out to a worker pool. Results land in an
// index-addressed slice so arrival order never matters. The first failure
// cancels the pool and wins; later failures are dropped.
func (o *Orchestrator) transcribeAll(parent context.Context, ws *scratch.Workspace, buf *media.AudioBuffer, segs []segment.Segment) ([]transcript.Unit, []string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := o.workers
	if workers > len(segs) {
		workers = len(segs)
	}

	var (
		jobs     = make(chan segment.Segment)
		units    = make([]transcript.Unit, len(segs))
		detected = make([]string, len(segs))

		wg        sync.WaitGroup
		completed atomic.Int64
		reportMu  sync.Mutex

		errOnce sync.Once
		runErr  error
	)

	fail := func(err error) {
		errOnce.Do(func() {
			runErr = err
			cancel()
		})
	}
	report := func() {
		reportMu.Lock()
		defer reportMu.Unlock()
		o.progress(int(completed.Load()), len(segs))
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := o.log.With().Int("worker", id).Logger()
			for seg := range jobs {
				if ctx.Err() != nil {
					continue
				}
				unit, lang, err := o.transcribeSegment(ctx, log, ws, buf, seg)
				if err != nil {
					fail(err)
					continue
				}
				units[seg.Index] = unit
				detected[seg.Index] = lang
				completed.Add(1)
				report()
			}
		}(i)
	}

	for _, seg := range segs {
		select {
		case jobs <- seg:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if runErr != nil {
		return nil, nil, runErr
	}
	if err := parent.Err(); err != nil {
		return nil, nil, err
	}
	return units, detected, nil
}

// transcribeSegment extracts one segment to a scratch WAV, sends it to the
// backend, and builds its unit. The scratch file is removed as soon as the
// backend answers, keeping peak disk usage bounded by the worker count.
func (o *Orchestrator) transcribeSegment(ctx context.Context, log zerolog.Logger, ws *scratch.Workspace, buf *media.AudioBuffer, seg segment.Segment) (transcript.Unit, string, error) {
	start := time.Now()

	name := fmt.Sprintf("segment-%04d.wav", seg.Index)
	data, err := media.EncodeWAVBytes(buf.Slice(seg.Start, seg.End), buf.Rate)
	if err != nil {
		return transcript.Unit{}, "", fmt.Errorf("encode segment %d: %w", seg.Index, err)
	}
	path, err := ws.WriteFile(name, data)
	if err != nil {
		return transcript.Unit{}, "", fmt.Errorf("write segment %d: %w", seg.Index, err)
	}
	defer ws.Remove(name)

	res, err := o.opts.Backend.Transcribe(ctx, path, o.opts.Opts)
	if err != nil {
		return transcript.Unit{}, "", fmt.Errorf("segment %d: %w", seg.Index, err)
	}

	text := strings.TrimSpace(res.Text)
	unit := transcript.Unit{
		Index:      seg.Index,
		Start:      seg.Start,
		End:        seg.End,
		Text:       text,
		NoSpeech:   res.NoSpeech || text == "",
		Confidence: res.Confidence,
	}
	if unit.NoSpeech {
		unit.Text = ""
	}

	metrics.ObserveSegment(o.opts.Backend.Name(), time.Since(start), unit.NoSpeech)
	log.Debug().
		Int("segment", seg.Index).
		Float64("start_sec", seg.Start).
		Float64("end_sec", seg.End).
		Bool("no_speech", unit.NoSpeech).
		Dur("elapsed", time.Since(start)).
		Msg("segment transcribed")
	return unit, res.Language, nil
}

// language picks the transcript language: the explicit request when one was
// made, otherwise the first language any segment detected, in segment order.
func (o *Orchestrator) language(detected []string) string {
	if o.opts.Opts.Language != "" && o.opts.Opts.Language != transcribe.LanguageAuto {
		return o.opts.Opts.Language
	}
	for _, lang := range detected {
		if lang != "" {
			return lang
		}
	}
	return ""
}

func (o *Orchestrator) state(s State) {
	if o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

func (o *Orchestrator) progress(completed, total int) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(completed, total)
	}
}
