// Package segment slices a canonical waveform into bounded transcription
// segments, preferring natural silence boundaries and falling back to fixed
// windows when none are found.
package segment

import (
	"math"
	"time"

	"github.com/snarg/scribe/internal/media"
)

// Strategy selects how a buffer is sliced.
type Strategy string

const (
	// StrategyAuto tries silence boundaries and falls back to fixed windows.
	StrategyAuto Strategy = "auto"
	// StrategySilence forces silence-based slicing (still falls back when
	// no usable boundaries exist).
	StrategySilence Strategy = "silence"
	// StrategyFixed slices into contiguous fixed-length windows.
	StrategyFixed Strategy = "fixed"
)

// Defaults for Options zero values.
const (
	DefaultChunkLength     = 30 * time.Second
	DefaultMinSilence      = time.Second
	DefaultKeepSilence     = 500 * time.Millisecond
	DefaultSilenceOffsetDB = 14.0
)

// Bounds for the chunk length accepted from callers.
const (
	MinChunkLength = 10 * time.Second
	MaxChunkLength = 60 * time.Second
)

// frameSamples is the loudness analysis granularity (10 ms at the canonical rate).
const frameSamples = media.SampleRate / 100

// Options controls segmentation. Zero values take the package defaults.
type Options struct {
	Strategy Strategy

	// ChunkLength is the fixed window size, the whole-buffer bypass
	// threshold, and the upper bound on any segment's duration.
	ChunkLength time.Duration

	// MinSilence is the shortest silent run treated as a boundary.
	MinSilence time.Duration

	// SilenceOffsetDB sets the silence threshold relative to the buffer's
	// overall loudness: a frame is silent below (dBFS - offset).
	SilenceOffsetDB float64

	// KeepSilence is the margin of silence retained at segment edges so
	// speech onsets are not clipped.
	KeepSilence time.Duration
}

// DefaultOptions returns the standard segmentation parameters.
func DefaultOptions() Options {
	return Options{
		Strategy:        StrategyAuto,
		ChunkLength:     DefaultChunkLength,
		MinSilence:      DefaultMinSilence,
		SilenceOffsetDB: DefaultSilenceOffsetDB,
		KeepSilence:     DefaultKeepSilence,
	}
}

// ClampChunkLength forces a requested chunk length into the accepted range.
// Zero takes the default.
func ClampChunkLength(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultChunkLength
	}
	if d < MinChunkLength {
		return MinChunkLength
	}
	if d > MaxChunkLength {
		return MaxChunkLength
	}
	return d
}

// Segment is one bounded slice of the source buffer. Start and End are
// seconds from the start of the buffer, half-open.
type Segment struct {
	Index int
	Start float64
	End   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Split slices the buffer per the options. The result is ordered by Start,
// non-overlapping, within buffer bounds, and non-empty for any buffer with
// audible duration. No segment exceeds the chunk length.
func Split(buf *media.AudioBuffer, opts Options) []Segment {
	opts = withDefaults(opts)
	dur := buf.Duration()
	if dur <= 0 {
		return nil
	}

	chunk := opts.ChunkLength.Seconds()

	if opts.Strategy == StrategyFixed {
		return fixedWindows(0, dur, chunk)
	}

	// Short input: one segment, whole buffer.
	if dur <= chunk {
		return []Segment{{Index: 0, Start: 0, End: dur}}
	}

	segs := splitOnSilence(buf, opts)
	if len(segs) < 2 {
		// No usable silence boundaries. Degrade to fixed windows over the
		// whole buffer rather than sending one oversized segment upstream.
		return fixedWindows(0, dur, chunk)
	}
	return capLengths(segs, chunk)
}

func withDefaults(opts Options) Options {
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.ChunkLength <= 0 {
		opts.ChunkLength = DefaultChunkLength
	}
	if opts.MinSilence <= 0 {
		opts.MinSilence = DefaultMinSilence
	}
	if opts.SilenceOffsetDB <= 0 {
		opts.SilenceOffsetDB = DefaultSilenceOffsetDB
	}
	if opts.KeepSilence < 0 {
		opts.KeepSilence = 0
	}
	return opts
}

// splitOnSilence finds maximal silent runs and returns the padded voiced
// spans between them. Silence longer than twice the keep margin is dropped
// from the output entirely.
func splitOnSilence(buf *media.AudioBuffer, opts Options) []Segment {
	dur := buf.Duration()
	threshold := buf.DBFS() - opts.SilenceOffsetDB

	voiced := voicedRanges(buf, threshold, opts.MinSilence.Seconds())
	if len(voiced) == 0 {
		return nil
	}

	// Pad each voiced span with the keep margin, clamped to the buffer.
	keep := opts.KeepSilence.Seconds()
	segs := make([]Segment, 0, len(voiced))
	for _, r := range voiced {
		start := math.Max(0, r[0]-keep)
		end := math.Min(dur, r[1]+keep)
		segs = append(segs, Segment{Start: start, End: end})
	}

	// Padded spans may now overlap inside a short silence; meet in the middle
	// so the boundary stays within the silent run.
	for i := 1; i < len(segs); i++ {
		if segs[i].Start < segs[i-1].End {
			mid := (segs[i-1].End + segs[i].Start) / 2
			segs[i-1].End = mid
			segs[i].Start = mid
		}
	}

	for i := range segs {
		segs[i].Index = i
	}
	return segs
}

// voicedRanges classifies 10 ms frames against the loudness threshold and
// returns the spans between qualifying silent runs, in seconds.
func voicedRanges(buf *media.AudioBuffer, threshold, minSilence float64) [][2]float64 {
	n := len(buf.Samples)
	rate := float64(buf.Rate)

	type run struct{ start, end float64 }
	var silences []run

	runStart := -1
	flush := func(endSample int) {
		if runStart < 0 {
			return
		}
		s := float64(runStart) / rate
		e := float64(endSample) / rate
		if e-s >= minSilence {
			silences = append(silences, run{s, e})
		}
		runStart = -1
	}

	for off := 0; off < n; off += frameSamples {
		hi := off + frameSamples
		if hi > n {
			hi = n
		}
		if frameDBFS(buf.Samples[off:hi]) < threshold {
			if runStart < 0 {
				runStart = off
			}
		} else {
			flush(off)
		}
	}
	flush(n)

	// Invert: voiced spans are everything between qualifying silences.
	total := float64(n) / rate
	var voiced [][2]float64
	cursor := 0.0
	for _, s := range silences {
		if s.start > cursor {
			voiced = append(voiced, [2]float64{cursor, s.start})
		}
		cursor = s.end
	}
	if cursor < total {
		voiced = append(voiced, [2]float64{cursor, total})
	}
	return voiced
}

func frameDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768.0)
}

// capLengths subdivides any segment longer than the chunk length into fixed
// windows in place, then renumbers.
func capLengths(segs []Segment, chunk float64) []Segment {
	const eps = 1e-6
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Duration() <= chunk+eps {
			out = append(out, s)
			continue
		}
		out = append(out, fixedWindows(s.Start, s.End, chunk)...)
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// fixedWindows covers [start, end) with contiguous windows of at most chunk
// seconds. The final window absorbs the remainder.
func fixedWindows(start, end, chunk float64) []Segment {
	span := end - start
	if span <= 0 {
		return nil
	}
	count := int(math.Ceil(span / chunk))
	if count < 1 {
		count = 1
	}
	segs := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		lo := start + float64(i)*chunk
		hi := math.Min(lo+chunk, end)
		segs = append(segs, Segment{Index: i, Start: lo, End: hi})
	}
	return segs
}
