// Package media decodes uploaded audio into the canonical waveform used by
// the rest of the pipeline: signed 16-bit PCM, mono, 16 kHz.
package media

import (
	"math"
)

// SampleRate is the canonical sample rate. Every AudioBuffer produced by this
// package carries samples at this rate, regardless of the source container.
const SampleRate = 16000

// fullScale is the reference amplitude for dBFS math (16-bit signed PCM).
const fullScale = 32768.0

// AudioBuffer is a decoded mono waveform.
type AudioBuffer struct {
	Samples []int16
	Rate    int
}

// Duration returns the buffer length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b.Rate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.Rate)
}

// DBFS returns the RMS loudness of the whole buffer relative to full scale.
// Digital silence returns -Inf.
func (b *AudioBuffer) DBFS() float64 {
	return dbfs(b.Samples)
}

// Slice returns the samples covering [start, end) seconds, clamped to the
// buffer bounds. The returned slice aliases the buffer.
func (b *AudioBuffer) Slice(start, end float64) []int16 {
	lo := int(math.Round(start * float64(b.Rate)))
	hi := int(math.Round(end * float64(b.Rate)))
	if lo < 0 {
		lo = 0
	}
	if hi > len(b.Samples) {
		hi = len(b.Samples)
	}
	if lo >= hi {
		return nil
	}
	return b.Samples[lo:hi]
}

// dbfs computes RMS loudness in dB relative to full scale.
func dbfs(samples []int16) float64 {
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
	return 20 * math.Log10(rms/fullScale)
}

// downmix averages interleaved multi-channel PCM into mono.
func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resample converts PCM between sample rates by nearest-sample selection.
// Only the raw-waveform fallback path reaches this; the ffmpeg path already
// produces audio at the target rate.
func resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		src := int(int64(i) * int64(from) / int64(to))
		if src >= len(samples) {
			src = len(samples) - 1
		}
		out[i] = samples[src]
	}
	return out
}
