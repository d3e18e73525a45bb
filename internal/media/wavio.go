package media

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV parses a RIFF/WAVE stream and canonicalizes it: multi-channel
// audio is downmixed, off-rate audio is resampled, and samples are scaled to
// 16-bit.
func DecodeWAV(r io.ReadSeeker) (*AudioBuffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a riff/wave stream")
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav stream missing format info")
	}

	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}

	samples := pcmToInt16(pcm.Data, depth)
	samples = downmix(samples, pcm.Format.NumChannels)
	samples = resample(samples, pcm.Format.SampleRate, SampleRate)

	return &AudioBuffer{Samples: samples, Rate: SampleRate}, nil
}

// ReadWAVFile decodes a WAV file from disk.
func ReadWAVFile(path string) (*AudioBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// EncodeWAVBytes serializes mono 16-bit PCM as a complete WAV file in memory.
func EncodeWAVBytes(samples []int16, rate int) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	var mem seekBuffer
	enc := wav.NewEncoder(&mem, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return mem.data, nil
}

// WriteWAVFile writes mono 16-bit PCM to path as a WAV file.
func WriteWAVFile(path string, samples []int16, rate int) error {
	data, err := EncodeWAVBytes(samples, rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which seeks
// back to patch RIFF sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid seek whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position %d", abs)
	}
	b.pos = int(abs)
	return abs, nil
}

// pcmToInt16 rescales decoded PCM samples from their source bit depth to 16-bit.
func pcmToInt16(data []int, bitDepth int) []int16 {
	out := make([]int16, len(data))
	switch {
	case bitDepth == 16 || bitDepth == 0:
		for i, v := range data {
			out[i] = int16(v)
		}
	case bitDepth == 8:
		// 8-bit WAV is unsigned, centered at 128.
		for i, v := range data {
			out[i] = int16((v - 128) << 8)
		}
	case bitDepth < 16:
		shift := uint(16 - bitDepth)
		for i, v := range data {
			out[i] = int16(v << shift)
		}
	default:
		shift := uint(bitDepth - 16)
		for i, v := range data {
			out[i] = int16(v >> shift)
		}
	}
	return out
}
