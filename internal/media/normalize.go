package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DecodeError reports that uploaded bytes could not be turned into a
// canonical waveform. It is the terminal failure for the decode stage.
type DecodeError struct {
	Hint string // container hint from the upload (extension or MIME type)
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("decode audio (%s): %v", e.Hint, e.Err)
	}
	return fmt.Sprintf("decode audio: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Normalizer converts uploaded audio of any supported container into the
// canonical mono 16 kHz PCM buffer. Decoding is delegated to ffmpeg; when
// ffmpeg fails or is absent, a last-resort attempt treats the bytes as an
// already-valid WAV stream.
type Normalizer struct {
	ffmpeg string
	log    zerolog.Logger

	checkOnce sync.Once
	available bool
}

// NewNormalizer creates a normalizer using the given ffmpeg binary
// (name or absolute path).
func NewNormalizer(ffmpegPath string, log zerolog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{
		ffmpeg: ffmpegPath,
		log:    log,
	}
}

// Available reports whether the ffmpeg binary can be found. Checked once.
func (n *Normalizer) Available() bool {
	n.checkOnce.Do(func() {
		_, err := exec.LookPath(n.ffmpeg)
		n.available = err == nil
		if !n.available {
			n.log.Warn().Str("ffmpeg", n.ffmpeg).Msg("ffmpeg not found in PATH; only wav input will decode")
		}
	})
	return n.available
}

// Normalize decodes raw uploaded bytes into a canonical AudioBuffer.
// The hint (filename extension or MIME type) is advisory; ffmpeg sniffs the
// container from the bytes themselves.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, hint string) (*AudioBuffer, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Hint: hint, Err: fmt.Errorf("empty input")}
	}

	if n.Available() {
		buf, err := n.ffmpegDecode(ctx, raw, hint)
		if err == nil {
			return buf, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.log.Debug().Err(err).Str("hint", hint).Msg("ffmpeg decode failed, trying raw wav parse")
		if buf, werr := DecodeWAV(bytes.NewReader(raw)); werr == nil {
			return buf, nil
		}
		return nil, &DecodeError{Hint: hint, Err: err}
	}

	buf, err := DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Hint: hint, Err: fmt.Errorf("ffmpeg unavailable and %w", err)}
	}
	return buf, nil
}

// ffmpegDecode round-trips the bytes through ffmpeg to produce mono 16 kHz
// 16-bit WAV. Both temp files are removed before returning.
func (n *Normalizer) ffmpegDecode(ctx context.Context, raw []byte, hint string) (*AudioBuffer, error) {
	in, err := os.CreateTemp("", "scribe-src-*"+hintExt(hint))
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(raw); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close temp input: %w", err)
	}

	outPath := inPath + ".wav"
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, n.ffmpeg,
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-acodec", "pcm_s16le",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := lastLine(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg: %s: %w", msg, err)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	buf, err := ReadWAVFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg output: %w", err)
	}
	return buf, nil
}

// hintExt turns an upload hint (a bare extension or a full filename) into
// an extension for the temp file. ffmpeg does not need it, but it makes
// scratch files identifiable.
func hintExt(hint string) string {
	hint = strings.TrimSpace(strings.ToLower(hint))
	if hint == "" || strings.ContainsAny(hint, "/\\") {
		return ""
	}
	if ext := filepath.Ext(hint); ext != "" {
		return ext
	}
	return "." + hint
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
