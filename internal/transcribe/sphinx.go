package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SphinxConfig configures the offline recognizer.
type SphinxConfig struct {
	Bin         string // pocketsphinx binary, name or path
	ModelDir    string // optional acoustic model directory (-hmm)
	Timeout     time.Duration
	Concurrency int
}

// SphinxBackend shells out to the pocketsphinx CLI. It needs no network,
// which is the whole point; the trade-off is English-only recognition with
// the stock model.
type SphinxBackend struct {
	cfg SphinxConfig

	lookOnce sync.Once
	path     string
	lookErr  error
}

// NewSphinxBackend creates the offline adapter. The binary is resolved
// lazily so a deployment without pocketsphinx can still start and report
// the backend as unavailable.
func NewSphinxBackend(cfg SphinxConfig) (*SphinxBackend, error) {
	if cfg.Bin == "" {
		cfg.Bin = "pocketsphinx"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &SphinxBackend{cfg: cfg}, nil
}

func (s *SphinxBackend) Name() string { return "sphinx" }

func (s *SphinxBackend) Capabilities() Capabilities {
	return Capabilities{
		AutoDetect:  false,
		Translate:   false,
		Languages:   []string{"en-US"},
		Concurrency: s.cfg.Concurrency,
		Note:        "offline; stock acoustic model is English-only",
	}
}

func (s *SphinxBackend) resolve() (string, error) {
	s.lookOnce.Do(func() {
		s.path, s.lookErr = exec.LookPath(s.cfg.Bin)
	})
	return s.path, s.lookErr
}

// Ping reports whether the pocketsphinx binary is present.
func (s *SphinxBackend) Ping(ctx context.Context) error {
	if _, err := s.resolve(); err != nil {
		return &UnavailableError{Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *SphinxBackend) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Result, error) {
	bin, err := s.resolve()
	if err != nil {
		return nil, &UnavailableError{Backend: s.Name(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	args := []string{}
	if s.cfg.ModelDir != "" {
		args = append(args, "-hmm", s.cfg.ModelDir)
	}
	args = append(args, "single", audioPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := lastNonEmptyLine(stderr.String())
		if msg != "" {
			return nil, &UnavailableError{Backend: s.Name(), Err: fmt.Errorf("%s: %w", msg, err)}
		}
		return nil, &UnavailableError{Backend: s.Name(), Err: err}
	}

	return parseSphinxOutput(stdout.String())
}

// sphinxUtterance is one JSON line from `pocketsphinx single`.
type sphinxUtterance struct {
	Text string  `json:"t"`
	Prob float64 `json:"p"`
}

// parseSphinxOutput joins the hypothesis text of each utterance line. An
// empty hypothesis is the engine's way of saying it understood nothing.
func parseSphinxOutput(out string) (*Result, error) {
	var parts []string
	var probSum float64
	var probCount int

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var utt sphinxUtterance
		if err := json.Unmarshal([]byte(line), &utt); err != nil {
			return nil, &UnavailableError{
				Backend: "sphinx",
				Err:     fmt.Errorf("malformed decoder output: %w", err),
			}
		}
		if t := strings.TrimSpace(utt.Text); t != "" {
			parts = append(parts, t)
			if utt.Prob > 0 {
				probSum += utt.Prob
				probCount++
			}
		}
	}

	if len(parts) == 0 {
		return &Result{NoSpeech: true}, nil
	}

	res := &Result{Text: strings.Join(parts, " ")}
	if probCount > 0 {
		pct := probSum / float64(probCount) * 100
		if pct > 100 {
			pct = 100
		}
		res.Confidence = &pct
	}
	return res, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return t
		}
	}
	return ""
}
