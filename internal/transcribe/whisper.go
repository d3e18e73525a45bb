package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WhisperModels are the accepted model capacity tiers. Language-specific
// variants ("base.en") and large revisions ("large-v3") are also accepted.
var WhisperModels = []string{"tiny", "base", "small", "medium", "large"}

// WhisperConfig configures the neural adapter.
type WhisperConfig struct {
	URL         string // /v1/audio/transcriptions endpoint of an OpenAI-compatible server
	Model       string
	Timeout     time.Duration
	Concurrency int
}

// WhisperBackend calls an OpenAI-compatible transcription endpoint with
// multipart form uploads and parses the verbose_json response.
type WhisperBackend struct {
	cfg    WhisperConfig
	client *http.Client
}

// NewWhisperBackend creates the neural adapter. The URL is required; the
// model must name a known capacity tier.
func NewWhisperBackend(cfg WhisperConfig) (*WhisperBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whisper url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("whisper url %q is not a valid http(s) url", cfg.URL)
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	if !validWhisperModel(cfg.Model) {
		return nil, fmt.Errorf("unknown whisper model %q (tiers: %s)", cfg.Model, strings.Join(WhisperModels, ", "))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &WhisperBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func validWhisperModel(model string) bool {
	base := strings.TrimSuffix(model, ".en")
	for _, tier := range WhisperModels {
		if base == tier || strings.HasPrefix(base, tier+"-v") {
			return true
		}
	}
	return false
}

func (w *WhisperBackend) Name() string { return "whisper" }

// Model returns the configured model tier.
func (w *WhisperBackend) Model() string { return w.cfg.Model }

func (w *WhisperBackend) Capabilities() Capabilities {
	return Capabilities{
		AutoDetect:  true,
		Translate:   true,
		Concurrency: w.cfg.Concurrency,
		Note:        fmt.Sprintf("model %s; translation targets English", w.cfg.Model),
	}
}

// Ping checks that the server answers HTTP at all. A 404 or 405 from the
// bare endpoint still proves something is listening.
func (w *WhisperBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return &UnavailableError{Backend: w.Name(), Err: err}
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return &UnavailableError{Backend: w.Name(), Err: err}
	}
	resp.Body.Close()
	return nil
}

// whisperSegment is one decoded segment from a verbose_json response.
type whisperSegment struct {
	Text         string  `json:"text"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

func (w *WhisperBackend) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open segment audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	mw.WriteField("model", w.cfg.Model)
	mw.WriteField("response_format", "verbose_json")

	// Omitting language entirely triggers server-side detection.
	if opts.Language != "" && opts.Language != LanguageAuto {
		mw.WriteField("language", ShortLanguage(opts.Language))
	}
	if opts.Task == TaskTranslate {
		mw.WriteField("task", "translate")
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UnavailableError{Backend: w.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Backend: w.Name(), Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{
			Backend: w.Name(),
			Err:     fmt.Errorf("server status %d: %s", resp.StatusCode, firstLine(string(body))),
		}
	}

	var parsed whisperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &UnavailableError{Backend: w.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	res := &Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	if res.Text == "" {
		res.NoSpeech = true
		return res, nil
	}
	if conf := segmentConfidence(parsed.Segments); conf != nil {
		res.Confidence = conf
	}
	return res, nil
}

// segmentConfidence converts the mean average log-probability across
// segments into a percentage: exp(mean) scaled to 0-100.
func segmentConfidence(segs []whisperSegment) *float64 {
	if len(segs) == 0 {
		return nil
	}
	var sum float64
	for _, s := range segs {
		sum += s.AvgLogprob
	}
	pct := math.Exp(sum/float64(len(segs))) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return &pct
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
