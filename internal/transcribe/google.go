package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarg/scribe/internal/media"
)

// DefaultGoogleEndpoint is the public web speech API endpoint.
const DefaultGoogleEndpoint = "http://www.google.com/speech-api/v2/recognize"

// GoogleConfig configures the cloud recognizer.
type GoogleConfig struct {
	Endpoint    string
	Key         string // API key; sent as the key query parameter when set
	Timeout     time.Duration
	Concurrency int
}

// GoogleBackend sends raw PCM to the Google web speech API and parses its
// line-delimited JSON response.
type GoogleBackend struct {
	cfg    GoogleConfig
	client *http.Client
}

// NewGoogleBackend creates the cloud adapter.
func NewGoogleBackend(cfg GoogleConfig) (*GoogleBackend, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("google endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &GoogleBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *GoogleBackend) Name() string { return "google" }

func (g *GoogleBackend) Capabilities() Capabilities {
	return Capabilities{
		AutoDetect:  false,
		Translate:   false,
		Concurrency: g.cfg.Concurrency,
		Note:        "requires an explicit language tag",
	}
}

// Ping checks that the endpoint host answers at all. Any HTTP status counts
// as reachable; only transport failure is reported.
func (g *GoogleBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.cfg.Endpoint, nil)
	if err != nil {
		return &UnavailableError{Backend: g.Name(), Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &UnavailableError{Backend: g.Name(), Err: err}
	}
	resp.Body.Close()
	return nil
}

func (g *GoogleBackend) Transcribe(ctx context.Context, audioPath string, opts Opts) (*Result, error) {
	buf, err := media.ReadWAVFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read segment audio: %w", err)
	}

	q := url.Values{}
	q.Set("client", "chromium")
	q.Set("lang", opts.Language)
	if g.cfg.Key != "" {
		q.Set("key", g.cfg.Key)
	}
	reqURL := g.cfg.Endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(pcmBytes(buf.Samples)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d", buf.Rate))

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UnavailableError{Backend: g.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{
			Backend: g.Name(),
			Err:     fmt.Errorf("speech api status %d", resp.StatusCode),
		}
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, &UnavailableError{Backend: g.Name(), Err: fmt.Errorf("read response: %w", err)}
	}

	return parseGoogleResponse(body.String())
}

// googleLine is one line of the API's streamed response. The first lines are
// typically empty result stubs; the hypothesis arrives in a later line.
type googleLine struct {
	Result []struct {
		Alternative []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence"`
		} `json:"alternative"`
		Final bool `json:"final"`
	} `json:"result"`
}

// parseGoogleResponse scans line-delimited JSON for the first non-empty
// result and picks its most confident alternative. No hypothesis at all
// means the engine could not understand the segment.
func parseGoogleResponse(body string) (*Result, error) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var parsed googleLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return nil, &UnavailableError{
				Backend: "google",
				Err:     fmt.Errorf("malformed response line: %w", err),
			}
		}
		if len(parsed.Result) == 0 || len(parsed.Result[0].Alternative) == 0 {
			continue
		}

		best := parsed.Result[0].Alternative[0]
		for _, alt := range parsed.Result[0].Alternative[1:] {
			if alt.Confidence != nil && (best.Confidence == nil || *alt.Confidence > *best.Confidence) {
				best = alt
			}
		}

		res := &Result{Text: strings.TrimSpace(best.Transcript)}
		if res.Text == "" {
			res.NoSpeech = true
			return res, nil
		}
		if best.Confidence != nil {
			pct := *best.Confidence * 100
			res.Confidence = &pct
		}
		return res, nil
	}
	return &Result{NoSpeech: true}, nil
}

// pcmBytes serializes samples as little-endian 16-bit PCM, the wire format
// for audio/l16 uploads.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
