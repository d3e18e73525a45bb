// Package transcribe defines the speech-to-text backend interface and its
// three adapters: the Google web speech API, offline pocketsphinx, and
// OpenAI-compatible Whisper servers.
package transcribe

import (
	"context"
	"fmt"
	"strings"
)

// LanguageAuto asks the backend to detect the spoken language. Only backends
// whose capabilities advertise AutoDetect accept it.
const LanguageAuto = "auto"

// Task selects what the backend produces from the audio.
type Task string

const (
	// TaskTranscribe produces text in the spoken language.
	TaskTranscribe Task = "transcribe"
	// TaskTranslate produces English text regardless of the spoken language.
	TaskTranslate Task = "translate"
)

// Opts are per-call options common to all backends.
type Opts struct {
	Language string // language tag (e.g. "en-US", "pt-BR"), or LanguageAuto
	Task     Task
}

// Result is the outcome of transcribing one audio segment. A segment the
// engine heard but could not understand is a valid result with NoSpeech set,
// never an error.
type Result struct {
	Text       string
	NoSpeech   bool
	Language   string   // detected language, when the backend reports one
	Confidence *float64 // percent 0-100, when the backend reports one
}

// Capabilities describes what a backend supports. The orchestrator uses
// Concurrency to bound parallel calls; the API lists the rest to clients.
type Capabilities struct {
	AutoDetect  bool     `json:"auto_detect"`
	Translate   bool     `json:"translate"`
	Languages   []string `json:"languages,omitempty"` // empty = any valid tag
	Concurrency int      `json:"concurrency"`
	Note        string   `json:"note,omitempty"`
}

// Backend is a speech-to-text engine. Transcribe reads the WAV file at
// audioPath (canonical mono 16 kHz PCM) and blocks until the engine answers
// or ctx is done.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Transcribe(ctx context.Context, audioPath string, opts Opts) (*Result, error)

	// Ping checks reachability of whatever the backend depends on (remote
	// endpoint, local binary). It never consumes transcription quota.
	Ping(ctx context.Context) error
}

// UnavailableError reports backend infrastructure failure: unreachable
// service, non-OK response, missing binary, model load failure. It aborts
// the whole run rather than producing a partial transcript.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ValidateOpts rejects option combinations the backend cannot honor. These
// are caller errors, surfaced before a run starts.
func ValidateOpts(b Backend, opts Opts) error {
	caps := b.Capabilities()

	switch opts.Task {
	case "", TaskTranscribe:
	case TaskTranslate:
		if !caps.Translate {
			return fmt.Errorf("backend %s does not support translation", b.Name())
		}
	default:
		return fmt.Errorf("unknown task %q", opts.Task)
	}

	if opts.Language == LanguageAuto {
		if !caps.AutoDetect {
			return fmt.Errorf("backend %s requires an explicit language tag", b.Name())
		}
		return nil
	}
	if err := ValidateLanguageTag(opts.Language); err != nil {
		return err
	}
	if len(caps.Languages) > 0 && !containsFold(caps.Languages, opts.Language) {
		return fmt.Errorf("backend %s does not support language %q (supported: %s)",
			b.Name(), opts.Language, strings.Join(caps.Languages, ", "))
	}
	return nil
}

// ValidateLanguageTag checks the shape of a language tag: a 2-3 letter
// primary subtag, optionally followed by a 2-letter region ("en", "en-US").
func ValidateLanguageTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty language tag")
	}
	primary, region, hasRegion := strings.Cut(tag, "-")
	if !alpha(primary) || len(primary) < 2 || len(primary) > 3 {
		return fmt.Errorf("invalid language tag %q", tag)
	}
	if hasRegion && (!alpha(region) || len(region) != 2) {
		return fmt.Errorf("invalid language tag %q", tag)
	}
	return nil
}

func alpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// ShortLanguage reduces a tag to its primary subtag ("pt-BR" to "pt"), the
// form Whisper-family servers expect.
func ShortLanguage(tag string) string {
	primary, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(primary)
}
