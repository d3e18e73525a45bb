package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubBackend lets capability checks run without a real engine.
type stubBackend struct {
	name string
	caps Capabilities
}

func (s *stubBackend) Name() string               { return s.name }
func (s *stubBackend) Capabilities() Capabilities { return s.caps }
func (s *stubBackend) Ping(context.Context) error { return nil }
func (s *stubBackend) Transcribe(context.Context, string, Opts) (*Result, error) {
	return &Result{}, nil
}

func TestValidateOpts(t *testing.T) {
	strict := &stubBackend{name: "strict", caps: Capabilities{Languages: []string{"en-US"}}}
	open := &stubBackend{name: "open", caps: Capabilities{AutoDetect: true, Translate: true}}

	tests := []struct {
		name    string
		backend Backend
		opts    Opts
		wantErr bool
	}{
		{"explicit_supported", strict, Opts{Language: "en-US", Task: TaskTranscribe}, false},
		{"case_insensitive", strict, Opts{Language: "EN-us"}, false},
		{"unsupported_language", strict, Opts{Language: "pt-BR"}, true},
		{"auto_rejected", strict, Opts{Language: LanguageAuto}, true},
		{"translate_rejected", strict, Opts{Language: "en-US", Task: TaskTranslate}, true},
		{"auto_accepted", open, Opts{Language: LanguageAuto}, false},
		{"translate_accepted", open, Opts{Language: "de", Task: TaskTranslate}, false},
		{"bad_tag", open, Opts{Language: "not a tag"}, true},
		{"unknown_task", open, Opts{Language: "en", Task: Task("summarize")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOpts(tt.backend, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOpts = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLanguageTag(t *testing.T) {
	valid := []string{"en", "en-US", "pt-BR", "deu", "ja-JP"}
	for _, tag := range valid {
		if err := ValidateLanguageTag(tag); err != nil {
			t.Errorf("ValidateLanguageTag(%q) = %v, want nil", tag, err)
		}
	}

	invalid := []string{"", "e", "english", "en-USA", "en_US", "12", "en-1A"}
	for _, tag := range invalid {
		if err := ValidateLanguageTag(tag); err == nil {
			t.Errorf("ValidateLanguageTag(%q) = nil, want error", tag)
		}
	}
}

func TestShortLanguage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"pt-BR", "pt"},
		{"EN-US", "en"},
		{"de", "de"},
	}
	for _, tt := range tests {
		if got := ShortLanguage(tt.in); got != tt.want {
			t.Errorf("ShortLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&UnavailableError{Backend: "whisper", Err: cause})

	if !strings.Contains(err.Error(), "whisper") {
		t.Errorf("Error() = %q, want backend name included", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatal("errors.As failed to match *UnavailableError")
	}
	if ue.Backend != "whisper" {
		t.Errorf("Backend = %q, want %q", ue.Backend, "whisper")
	}
}
