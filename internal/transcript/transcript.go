// Package transcript assembles ordered per-segment results and renders the
// three output forms: plain text, a timestamped listing, and SubRip captions.
package transcript

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// InaudibleNote marks a temporal slot whose audio the engine heard but could
// not understand. It appears in the timestamped and SRT renderings, never in
// the plain concatenated text.
const InaudibleNote = "[inaudible]"

// Unit is the transcription of one audio segment.
type Unit struct {
	Index      int      `json:"index"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	NoSpeech   bool     `json:"no_speech,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcript is the complete result of one run.
type Transcript struct {
	Units    []Unit  `json:"units"`
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Backend  string  `json:"backend"`
	Duration float64 `json:"duration_seconds"`

	// Elapsed is wall-clock processing time. It is the one field two
	// otherwise-identical runs may disagree on, so it stays out of the
	// rendered artifacts.
	Elapsed time.Duration `json:"-"`
}

// Meta carries run-level fields into Assemble.
type Meta struct {
	Language string
	Backend  string
	Duration float64
	Elapsed  time.Duration
}

// Assemble orders units by segment index and derives the concatenated text.
// Units flagged NoSpeech contribute nothing to the text but keep their slot
// in the unit list.
func Assemble(units []Unit, meta Meta) *Transcript {
	ordered := make([]Unit, len(units))
	copy(ordered, units)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var parts []string
	for _, u := range ordered {
		if u.NoSpeech {
			continue
		}
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}

	return &Transcript{
		Units:    ordered,
		Text:     strings.Join(parts, " "),
		Language: meta.Language,
		Backend:  meta.Backend,
		Duration: meta.Duration,
		Elapsed:  meta.Elapsed,
	}
}

// WordCount counts whitespace-separated words in the concatenated text.
func (t *Transcript) WordCount() int {
	return len(strings.Fields(t.Text))
}

// Plain returns the concatenated transcript text.
func (t *Transcript) Plain() string {
	return t.Text
}

// Timestamped renders one line per unit with its temporal range. Units with
// no recognized speech keep their slot, marked inaudible.
func (t *Transcript) Timestamped() string {
	var b strings.Builder
	for _, u := range t.Units {
		text := strings.TrimSpace(u.Text)
		if u.NoSpeech || text == "" {
			text = InaudibleNote
		}
		fmt.Fprintf(&b, "[%s - %s] %s\n", FormatTimestamp(u.Start), FormatTimestamp(u.End), text)
	}
	return b.String()
}

// SRT renders SubRip captions: sequence numbers from 1, comma-millisecond
// timestamps, a blank line after each cue.
func (t *Transcript) SRT() string {
	var b strings.Builder
	for i, u := range t.Units {
		text := strings.TrimSpace(u.Text)
		if u.NoSpeech || text == "" {
			text = InaudibleNote
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(u.Start), srtTime(u.End), text)
	}
	return b.String()
}

// FormatTimestamp renders whole seconds as HH:MM:SS.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

// srtTime renders seconds as the SubRip HH:MM:SS,mmm form.
func srtTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int(math.Round(seconds * 1000))
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
