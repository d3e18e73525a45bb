// Package scratch manages per-run temporary workspaces for decoded and
// segment audio. Nothing written here survives the run.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Workspace is a private temp directory for one pipeline run.
type Workspace struct {
	dir string
	log zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a workspace under parent. An empty parent uses the system
// temp directory.
func New(parent string, log zerolog.Logger) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir scratch parent %s: %w", parent, err)
	}
	dir, err := os.MkdirTemp(parent, "scribe-run-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Workspace{dir: dir, log: log}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the full path for a file name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteFile writes data to name inside the workspace and returns the full
// path. The write is atomic (temp file + rename) so a crashed writer never
// leaves a half-written file behind for a concurrent reader.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	path := w.Path(name)

	tmp, err := os.CreateTemp(w.dir, ".scratch-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return path, nil
}

// Remove deletes one file from the workspace. Best effort; segment files are
// removed as soon as their transcription completes so peak disk usage stays
// bounded by the worker count, not the segment count.
func (w *Workspace) Remove(name string) {
	if err := os.Remove(w.Path(name)); err != nil && !os.IsNotExist(err) {
		w.log.Debug().Err(err).Str("file", name).Msg("scratch remove failed")
	}
}

// Close deletes the workspace and everything in it. Safe to call more than
// once and on every exit path.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = os.RemoveAll(w.dir)
		if w.closeErr != nil {
			w.log.Warn().Err(w.closeErr).Str("dir", w.dir).Msg("scratch cleanup failed")
		}
	})
	return w.closeErr
}
