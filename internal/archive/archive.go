// Package archive keeps dispatched utterances on disk.
//
// Each utterance is written as "<id>.wav". When its transcription arrives a
// "<id>.json" sidecar with the recognised text and command is written next
// to it. The filesystem is an afero.Fs so tests run against memory.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/utterance"
	"github.com/MrWong99/hark/pkg/audio"
)

// ErrInvalidID is returned for utterance IDs that would escape the archive
// directory.
var ErrInvalidID = errors.New("archive: invalid utterance id")

// Record is the JSON sidecar written by [Sink.Annotate].
type Record struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    string           `json:"duration"`
	Reason      string           `json:"reason"`
	Text        string           `json:"text,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	Command     *command.Command `json:"command,omitempty"`
	Interpreter string           `json:"interpreter,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Sink writes utterances below a directory. It is safe for concurrent use as
// long as each utterance ID is written by one goroutine.
type Sink struct {
	fs  afero.Fs
	dir string
}

// New returns a Sink writing to dir on fs, creating dir if needed.
func New(fs afero.Fs, dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("archive: directory must not be empty")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %q: %w", dir, err)
	}
	return &Sink{fs: fs, dir: dir}, nil
}

// Dir returns the archive directory.
func (s *Sink) Dir() string { return s.dir }

// Save writes u as a WAV file and returns its path.
func (s *Sink) Save(u utterance.Utterance) (string, error) {
	path, err := s.path(u.ID, ".wav")
	if err != nil {
		return "", err
	}
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("archive: create %q: %w", path, err)
	}
	if err := audio.WriteWAV(f, u.Audio, u.SampleRate); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("archive: write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("archive: close %q: %w", path, err)
	}
	slog.Debug("utterance archived", "id", u.ID, "path", path, "duration", u.Duration)
	return path, nil
}

// Annotate writes the JSON sidecar for u with the submission outcome. res
// may be the zero Result when submitErr is set.
func (s *Sink) Annotate(u utterance.Utterance, res command.Result, submitErr error) error {
	path, err := s.path(u.ID, ".json")
	if err != nil {
		return err
	}
	rec := Record{
		ID:          u.ID,
		StartedAt:   u.StartedAt,
		Duration:    u.Duration.String(),
		Reason:      u.Reason.String(),
		Text:        res.Text,
		Provider:    res.Provider,
		Command:     res.Command,
		Interpreter: res.Interpreter,
	}
	if submitErr != nil {
		rec.Error = submitErr.Error()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %q: %w", path, err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %q: %w", path, err)
	}
	return nil
}

// Load reads the sidecar of the utterance with the given ID.
func (s *Sink) Load(id string) (Record, error) {
	var rec Record
	path, err := s.path(id, ".json")
	if err != nil {
		return rec, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return rec, fmt.Errorf("archive: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("archive: decode %q: %w", path, err)
	}
	return rec, nil
}

func (s *Sink) path(id, ext string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+ext), nil
}
