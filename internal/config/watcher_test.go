package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
detection:
  sensitivity: 0.5
`

const watcherUpdatedYAML = `
server:
  log_level: debug
detection:
  sensitivity: 0.7
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

const watchPath = "/etc/hark/config.yaml"

// writeAt writes content and stamps the file with mtime, so change
// detection does not depend on the wall clock's resolution.
func writeAt(t *testing.T, fs afero.Fs, content string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fs, watchPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := fs.Chtimes(watchPath, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// changeRecorder collects onChange callbacks.
type changeRecorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestWatcher(t *testing.T, fs afero.Fs, rec *changeRecorder) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(watchPath, rec.onChange,
		config.WithWatchFS(fs),
		config.WithInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherValidYAML, time.Unix(1000, 0))

	w := newTestWatcher(t, fs, newChangeRecorder())
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherInvalidYAML, time.Unix(1000, 0))

	_, err := config.NewWatcher(watchPath, nil, config.WithWatchFS(fs))
	if err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherValidYAML, time.Unix(1000, 0))
	rec := newChangeRecorder()
	w := newTestWatcher(t, fs, rec)

	writeAt(t, fs, watcherUpdatedYAML, time.Unix(2000, 0))

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called within 2s")
	}
	rec.mu.Lock()
	old, cur := rec.calls[0][0], rec.calls[0][1]
	rec.mu.Unlock()
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("onChange(old=%q, new=%q), want info -> debug", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if w.Current().Detection.Sensitivity != 0.7 {
		t.Errorf("Current().Detection.Sensitivity = %v, want 0.7", w.Current().Detection.Sensitivity)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherValidYAML, time.Unix(1000, 0))
	rec := newChangeRecorder()
	w := newTestWatcher(t, fs, rec)

	writeAt(t, fs, watcherInvalidYAML, time.Unix(2000, 0))
	time.Sleep(100 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("onChange called %d times for invalid edit", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want info", w.Current().Server.LogLevel)
	}

	// A later valid edit is still picked up.
	writeAt(t, fs, watcherUpdatedYAML, time.Unix(3000, 0))
	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called after fixing the config")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherValidYAML, time.Unix(1000, 0))
	rec := newChangeRecorder()
	newTestWatcher(t, fs, rec)

	writeAt(t, fs, watcherValidYAML, time.Unix(2000, 0))
	time.Sleep(100 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("onChange called %d times for unchanged content", rec.count())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeAt(t, fs, watcherValidYAML, time.Unix(1000, 0))
	w, err := config.NewWatcher(watchPath, nil, config.WithWatchFS(fs))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_NotifiedOnOSFilesystem(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hark.yaml")
	if err := os.WriteFile(path, []byte(watcherValidYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rec := newChangeRecorder()
	// Polling is effectively off, so only a notification can trigger a reload.
	w, err := config.NewWatcher(path, rec.onChange,
		config.WithInterval(time.Hour),
		config.WithDebounce(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)

	// Save the way editors do: write a sibling file and rename it over.
	tmp := path + ".swp"
	if err := os.WriteFile(tmp, []byte(watcherUpdatedYAML), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case <-rec.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange not called after the file was replaced")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogDebug)
	}
}
