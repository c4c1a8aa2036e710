package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultDebounce     = 250 * time.Millisecond
)

// Watcher reloads a config file when it changes and passes each new valid
// configuration to a callback. Edits that fail to parse or validate are
// logged and the previous configuration stays current.
//
// On the OS filesystem changes are picked up through fsnotify. The parent
// directory is watched so that editors which save by renaming a temporary
// file are seen too. Polling by modification time runs alongside and is the
// only mechanism for other filesystems.
type Watcher struct {
	path     string
	fs       afero.Fs
	interval time.Duration
	debounce time.Duration
	onChange func(old, new *Config)

	notify *fsnotify.Watcher
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long filesystem events are coalesced before the file
// is read. Default 250ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchFS reads the file from fsys. Filesystem notifications are only
// used for [afero.OsFs].
func WithWatchFS(fsys afero.Fs) WatcherOption {
	return func(w *Watcher) {
		if fsys != nil {
			w.fs = fsys
		}
	}
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		fs:       afero.NewOsFs(),
		interval: defaultPollInterval,
		debounce: defaultDebounce,
		onChange: onChange,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime

	if _, ok := w.fs.(*afero.OsFs); ok {
		if err := w.startNotify(); err != nil {
			slog.Warn("config watcher: file notifications unavailable, polling only", "path", path, "err", err)
		}
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) startNotify() error {
	n, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := n.Add(filepath.Dir(w.path)); err != nil {
		_ = n.Close()
		return err
	}
	w.notify = n
	return nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for the watch goroutine to exit. It may be
// called more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		settle  *time.Timer
		settled <-chan time.Time
	)
	if w.notify != nil {
		defer w.notify.Close()
		events, errs = w.notify.Events, w.notify.Errors
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			if settle != nil {
				settle.Stop()
			}
			return
		case <-ticker.C:
			w.check(false)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(w.debounce)
			} else {
				settle.Reset(w.debounce)
			}
			settled = settle.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: notification error", "path", w.path, "err", err)
		case <-settled:
			settled = nil
			w.check(true)
		}
	}
}

// check reloads the file and calls onChange when its content changed. A poll
// only reads the file when the modification time moved; a notification
// always does.
func (w *Watcher) check(notified bool) {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		// A rename-on-save leaves a short window without the file.
		if !notified {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		}
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged && !notified {
		return
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		slog.Warn("config watcher: ignoring invalid config", "path", w.path, "err", err)
		w.mu.Lock()
		w.mtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.mtime = mtime
	if sum == w.sum {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read parses and validates the file and returns it with its content hash
// and modification time.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var sum [sha256.Size]byte
	info, err := w.fs.Stat(w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, sum, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
