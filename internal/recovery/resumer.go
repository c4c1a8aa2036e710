// Package recovery restarts wake listening after the capture device is lost.
//
// The capture pipeline never retries on its own: when the device disappears
// it releases the source, goes idle and reports CaptureInterrupted. A
// [Resumer] listens for that signal and calls StartListening again with
// exponential backoff until the device is back, the retry budget is spent,
// or the cycle is cancelled.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default retry parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Listener is the pipeline control surface a [Resumer] drives.
// *coordinator.Coordinator satisfies it.
type Listener interface {
	StartListening(ctx context.Context) error
}

// Config configures a [Resumer].
type Config struct {
	// Listener is restarted after each interruption.
	Listener Listener

	// MaxRetries is the maximum number of restart attempts per interruption.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the delay before the first attempt. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnResume is called after a successful restart with the attempt number.
	// May be nil.
	OnResume func(attempt int)

	// OnGiveUp is called with the last error when every attempt failed.
	// May be nil.
	OnGiveUp func(err error)
}

// Resumer restarts a [Listener] after capture interruptions.
//
// Call [Resumer.Run] on its own goroutine, then signal interruptions with
// [Resumer.NotifyInterrupted]. [Resumer.Cancel] aborts a cycle in progress,
// e.g. when the user stops listening explicitly.
//
// All methods are safe for concurrent use.
type Resumer struct {
	listener   Listener
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onResume   func(int)
	onGiveUp   func(error)

	interrupted chan struct{}

	mu          sync.Mutex
	cancelCycle context.CancelFunc
	resuming    bool
}

// New creates a [Resumer] with the given configuration.
func New(cfg Config) *Resumer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Resumer{
		listener:    cfg.Listener,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onResume:    cfg.OnResume,
		onGiveUp:    cfg.OnGiveUp,
		interrupted: make(chan struct{}, 1),
	}
}

// NotifyInterrupted signals that capture was lost and listening should be
// restarted. Safe to call multiple times; signals arriving while a cycle is
// pending collapse into one.
func (r *Resumer) NotifyInterrupted() {
	select {
	case r.interrupted <- struct{}{}:
	default:
	}
}

// Cancel aborts the restart cycle in progress, if any, and discards a
// pending signal.
func (r *Resumer) Cancel() {
	select {
	case <-r.interrupted:
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelCycle != nil {
		r.cancelCycle()
	}
}

// Resuming reports whether a restart cycle is in progress.
func (r *Resumer) Resuming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resuming
}

// Run waits for interruption signals and restarts the listener until ctx is
// cancelled. It always returns nil.
func (r *Resumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.interrupted:
			r.resume(ctx)
		}
	}
}

// resume runs one restart cycle with exponential backoff.
func (r *Resumer) resume(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancelCycle = cancel
	r.resuming = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelCycle = nil
		r.resuming = false
		r.mu.Unlock()
		cancel()
	}()

	currentBackoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			slog.Info("capture recovery cancelled", "attempt", attempt)
			return
		case <-time.After(currentBackoff):
		}

		slog.Info("restarting capture",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		err := r.listener.StartListening(ctx)
		if err == nil {
			slog.Info("capture restarted", "attempt", attempt)
			if r.onResume != nil {
				r.onResume(attempt)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err

		slog.Warn("capture restart failed",
			"attempt", attempt,
			"error", err,
		)

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("capture recovery failed after max retries",
		"max_retries", r.maxRetries,
		"error", lastErr,
	)
	if r.onGiveUp != nil {
		r.onGiveUp(lastErr)
	}
}
