// Package mock provides in-memory mock implementations of [audio.Source] and
// [audio.PermissionGate] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	frames, _ := src.Start(ctx)
//	src.Push(frame)                  // deliver a frame to the consumer
//	src.Fail(errors.New("unplugged")) // simulate device loss
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are injected by
// the test with [Source.Push]; device loss is simulated with [Source.Fail].
type Source struct {
	mu sync.Mutex

	// StartError, when non-nil, is returned by Start (wrapped in
	// [audio.ErrDeviceUnavailable] unless it already wraps it).
	StartError error

	// StopError is returned by Stop.
	StopError error

	// Buffer is the capacity of the frame channel. Zero means unbuffered,
	// which makes Push return only once the consumer has received the frame.
	Buffer int

	running bool
	ch      chan audio.AudioFrame
	done    chan struct{}
	sends   sync.WaitGroup
	err     error

	startCalls int
	stopCalls  int
	pushed     int
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.StartError != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, s.StartError)
	}
	if s.running {
		return s.ch, nil
	}
	s.ch = make(chan audio.AudioFrame, s.Buffer)
	s.done = make(chan struct{})
	s.running = true
	s.err = nil
	return s.ch, nil
}

// Stop implements [audio.Source]. It closes the frame channel after any
// in-flight Push has given up.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	stopErr := s.StopError
	s.mu.Unlock()
	s.shutdown(nil)
	return stopErr
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers frame to the consumer, blocking until it is received or the
// source stops. It reports whether the frame was delivered.
func (s *Source) Push(frame audio.AudioFrame) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	ch, done := s.ch, s.done
	s.sends.Add(1)
	s.mu.Unlock()
	defer s.sends.Done()

	select {
	case ch <- frame:
		s.mu.Lock()
		s.pushed++
		s.mu.Unlock()
		return true
	case <-done:
		return false
	}
}

// Fail simulates device loss: the frame channel closes and Err reports cause
// wrapped in [audio.ErrCaptureInterrupted].
func (s *Source) Fail(cause error) {
	s.shutdown(fmt.Errorf("%w: %w", audio.ErrCaptureInterrupted, cause))
}

func (s *Source) shutdown(err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.err = err
	close(s.done)
	ch := s.ch
	s.mu.Unlock()

	s.sends.Wait()
	close(ch)
}

// Running reports whether the source is currently capturing.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartCalls returns how many times Start was called.
func (s *Source) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// StopCalls returns how many times Stop was called.
func (s *Source) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Pushed returns how many frames were delivered to the consumer.
func (s *Source) Pushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// ─── Gate ─────────────────────────────────────────────────────────────────────

// Gate is a mock implementation of [audio.PermissionGate].
type Gate struct {
	mu sync.Mutex

	// Allow is returned by HasMicrophoneAccess.
	Allow bool

	// CallCount records how many times HasMicrophoneAccess was called.
	CallCount int
}

// HasMicrophoneAccess implements [audio.PermissionGate].
func (g *Gate) HasMicrophoneAccess() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CallCount++
	return g.Allow
}

var (
	_ audio.Source         = (*Source)(nil)
	_ audio.PermissionGate = (*Gate)(nil)
)
