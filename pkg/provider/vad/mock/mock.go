// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script VADEvent responses and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Script: []vad.VADEvent{{Type: vad.VADSpeechStart, State: vad.StateSpeechStarted, Voiced: true}},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{Cfg: cfg}, nil
}

// Calls returns a copy of the recorded NewSession calls. Thread-safe.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]NewSessionCall, len(e.NewSessionCalls))
	copy(out, e.NewSessionCalls)
	return out
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessFrameCall records a single invocation of Session.ProcessFrame.
type ProcessFrameCall struct {
	// Frame is the frame passed to ProcessFrame.
	Frame audio.AudioFrame
	// Now is the time passed to ProcessFrame.
	Now time.Time
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Cfg is returned by Config.
	Cfg vad.Config

	// Script holds the events returned by successive ProcessFrame calls. Once
	// exhausted, EventResult is returned.
	Script []vad.VADEvent

	// EventResult is returned once Script is exhausted.
	EventResult vad.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessFrameCalls records every call to ProcessFrame in order.
	ProcessFrameCalls []ProcessFrameCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	state      vad.State
	lastSpeech time.Time
}

// ProcessFrame records the call and returns the next scripted event.
func (s *Session) ProcessFrame(frame audio.AudioFrame, now time.Time) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{Frame: frame, Now: now})
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	ev := s.EventResult
	if len(s.Script) > 0 {
		ev = s.Script[0]
		s.Script = s.Script[1:]
	}
	s.state = ev.State
	if ev.Voiced {
		s.lastSpeech = now
	}
	return ev, nil
}

// State returns the state of the last returned event.
func (s *Session) State() vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSpeech returns the time of the last event with Voiced set.
func (s *Session) LastSpeech() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeech
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.state = vad.StateSilence
	s.lastSpeech = time.Time{}
}

// Config returns Cfg.
func (s *Session) Config() vad.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cfg
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
