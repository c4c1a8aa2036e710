// Package energy implements the vad.Engine interface with a signal-energy
// threshold and a silence hang-over timer.
//
// A frame is voiced when its classifier energy is strictly greater than
// Config.SilenceThreshold. Speech ends once no voiced frame has been seen for
// Config.SilenceDuration; shorter pauses keep the session in Speaking.
package energy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithClassifier sets the energy classifier. Defaults to [audio.RMS].
func WithClassifier(c audio.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// Engine creates energy-threshold VAD sessions. It is safe for concurrent use.
type Engine struct {
	classifier audio.Classifier
}

// New returns an energy VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{classifier: audio.RMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > 1 {
		return nil, fmt.Errorf("energy vad: silence threshold %v out of range [0,1]", cfg.SilenceThreshold)
	}
	if cfg.SilenceDuration < 0 {
		return nil, fmt.Errorf("energy vad: negative silence duration %v", cfg.SilenceDuration)
	}
	return &session{cfg: cfg, classifier: e.classifier}, nil
}

var _ vad.Engine = (*Engine)(nil)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("energy vad: session closed")

type session struct {
	cfg        vad.Config
	classifier audio.Classifier

	mu         sync.Mutex
	state      vad.State
	lastSpeech time.Time
	closed     bool
}

func (s *session) ProcessFrame(frame audio.AudioFrame, now time.Time) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrSessionClosed
	}
	if len(frame.Data)%audio.BytesPerSample != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy vad: odd PCM length %d", len(frame.Data))
	}

	e := s.classifier.Energy(frame)
	voiced := e > s.cfg.SilenceThreshold
	ev := vad.VADEvent{Voiced: voiced, Energy: e}

	switch s.state {
	case vad.StateSpeechEnded:
		ev.Type = vad.VADEnded

	case vad.StateSilence:
		if voiced {
			s.state = vad.StateSpeechStarted
			s.lastSpeech = now
			ev.Type = vad.VADSpeechStart
		} else {
			ev.Type = vad.VADSilence
		}

	case vad.StateSpeechStarted, vad.StateSpeaking:
		switch {
		case voiced:
			s.state = vad.StateSpeaking
			s.lastSpeech = now
			ev.Type = vad.VADSpeechContinue
		case now.Sub(s.lastSpeech) >= s.cfg.SilenceDuration:
			s.state = vad.StateSpeechEnded
			ev.Type = vad.VADSpeechEnd
		default:
			s.state = vad.StateSpeaking
			ev.Type = vad.VADSpeechContinue
		}
	}

	ev.State = s.state
	return ev, nil
}

func (s *session) State() vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) LastSpeech() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeech
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = vad.StateSilence
	s.lastSpeech = time.Time{}
}

func (s *session) Config() vad.Config { return s.cfg }

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
