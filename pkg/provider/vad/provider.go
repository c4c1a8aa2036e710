// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine turns a stream of audio frames into speech-start and speech-end
// decisions. Each session maintains its own state machine so that the
// recording pipeline can reset it at the start of every utterance:
//
//	Silence ──(energy > threshold)──► SpeechStarted ──► Speaking
//	   ▲                                                   │
//	   └────────── Reset ◄── SpeechEnded ◄──(silence ≥ SilenceDuration)
//
// SpeechEnded is terminal until Reset. Time is supplied by the caller on
// every frame so that sessions are deterministic under test.
//
// ProcessFrame is synchronous and returns immediately, so it runs on the
// pipeline control loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// SilenceThreshold is the frame energy at or below which a frame counts as
	// silence. Range: [0.0, 1.0] on the classifier's normalised scale.
	SilenceThreshold float64

	// SilenceDuration is how long energy must stay at or below
	// SilenceThreshold, measured from the last voiced frame, before speech is
	// considered ended.
	SilenceDuration time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears the detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies frame and advances the state machine. now is the
	// pipeline clock reading for this frame. Returns an error if the frame is
	// malformed or the session is closed.
	ProcessFrame(frame audio.AudioFrame, now time.Time) (VADEvent, error)

	// State returns the current state without consuming a frame.
	State() State

	// LastSpeech returns the time of the most recent voiced frame, or the zero
	// time if no speech has been seen since the last Reset.
	LastSpeech() time.Time

	// Reset returns the session to Silence and clears the last-speech time.
	Reset()

	// Config returns the configuration the session was created with.
	Config() Config

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session starts in [StateSilence].
	//
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
