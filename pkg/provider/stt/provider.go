// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a whisper.cpp server,
// the OpenAI audio API, or Deepgram) and exposes a uniform batch interface:
// the recording pipeline hands over one complete utterance and receives one
// final transcript.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by Transcribe when the request carries no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is mono 16-bit signed little-endian PCM.
	Audio []byte

	// SampleRate is the audio sample rate in Hz (16000 for the pipeline).
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints, such as command phrases, that
	// should be favoured during recognition. Providers that do not support
	// hints ignore them.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the final transcript for req. It blocks until the
	// backend responds or ctx is cancelled. An utterance that contains no
	// recognisable speech yields an empty Text and a nil error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)

	// Name identifies the backend in logs, metrics and results.
	Name() string
}
