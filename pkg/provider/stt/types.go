package stt

import "time"

// Transcript represents a final speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider recognised, when reported.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram, whisper.cpp).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// Provider names the backend that produced the transcript. Set by
	// wrappers that choose among several backends; empty otherwise.
	Provider string
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of command phrases and unusual place names.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "navigate").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
