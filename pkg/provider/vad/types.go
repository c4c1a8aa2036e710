package vad

// State is the voice activity state of a session.
type State int

const (
	// StateSilence means no speech has been detected since the last Reset.
	StateSilence State = iota

	// StateSpeechStarted is entered on the first voiced frame.
	StateSpeechStarted

	// StateSpeaking covers ongoing speech, including short pauses shorter than
	// the configured silence duration.
	StateSpeaking

	// StateSpeechEnded is terminal until Reset.
	StateSpeechEnded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeechStarted:
		return "speech_started"
	case StateSpeaking:
		return "speaking"
	case StateSpeechEnded:
		return "speech_ended"
	default:
		return "unknown"
	}
}

// InSpeech reports whether s is SpeechStarted or Speaking.
func (s State) InSpeech() bool {
	return s == StateSpeechStarted || s == StateSpeaking
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the edge produced by this frame, if any.
	Type VADEventType

	// State is the session state after processing the frame.
	State State

	// Voiced is true when the frame's energy exceeded the silence threshold.
	Voiced bool

	// Energy is the classifier output for the frame (0.0–1.0).
	Energy float64
}

// VADEventType enumerates VAD detection edges.
type VADEventType int

const (
	// VADSilence indicates no speech has started.
	VADSilence VADEventType = iota

	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart

	// VADSpeechContinue indicates ongoing speech, or a pause within speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended. It is produced exactly once
	// per session between Resets.
	VADSpeechEnd

	// VADEnded is reported for every frame after VADSpeechEnd.
	VADEnded
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSilence:
		return "silence"
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADEnded:
		return "ended"
	default:
		return "unknown"
	}
}
