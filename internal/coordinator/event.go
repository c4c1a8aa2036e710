package coordinator

import (
	"time"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/utterance"
)

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	// EventStateChanged reports a pipeline state transition.
	EventStateChanged EventKind = iota

	// EventWakeDetected reports that the wake detector fired.
	EventWakeDetected

	// EventRecordingStarted reports a new recording session, from a wake
	// event or a manual trigger.
	EventRecordingStarted

	// EventSpeechStarted reports the VAD's first voiced frame in a session.
	EventSpeechStarted

	// EventSpeechEnded reports the VAD's end-of-speech decision.
	EventSpeechEnded

	// EventUtteranceReady carries a finalized utterance that is being
	// dispatched.
	EventUtteranceReady

	// EventFalseTrigger reports a session discarded without dispatch.
	// It is informational, not an error.
	EventFalseTrigger

	// EventTranscriptionReady carries the submitter's result for an
	// utterance.
	EventTranscriptionReady

	// EventError reports a pipeline failure. See [ErrorKind].
	EventError
)

// String returns the human-readable name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventWakeDetected:
		return "wake_detected"
	case EventRecordingStarted:
		return "recording_started"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventUtteranceReady:
		return "utterance_ready"
	case EventFalseTrigger:
		return "false_trigger"
	case EventTranscriptionReady:
		return "transcription_ready"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrorKind classifies an [EventError].
type ErrorKind int

const (
	// ErrDeviceUnavailableKind: the capture device could not be acquired.
	// The pipeline stays Idle and does not retry by itself.
	ErrDeviceUnavailableKind ErrorKind = iota + 1

	// ErrCaptureInterruptedKind: the device went away mid-stream. The
	// pipeline is Idle; a later StartListening recovers.
	ErrCaptureInterruptedKind

	// ErrSubmitFailedKind: the submitter returned an error for an utterance.
	ErrSubmitFailedKind
)

// String returns the human-readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrDeviceUnavailableKind:
		return "device_unavailable"
	case ErrCaptureInterruptedKind:
		return "capture_interrupted"
	case ErrSubmitFailedKind:
		return "submit_failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Activation says what started a recording session.
type Activation string

const (
	ActivationWake   Activation = "wake"
	ActivationManual Activation = "manual"
)

// Event is one notification on the coordinator's event stream. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	// Time is the pipeline clock reading at which the event occurred.
	Time time.Time `json:"time"`

	// SessionID identifies the recording session, if any.
	SessionID string `json:"session_id,omitempty"`

	// State and Previous are set for EventStateChanged.
	State    State `json:"state"`
	Previous State `json:"previous"`

	// Activation is set for EventRecordingStarted.
	Activation Activation `json:"activation,omitempty"`

	// Reason is set for EventUtteranceReady and EventFalseTrigger.
	Reason string `json:"reason,omitempty"`

	// Utterance is set for EventUtteranceReady.
	Utterance *utterance.Utterance `json:"-"`

	// Result is set for EventTranscriptionReady.
	Result *command.Result `json:"result,omitempty"`

	// ErrorKind and Err are set for EventError.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Err       error     `json:"-"`
}
