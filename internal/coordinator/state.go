package coordinator

// State is the pipeline state owned by the coordinator's control loop.
type State int32

const (
	// StateIdle means the capture device is released.
	StateIdle State = iota

	// StateWakeListening means frames are fed to the wake detector.
	StateWakeListening

	// StateRecording means a recording session exists and frames are fed to
	// the VAD and the utterance buffer.
	StateRecording

	// StateFinalizing is held while the session is closed and its utterance
	// handed off.
	StateFinalizing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWakeListening:
		return "wake_listening"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states render by name in
// JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Listening reports whether the capture device is held in state s.
func (s State) Listening() bool {
	return s != StateIdle
}
