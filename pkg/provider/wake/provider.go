// Package wake defines the Detector interface for wake-word detection.
//
// A detector inspects frames while the pipeline is waiting for activation
// and reports the first frame that should start a recording. Once it has
// fired it stays latched until Reset, so one activation produces exactly one
// recording session.
//
// The amplitude detector in wake/energy is the reference implementation; a
// keyword-spotting model can be plugged in behind the same interface.
package wake

import "github.com/MrWong99/hark/pkg/audio"

// Detector decides when the pipeline should start recording.
//
// Detectors are driven from a single goroutine; implementations must
// nevertheless allow UpdateSensitivity to be called concurrently with
// Process.
type Detector interface {
	// Process inspects one frame. It returns true for the frame that triggers
	// activation and false for every frame after that until Reset.
	Process(frame audio.AudioFrame) bool

	// Reset re-arms the detector after it fired.
	Reset()

	// UpdateSensitivity changes how easily the detector fires. s is clamped to
	// [0, 1]; higher values require a louder signal. The new value applies
	// from the next processed frame.
	UpdateSensitivity(s float64)

	// Threshold returns the current activation threshold on the classifier's
	// scale.
	Threshold() float64
}

// ClampSensitivity limits s to [0, 1].
func ClampSensitivity(s float64) float64 {
	return max(0, min(s, 1))
}
