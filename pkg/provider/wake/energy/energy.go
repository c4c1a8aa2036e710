// Package energy implements wake.Detector as an amplitude threshold: the
// detector fires on the first frame whose energy exceeds
// BaseThreshold × sensitivity.
package energy

import (
	"math"
	"sync/atomic"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/wake"
)

// DefaultBaseThreshold is the energy threshold at sensitivity 1.0.
const DefaultBaseThreshold = 0.1

// Option configures a [Detector].
type Option func(*Detector)

// WithClassifier sets the energy classifier. Defaults to [audio.RMS].
func WithClassifier(c audio.Classifier) Option {
	return func(d *Detector) { d.classifier = c }
}

// WithBaseThreshold sets the threshold reached at sensitivity 1.0.
func WithBaseThreshold(t float64) Option {
	return func(d *Detector) { d.base = t }
}

// Detector is an amplitude wake detector. Process and Reset must be called
// from one goroutine; UpdateSensitivity and Threshold may be called from any.
type Detector struct {
	classifier audio.Classifier
	base       float64

	sensitivity atomic.Uint64 // float64 bits
	fired       bool
}

// New creates a detector with the given initial sensitivity.
func New(sensitivity float64, opts ...Option) *Detector {
	d := &Detector{
		classifier: audio.RMS,
		base:       DefaultBaseThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	d.UpdateSensitivity(sensitivity)
	return d
}

// Process implements [wake.Detector].
func (d *Detector) Process(frame audio.AudioFrame) bool {
	if d.fired {
		return false
	}
	if d.classifier.Energy(frame) > d.Threshold() {
		d.fired = true
		return true
	}
	return false
}

// Reset implements [wake.Detector].
func (d *Detector) Reset() {
	d.fired = false
}

// UpdateSensitivity implements [wake.Detector].
func (d *Detector) UpdateSensitivity(s float64) {
	d.sensitivity.Store(math.Float64bits(wake.ClampSensitivity(s)))
}

// Sensitivity returns the current (clamped) sensitivity.
func (d *Detector) Sensitivity() float64 {
	return math.Float64frombits(d.sensitivity.Load())
}

// Threshold implements [wake.Detector].
func (d *Detector) Threshold() float64 {
	return d.base * d.Sensitivity()
}

var _ wake.Detector = (*Detector)(nil)
