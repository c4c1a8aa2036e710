// Package mock provides a test double for wake.Detector.
package mock

import (
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/wake"
)

// Detector is a mock implementation of [wake.Detector]. It fires on the
// frames listed in FireOn (zero-based index since the last Reset).
type Detector struct {
	mu sync.Mutex

	// FireOn lists frame indices (counted since the last Reset) on which
	// Process returns true.
	FireOn []int

	// ThresholdResult is returned by Threshold.
	ThresholdResult float64

	// ProcessCallCount is the total number of Process calls.
	ProcessCallCount int

	// ResetCallCount is the number of Reset calls.
	ResetCallCount int

	// Sensitivities records every UpdateSensitivity argument in order.
	Sensitivities []float64

	index int
	fired bool
}

// Process implements [wake.Detector].
func (d *Detector) Process(audio.AudioFrame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ProcessCallCount++
	i := d.index
	d.index++
	if d.fired {
		return false
	}
	for _, f := range d.FireOn {
		if f == i {
			d.fired = true
			return true
		}
	}
	return false
}

// Reset implements [wake.Detector].
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
	d.index = 0
	d.fired = false
}

// UpdateSensitivity implements [wake.Detector].
func (d *Detector) UpdateSensitivity(s float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sensitivities = append(d.Sensitivities, s)
}

// Threshold implements [wake.Detector].
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ThresholdResult
}

var _ wake.Detector = (*Detector)(nil)
