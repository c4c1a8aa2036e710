package energy_test

import (
	"math"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/wake/energy"
)

// fixed returns a classifier that scores every frame as e.
func fixed(e float64) audio.Classifier {
	return audio.ClassifierFunc(func(audio.AudioFrame) float64 { return e })
}

var frame = audio.FrameFromSamples(make([]int16, 320), 16000)

func TestDetector_ThresholdScalesWithSensitivity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sensitivity float64
		want        float64
	}{
		{0, 0},
		{0.5, 0.05},
		{1, 0.1},
		{-3, 0},
		{7, 0.1},
	}
	for _, tc := range tests {
		d := energy.New(tc.sensitivity)
		if got := d.Threshold(); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("New(%v).Threshold() = %v, want %v", tc.sensitivity, got, tc.want)
		}
	}
}

func TestDetector_ThresholdMonotonic(t *testing.T) {
	t.Parallel()
	d := energy.New(0)
	prev := d.Threshold()
	for s := 0.0; s <= 1.0; s += 0.05 {
		d.UpdateSensitivity(s)
		got := d.Threshold()
		if got < prev {
			t.Fatalf("Threshold decreased from %v to %v at sensitivity %v", prev, got, s)
		}
		prev = got
	}
}

func TestDetector_FiresOnceUntilReset(t *testing.T) {
	t.Parallel()
	d := energy.New(0.5, energy.WithClassifier(fixed(0.2)))

	if !d.Process(frame) {
		t.Fatal("Process() = false on loud frame, want true")
	}
	for i := range 5 {
		if d.Process(frame) {
			t.Fatalf("Process() fired again on frame %d before Reset", i)
		}
	}
	d.Reset()
	if !d.Process(frame) {
		t.Error("Process() after Reset = false, want true")
	}
}

func TestDetector_StrictlyGreater(t *testing.T) {
	t.Parallel()
	// Threshold at sensitivity 0.5 is 0.05.
	d := energy.New(0.5, energy.WithClassifier(fixed(0.05)))
	if d.Process(frame) {
		t.Error("Process() fired at energy equal to threshold")
	}
}

func TestDetector_UpdateSensitivityAppliesToNextFrame(t *testing.T) {
	t.Parallel()
	d := energy.New(1, energy.WithClassifier(fixed(0.06)))
	if d.Process(frame) {
		t.Fatal("Process() fired below threshold 0.1")
	}
	d.UpdateSensitivity(0.5)
	if !d.Process(frame) {
		t.Error("Process() did not fire after lowering threshold to 0.05")
	}
}

func TestDetector_RMSClassifier(t *testing.T) {
	t.Parallel()
	d := energy.New(0.5)
	if d.Process(frame) {
		t.Error("Process() fired on digital silence")
	}
	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 8000
	}
	if !d.Process(audio.FrameFromSamples(loud, 16000)) {
		t.Error("Process() did not fire on loud frame")
	}
}

func TestDetector_BaseThreshold(t *testing.T) {
	t.Parallel()
	d := energy.New(0.5, energy.WithBaseThreshold(0.4))
	if got := d.Threshold(); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("Threshold() = %v, want 0.2", got)
	}
}
