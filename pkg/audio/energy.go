package audio

import (
	"encoding/binary"
	"math"
)

// Classifier maps a frame to a scalar energy in [0, 1]. The wake detector
// and the voice activity detector share one Classifier so that their
// thresholds are on the same scale.
type Classifier interface {
	Energy(frame AudioFrame) float64
}

// ClassifierFunc adapts a plain function to [Classifier].
type ClassifierFunc func(AudioFrame) float64

// Energy calls f.
func (f ClassifierFunc) Energy(frame AudioFrame) float64 { return f(frame) }

// RMS is the default [Classifier]: the root-mean-square of the samples,
// normalised so that full-scale audio is 1.0. Empty frames have energy 0.
var RMS Classifier = ClassifierFunc(rmsEnergy)

// MeanAbsolute is a [Classifier] returning the mean absolute normalised
// sample value. It reacts less strongly to short peaks than [RMS].
var MeanAbsolute Classifier = ClassifierFunc(meanAbsEnergy)

func rmsEnergy(frame AudioFrame) float64 {
	n := len(frame.Data) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Min(math.Sqrt(sum/float64(n)), 1)
}

func meanAbsEnergy(frame AudioFrame) float64 {
	n := len(frame.Data) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sum += math.Abs(float64(int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))) / 32768.0)
	}
	return math.Min(sum/float64(n), 1)
}
