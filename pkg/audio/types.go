package audio

import (
	"encoding/binary"
	"time"
)

// Default pipeline format: 16 kHz mono, 16-bit signed little-endian PCM.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1

	// BytesPerSample is the width of one 16-bit PCM sample.
	BytesPerSample = 2
)

// AudioFrame is one fixed-size chunk of captured PCM. Frames are the unit the
// capture source hands to the pipeline; they are never modified after being
// produced.
type AudioFrame struct {
	// Data holds 16-bit signed little-endian PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for the detection pipeline).
	SampleRate int

	// Channels is 1 for everything past the capture source.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// NumSamples returns the number of samples per channel in the frame.
func (f AudioFrame) NumSamples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (BytesPerSample * ch)
}

// Duration returns the playback length of the frame. A frame with an unknown
// sample rate has zero duration.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.NumSamples()) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame into int16 samples (interleaved if multichannel).
func (f AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.Data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return out
}

// FrameFromSamples encodes mono int16 samples into a frame at sampleRate.
func FrameFromSamples(samples []int16, sampleRate int) AudioFrame {
	return AudioFrame{
		Data:       SamplesToBytes(samples),
		SampleRate: sampleRate,
		Channels:   1,
	}
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// PCMDuration returns the playback length of n bytes of mono 16-bit PCM.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/BytesPerSample) * time.Second / time.Duration(sampleRate)
}

// PCMBytes returns the byte length of d worth of mono 16-bit PCM, aligned to a
// whole sample.
func PCMBytes(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d)*int64(sampleRate)/int64(time.Second)) * BytesPerSample
}
