package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// ErrMisaligned is returned for PCM whose byte length is not a whole number
// of 16-bit samples for the stated channel count.
var ErrMisaligned = errors.New("audio: pcm length is not sample aligned")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch {
	case f.Channels <= 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter turns a stream of frames in any format into mono PCM at one
// sample rate. Capture devices commonly run at 44.1 or 48 kHz stereo while
// detection and transcription expect 16 kHz mono.
//
// Resampling is linear and keeps its phase across frames, so a stream cut
// into frames converts to the same samples as the whole buffer at once. A
// Converter belongs to one stream and is not safe for concurrent use.
type Converter struct {
	rate int

	src    int     // source rate of the current stream, 0 before the first frame
	phase  float64 // position of the next output sample, in source samples relative to the next input
	prev   int16   // last source sample of the previous frame
	warned bool
}

// NewConverter returns a converter producing mono PCM at rate.
func NewConverter(rate int) *Converter {
	return &Converter{rate: rate}
}

// Convert returns frame as mono PCM at the converter's rate. A frame already
// in that format is returned as is.
func (c *Converter) Convert(frame AudioFrame) (AudioFrame, error) {
	ch := max(frame.Channels, 1)
	if len(frame.Data)%(ch*BytesPerSample) != 0 {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes for %d channels", ErrMisaligned, len(frame.Data), ch)
	}
	if frame.SampleRate == c.rate && ch == 1 {
		return frame, nil
	}
	out := FrameFromSamples(c.ConvertSamples(frame.Samples(), frame.SampleRate, ch), c.rate)
	out.Timestamp = frame.Timestamp
	return out, nil
}

// ConvertSamples downmixes interleaved samples with the given channel count
// and resamples them from rate to the converter's rate.
func (c *Converter) ConvertSamples(samples []int16, rate, channels int) []int16 {
	if !c.warned && (rate != c.rate || channels > 1) {
		c.warned = true
		slog.Info("audio: converting capture format",
			"from", Format{SampleRate: rate, Channels: channels},
			"to", Format{SampleRate: c.rate, Channels: 1},
		)
	}
	mono := Downmix(samples, channels)
	if rate <= 0 || rate == c.rate {
		return mono
	}
	if rate != c.src {
		c.src, c.phase = rate, 0
	}
	return c.resample(mono)
}

func (c *Converter) resample(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	step := float64(c.src) / float64(c.rate)
	out := make([]int16, 0, int(float64(len(in))/step)+1)
	for {
		i := int(math.Floor(c.phase))
		if i+1 >= len(in) {
			break
		}
		s0 := c.prev
		if i >= 0 {
			s0 = in[i]
		}
		frac := c.phase - float64(i)
		a, b := float64(s0), float64(in[i+1])
		out = append(out, int16(math.Round(a+frac*(b-a))))
		c.phase += step
	}
	c.phase -= float64(len(in))
	c.prev = in[len(in)-1]
	return out
}

// Downmix averages interleaved samples with the given channel count into one
// channel. Mono input is returned unchanged.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
