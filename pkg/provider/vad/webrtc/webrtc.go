// Package webrtc provides an [audio.Classifier] backed by the WebRTC voice
// activity detector. Plugged into the energy VAD engine and the wake
// detector, it replaces raw signal energy with a speech likelihood: the
// fraction of 10 ms sub-frames WebRTC reports as voiced. Thresholds then read
// as "at least this share of the frame is speech".
package webrtc

import (
	"fmt"
	"log/slog"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/hark/pkg/audio"
)

// DefaultMode is the WebRTC aggressiveness used when none is configured.
const DefaultMode = 2

var validRates = []int{8000, 16000, 32000, 48000}

// Classifier scores frames with WebRTC VAD. It is safe for concurrent use;
// calls are serialised because the underlying detector is stateful.
type Classifier struct {
	mu   sync.Mutex
	vad  *webrtcvad.VAD
	mode int

	warnOnce sync.Once
}

// New creates a classifier with the given aggressiveness mode (0–3). Out of
// range modes are clamped.
func New(mode int) (*Classifier, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	mode = max(0, min(mode, 3))
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", mode, err)
	}
	return &Classifier{vad: v, mode: mode}, nil
}

// Mode returns the aggressiveness mode.
func (c *Classifier) Mode() int { return c.mode }

// Energy implements [audio.Classifier]. Frames at unsupported sample rates,
// and frames shorter than 10 ms, score 0.
func (c *Classifier) Energy(frame audio.AudioFrame) float64 {
	if !supportedRate(frame.SampleRate) {
		c.warnOnce.Do(func() {
			slog.Warn("webrtc vad: unsupported sample rate, scoring as silence", "sample_rate", frame.SampleRate)
		})
		return 0
	}
	step := frame.SampleRate / 100 * audio.BytesPerSample
	total := len(frame.Data) / step
	if total == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	voiced := 0
	for i := range total {
		active, err := c.vad.Process(frame.SampleRate, frame.Data[i*step:(i+1)*step])
		if err != nil {
			c.warnOnce.Do(func() {
				slog.Warn("webrtc vad: process failed", "err", err)
			})
			continue
		}
		if active {
			voiced++
		}
	}
	return float64(voiced) / float64(total)
}

func supportedRate(rate int) bool {
	for _, r := range validRates {
		if r == rate {
			return true
		}
	}
	return false
}

var _ audio.Classifier = (*Classifier)(nil)
