package coordinator

import (
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// Clock supplies the pipeline time. The coordinator reads it exactly once per
// processed frame and once per manual trigger; every duration decision
// (silence debounce, max duration, no-speech timeout) is a deadline check
// against these readings.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to [Clock].
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the monotonic wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// frameObserver is implemented by clocks that derive time from the frames
// themselves. The coordinator calls ObserveFrame before reading Now.
type frameObserver interface {
	ObserveFrame(frame audio.AudioFrame)
}

// FrameClock derives time from frame timestamps: Now returns the base time
// plus the capture offset of the most recently observed frame. It makes
// offline replay deterministic regardless of how fast frames are delivered.
type FrameClock struct {
	base time.Time

	mu   sync.Mutex
	last time.Duration
}

// NewFrameClock returns a FrameClock anchored at base.
func NewFrameClock(base time.Time) *FrameClock {
	return &FrameClock{base: base}
}

// ObserveFrame advances the clock to the frame's capture offset.
func (c *FrameClock) ObserveFrame(frame audio.AudioFrame) {
	c.mu.Lock()
	c.last = frame.Timestamp
	c.mu.Unlock()
}

// Now implements [Clock].
func (c *FrameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Add(c.last)
}

var _ frameObserver = (*FrameClock)(nil)
