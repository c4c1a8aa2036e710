// Package audio defines the frame type, capture source abstraction, signal
// energy classifiers and PCM helpers shared by the hark pipeline.
//
// The primary abstraction is [Source]: a capture device that, once started,
// delivers fixed-size [AudioFrame] values over a bounded channel. The
// producer side never blocks; when the consumer falls behind, frames are
// dropped rather than queued without limit.
//
// Implementations live in sub-packages (audio/portaudio for microphones,
// audio/wavfile for replaying recordings, audio/mock for tests). This package
// lives under pkg/ because external code is expected to implement [Source].
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned by [Source.Start] when the capture device
	// cannot be acquired: no device, no permission, or the device is busy.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrCaptureInterrupted is reported by [Source.Err] when the frame channel
	// was closed because the device went away mid-stream.
	ErrCaptureInterrupted = errors.New("audio: capture interrupted")
)

// Source is a capture device producing a stream of [AudioFrame] values.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start acquires the device and begins capture. The returned channel
	// delivers frames in capture order and is closed when capture ends, either
	// because Stop was called or because the device failed.
	//
	// Calling Start while already started is a no-op that returns the channel
	// of the running capture. Errors wrap [ErrDeviceUnavailable].
	Start(ctx context.Context) (<-chan AudioFrame, error)

	// Stop releases the device. It returns only after the producer has exited;
	// no frame is delivered after Stop returns. Stop on a stopped source is a
	// no-op.
	Stop() error

	// Err reports why the most recent capture ended. It is nil while capture
	// is running and after a clean Stop. When the device failed, the error
	// wraps [ErrCaptureInterrupted].
	Err() error
}

// PermissionGate reports whether the process may use the microphone.
type PermissionGate interface {
	HasMicrophoneAccess() bool
}

// GateFunc adapts a plain function to [PermissionGate].
type GateFunc func() bool

// HasMicrophoneAccess calls f.
func (f GateFunc) HasMicrophoneAccess() bool { return f() }

// AllowAll is a [PermissionGate] that always grants access.
var AllowAll PermissionGate = GateFunc(func() bool { return true })

// Gated returns a [Source] that consults gate before every Start and fails
// fast with [ErrDeviceUnavailable] when access is denied, without touching
// the underlying device.
func Gated(src Source, gate PermissionGate) Source {
	if gate == nil {
		return src
	}
	return &gatedSource{Source: src, gate: gate}
}

type gatedSource struct {
	Source
	gate PermissionGate
}

func (g *gatedSource) Start(ctx context.Context) (<-chan AudioFrame, error) {
	if !g.gate.HasMicrophoneAccess() {
		return nil, fmt.Errorf("%w: microphone access denied", ErrDeviceUnavailable)
	}
	return g.Source.Start(ctx)
}
