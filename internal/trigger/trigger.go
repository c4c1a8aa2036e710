// Package trigger provides manual activation sources for the capture
// pipeline.
//
// A [Source] calls fire once per user gesture. The application wires fire to
// TriggerManualRecording, so a gesture starts a recording from any state and
// is ignored while one is already running.
package trigger

import "context"

// Source delivers manual activation gestures.
type Source interface {
	// Run calls fire for every gesture until ctx is cancelled. It returns nil
	// on cancellation and an error when the source cannot be set up.
	Run(ctx context.Context, fire func()) error
}

// Chan is a [Source] fed by sends on a channel. It is useful for tests and
// for bridging in-process gestures such as a tray menu item.
type Chan <-chan struct{}

// Run calls fire for every value received until ctx is cancelled or the
// channel is closed.
func (c Chan) Run(ctx context.Context, fire func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-c:
			if !ok {
				return nil
			}
			fire()
		}
	}
}

var _ Source = Chan(nil)
