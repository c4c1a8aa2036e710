package resilience

import (
	"context"

	"github.com/MrWong99/hark/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the utterance to the first healthy backend. If it fails,
// subsequent fallbacks are tried with the same request. The returned
// transcript's Provider field names the backend that answered.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		tr, err := p.Transcribe(ctx, req)
		if err == nil && tr.Provider == "" {
			tr.Provider = p.Name()
		}
		return tr, err
	})
}

// Name returns the primary backend's name.
func (f *STTFallback) Name() string {
	return f.group.Primary().Name()
}

// Breakers reports the circuit breaker state of every backend.
func (f *STTFallback) Breakers() map[string]State {
	return f.group.States()
}

// Healthy reports whether at least one backend accepts calls.
func (f *STTFallback) Healthy() bool {
	return f.group.Healthy()
}
