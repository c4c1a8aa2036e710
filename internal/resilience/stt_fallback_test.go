package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{ProviderName: "whisper", Result: stt.Transcript{Text: "navigate to berlin"}}
	secondary := &sttmock.Provider{ProviderName: "deepgram"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("deepgram", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte{0, 0}, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if tr.Text != "navigate to berlin" {
		t.Errorf("Text = %q, want %q", tr.Text, "navigate to berlin")
	}
	if tr.Provider != "whisper" {
		t.Errorf("Provider = %q, want %q", tr.Provider, "whisper")
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
	if fb.Name() != "whisper" {
		t.Errorf("Name() = %q, want %q", fb.Name(), "whisper")
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{ProviderName: "whisper", Err: errors.New("primary down")}
	secondary := &sttmock.Provider{ProviderName: "deepgram", Result: stt.Transcript{Text: "hello"}}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("deepgram", secondary)

	req := stt.Request{Audio: []byte{1, 2, 3, 4}, SampleRate: 16000, Language: "en"}
	tr, err := fb.Transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if tr.Provider != "deepgram" {
		t.Errorf("Provider = %q, want %q", tr.Provider, "deepgram")
	}
	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(calls))
	}
	if calls[0].Req.Language != "en" || len(calls[0].Req.Audio) != 4 {
		t.Errorf("secondary request = %+v, want the original request", calls[0].Req)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Transcribe() error = %v, want ErrAllFailed", err)
	}
	if fb.Healthy() {
		t.Error("Healthy() = true after every backend tripped")
	}
	for name, st := range fb.Breakers() {
		if st != StateOpen {
			t.Errorf("breaker %q = %v, want open", name, st)
		}
	}
}

func TestSTTFallback_Transcribe_CancelledDoesNotFailOver(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	primary := &sttmock.Provider{Block: block}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fb.Transcribe(ctx, stt.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Transcribe() error = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	close(block)
}
