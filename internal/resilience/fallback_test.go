package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// newGroup returns a group of string entries named after their values.
func newGroup(cb CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{CircuitBreaker: cb})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

// failing returns a call that fails for the named entries and records the
// order in which entries were tried.
func failing(calls *[]string, bad ...string) func(string) error {
	return func(v string) error {
		*calls = append(*calls, v)
		for _, b := range bad {
			if v == b {
				return errTest
			}
		}
		return nil
	}
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		bad       []string
		wantCalls string
		wantErr   bool
	}{
		{name: "primary answers", wantCalls: "stt-a"},
		{name: "first fallback answers", bad: []string{"stt-a"}, wantCalls: "stt-a,stt-b"},
		{name: "last fallback answers", bad: []string{"stt-a", "stt-b"}, wantCalls: "stt-a,stt-b,stt-c"},
		{name: "all fail", bad: []string{"stt-a", "stt-b", "stt-c"}, wantCalls: "stt-a,stt-b,stt-c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "stt-a", "stt-b", "stt-c")

			var calls []string
			err := fg.Execute(failing(&calls, tt.bad...))
			if got := strings.Join(calls, ","); got != tt.wantCalls {
				t.Errorf("calls = %s, want %s", got, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("Execute() error = %v, want ErrAllFailed wrapping the last failure", err)
			}
		})
	}
}

func TestFallbackGroup_ErrorNamesEveryEntry(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{}, "whisper", "deepgram")

	var calls []string
	err := fg.Execute(failing(&calls, "whisper", "deepgram"))
	for _, name := range []string{"whisper: test error", "deepgram: test error"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %q", err, name)
		}
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "primary", "secondary")

	var calls []string
	for range 2 {
		_ = fg.Execute(failing(&calls, "primary"))
	}

	calls = nil
	if err := fg.Execute(failing(&calls)); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got := strings.Join(calls, ","); got != "secondary" {
		t.Errorf("calls = %s, want only secondary while the primary circuit is open", got)
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, "primary", "secondary")

	var calls []string
	_ = fg.Execute(failing(&calls, "primary", "secondary"))

	calls = nil
	err := fg.Execute(failing(&calls))
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	if fg.Healthy() {
		t.Error("Healthy() = true with every circuit open")
	}
}

func TestFallbackGroup_ContextErrorStopsFailover(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{}, "primary", "secondary")

	var calls []string
	err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("context error reported as ErrAllFailed")
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	got, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error: %v", err)
	}
	if got != 40 {
		t.Errorf("ExecuteWithResult() = %d, want 40", got)
	}

	got, err = ExecuteWithResult(fg, func(int) (int, error) { return 99, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("ExecuteWithResult() error = %v, want ErrAllFailed", err)
	}
	if got != 0 {
		t.Errorf("ExecuteWithResult() = %d on failure, want zero value", got)
	}
}

func TestFallbackGroup_StatesAndHealthy(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, "primary", "secondary")

	if got := fg.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := fg.Primary(); got != "primary" {
		t.Errorf("Primary() = %q, want %q", got, "primary")
	}

	var calls []string
	_ = fg.Execute(failing(&calls, "primary"))
	states := fg.States()
	if states["primary"] != StateOpen || states["secondary"] != StateClosed {
		t.Errorf("States() = %v, want primary open and secondary closed", states)
	}
	if !fg.Healthy() {
		t.Error("Healthy() = false with a closed secondary")
	}
}

func TestFallbackGroup_BreakerHookPerEntry(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		tripped []string
	)
	fg := newGroup(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		OnStateChange: func(name string, _, to State) {
			mu.Lock()
			defer mu.Unlock()
			if to == StateOpen {
				tripped = append(tripped, name)
			}
		},
	}, "primary", "secondary")

	var calls []string
	_ = fg.Execute(failing(&calls, "primary", "secondary"))

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(tripped, ","); got != "primary,secondary" {
		t.Errorf("tripped = %s, want primary,secondary", got)
	}
}
