package trigger

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseHotkey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec     string
		wantMods []string
		wantKey  string
	}{
		{"ctrl+shift+space", []string{"ctrl", "shift"}, "space"},
		{"Ctrl + Alt + M", []string{"ctrl", "alt"}, "m"},
		{"f9", nil, "f9"},
		{"super+1", []string{"super"}, "1"},
	}
	for _, tc := range tests {
		h, err := ParseHotkey(tc.spec)
		if err != nil {
			t.Errorf("ParseHotkey(%q) error: %v", tc.spec, err)
			continue
		}
		if !slices.Equal(h.mods, tc.wantMods) {
			t.Errorf("ParseHotkey(%q) mods = %v, want %v", tc.spec, h.mods, tc.wantMods)
		}
		if h.key != tc.wantKey {
			t.Errorf("ParseHotkey(%q) key = %q, want %q", tc.spec, h.key, tc.wantKey)
		}
		if h.String() != tc.spec {
			t.Errorf("String() = %q, want %q", h.String(), tc.spec)
		}
	}
}

func TestParseHotkey_Invalid(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{
		"",
		"ctrl+",
		"hyper+space",
		"ctrl+ctrl+space",
		"ctrl+pageup",
		"ctrl+ab",
	} {
		if _, err := ParseHotkey(spec); !errors.Is(err, ErrInvalidHotkey) {
			t.Errorf("ParseHotkey(%q) error = %v, want ErrInvalidHotkey", spec, err)
		}
	}
}

func TestChan_FiresPerValue(t *testing.T) {
	t.Parallel()

	ch := make(chan struct{})
	var fired atomic.Int32
	done := make(chan error, 1)
	go func() { done <- Chan(ch).Run(context.Background(), func() { fired.Add(1) }) }()

	for range 3 {
		ch <- struct{}{}
	}
	close(ch)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if got := fired.Load(); got != 3 {
		t.Errorf("fired = %d, want 3", got)
	}
}

func TestChan_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Chan(make(chan struct{})).Run(ctx, func() { t.Error("fire called") }); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
