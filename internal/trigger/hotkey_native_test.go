//go:build (hotkey && linux) || darwin || windows

package trigger

import (
	"testing"

	"golang.design/x/hotkey"
)

func TestHotkey_NativeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec    string
		wantKey hotkey.Key
	}{
		{"ctrl+shift+space", hotkey.KeySpace},
		{"alt+m", hotkey.KeyM},
		{"super+1", hotkey.Key1},
		{"f12", hotkey.KeyF12},
	}
	for _, tc := range tests {
		h, err := ParseHotkey(tc.spec)
		if err != nil {
			t.Fatalf("ParseHotkey(%q) error: %v", tc.spec, err)
		}
		mods, key, err := h.native()
		if err != nil {
			t.Fatalf("native(%q) error: %v", tc.spec, err)
		}
		if len(mods) != len(h.mods) {
			t.Errorf("native(%q) mods = %d, want %d", tc.spec, len(mods), len(h.mods))
		}
		if key != tc.wantKey {
			t.Errorf("native(%q) key = %v, want %v", tc.spec, key, tc.wantKey)
		}
	}
}

func TestHotkey_EveryNameMapsNatively(t *testing.T) {
	t.Parallel()

	names := append([]string(nil), keyNames...)
	for c := 'a'; c <= 'z'; c++ {
		names = append(names, string(c))
	}
	for c := '0'; c <= '9'; c++ {
		names = append(names, string(c))
	}
	for _, n := range names {
		if _, ok := nativeKey(n); !ok {
			t.Errorf("nativeKey(%q) not mapped", n)
		}
	}
	for _, m := range modifierNames {
		if _, ok := modifiers[m]; !ok {
			t.Errorf("modifier %q not mapped", m)
		}
	}
}
