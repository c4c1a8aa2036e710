package trigger

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrInvalidHotkey is returned by [ParseHotkey] for malformed shortcuts.
	ErrInvalidHotkey = errors.New("trigger: invalid hotkey")

	// ErrHotkeyUnsupported is returned by [Hotkey.Run] on builds without
	// global hotkey support. Linux needs the "hotkey" build tag and an X11
	// display.
	ErrHotkeyUnsupported = errors.New("trigger: global hotkeys not supported by this build")
)

// modifierNames are the accepted modifier spellings; each platform maps them
// to its own modifier keys.
var modifierNames = []string{"ctrl", "shift", "alt", "super"}

// keyNames are the accepted key spellings besides single letters and digits.
var keyNames = []string{
	"space", "return", "enter", "escape", "esc", "tab", "delete",
	"left", "right", "up", "down",
	"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12",
}

func validKey(name string) bool {
	if len(name) == 1 && (name[0] >= 'a' && name[0] <= 'z' || name[0] >= '0' && name[0] <= '9') {
		return true
	}
	return slices.Contains(keyNames, name)
}

// Hotkey is a [Source] backed by a global keyboard shortcut. Every key press
// fires; key release is ignored.
//
// On macOS the hotkey event loop must run on the main thread, which the
// caller arranges with golang.design/x/hotkey/mainthread.
type Hotkey struct {
	spec string
	mods []string
	key  string
}

// ParseHotkey parses a shortcut such as "ctrl+shift+space". Parts are joined
// with '+', are case-insensitive, and the last part names the key. Modifier
// names are ctrl, shift, alt and super. Parsing does not depend on platform
// support, so a configured shortcut is validated on every build.
func ParseHotkey(spec string) (*Hotkey, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(spec)), "+")
	if parts[len(parts)-1] == "" {
		return nil, fmt.Errorf("%w: %q has no key", ErrInvalidHotkey, spec)
	}

	h := &Hotkey{spec: spec}
	for _, p := range parts[:len(parts)-1] {
		p = strings.TrimSpace(p)
		if !slices.Contains(modifierNames, p) {
			return nil, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidHotkey, p, spec)
		}
		if slices.Contains(h.mods, p) {
			return nil, fmt.Errorf("%w: modifier %q repeated in %q", ErrInvalidHotkey, p, spec)
		}
		h.mods = append(h.mods, p)
	}

	h.key = strings.TrimSpace(parts[len(parts)-1])
	if !validKey(h.key) {
		return nil, fmt.Errorf("%w: unknown key %q in %q", ErrInvalidHotkey, h.key, spec)
	}
	return h, nil
}

// String returns the shortcut as configured.
func (h *Hotkey) String() string { return h.spec }

var _ Source = (*Hotkey)(nil)
