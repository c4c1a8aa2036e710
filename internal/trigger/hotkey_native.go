//go:build (hotkey && linux) || darwin || windows

package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"golang.design/x/hotkey"
)

var namedKeys = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"return": hotkey.KeyReturn,
	"enter":  hotkey.KeyReturn,
	"escape": hotkey.KeyEscape,
	"esc":    hotkey.KeyEscape,
	"tab":    hotkey.KeyTab,
	"delete": hotkey.KeyDelete,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
	"f1":     hotkey.KeyF1,
	"f2":     hotkey.KeyF2,
	"f3":     hotkey.KeyF3,
	"f4":     hotkey.KeyF4,
	"f5":     hotkey.KeyF5,
	"f6":     hotkey.KeyF6,
	"f7":     hotkey.KeyF7,
	"f8":     hotkey.KeyF8,
	"f9":     hotkey.KeyF9,
	"f10":    hotkey.KeyF10,
	"f11":    hotkey.KeyF11,
	"f12":    hotkey.KeyF12,
}

var (
	letterKeys = []hotkey.Key{
		hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE, hotkey.KeyF,
		hotkey.KeyG, hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ, hotkey.KeyK, hotkey.KeyL,
		hotkey.KeyM, hotkey.KeyN, hotkey.KeyO, hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR,
		hotkey.KeyS, hotkey.KeyT, hotkey.KeyU, hotkey.KeyV, hotkey.KeyW, hotkey.KeyX,
		hotkey.KeyY, hotkey.KeyZ,
	}
	digitKeys = []hotkey.Key{
		hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4,
		hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
	}
)

// nativeKey maps a key name accepted by ParseHotkey to the platform key.
func nativeKey(name string) (hotkey.Key, bool) {
	if len(name) == 1 {
		switch c := name[0]; {
		case c >= 'a' && c <= 'z':
			return letterKeys[c-'a'], true
		case c >= '0' && c <= '9':
			return digitKeys[c-'0'], true
		}
	}
	k, ok := namedKeys[name]
	return k, ok
}

func (h *Hotkey) native() ([]hotkey.Modifier, hotkey.Key, error) {
	mods := make([]hotkey.Modifier, 0, len(h.mods))
	for _, m := range h.mods {
		mod, ok := modifiers[m]
		if !ok {
			return nil, 0, fmt.Errorf("%w: modifier %q not available on this platform", ErrInvalidHotkey, m)
		}
		mods = append(mods, mod)
	}
	key, ok := nativeKey(h.key)
	if !ok {
		return nil, 0, fmt.Errorf("%w: key %q not available on this platform", ErrInvalidHotkey, h.key)
	}
	return mods, key, nil
}

// Run registers the shortcut and calls fire on each key press until ctx is
// cancelled. The shortcut is unregistered on return.
func (h *Hotkey) Run(ctx context.Context, fire func()) error {
	mods, key, err := h.native()
	if err != nil {
		return err
	}
	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("trigger: register hotkey %q: %w", h.spec, err)
	}
	defer func() {
		if err := hk.Unregister(); err != nil {
			slog.Warn("trigger: unregister hotkey", "hotkey", h.spec, "err", err)
		}
	}()
	slog.Info("hotkey registered", "hotkey", h.spec)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-hk.Keydown():
			if !ok {
				return nil
			}
			slog.Debug("hotkey pressed", "hotkey", h.spec)
			fire()
		}
	}
}
