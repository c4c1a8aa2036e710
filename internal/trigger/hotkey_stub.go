//go:build !((hotkey && linux) || darwin || windows)

package trigger

import "context"

// Run reports [ErrHotkeyUnsupported]. The hotkey library opens the X11
// display when its package initialises and panics without one, so Linux
// builds only link it with the "hotkey" tag.
func (h *Hotkey) Run(context.Context, func()) error {
	return ErrHotkeyUnsupported
}
