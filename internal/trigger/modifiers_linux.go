//go:build hotkey

package trigger

import "golang.design/x/hotkey"

// modifiers maps modifier names to X11 modifier masks. Alt is Mod1 and the
// super key is Mod4 on common layouts.
var modifiers = map[string]hotkey.Modifier{
	"ctrl":  hotkey.ModCtrl,
	"shift": hotkey.ModShift,
	"alt":   hotkey.Mod1,
	"super": hotkey.Mod4,
}
