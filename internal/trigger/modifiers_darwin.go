package trigger

import "golang.design/x/hotkey"

// modifiers maps modifier names to macOS modifiers. Alt is the option key
// and super is command.
var modifiers = map[string]hotkey.Modifier{
	"ctrl":  hotkey.ModCtrl,
	"shift": hotkey.ModShift,
	"alt":   hotkey.ModOption,
	"super": hotkey.ModCmd,
}
