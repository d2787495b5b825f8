package config

import evdev "github.com/gvalkov/golang-evdev"

// KeyBinding is a resolved symbolic key/button name: an evdev code plus
// whether it lives on the mouse device (so the router, not the keyboard
// reader, must watch for it — see §4.3's "only when HK1 is a mouse
// button").
type KeyBinding struct {
	Code         uint16
	IsMouseButton bool
}

// symbolicKeys is §6's "Symbolic key names" table: at minimum F1..F12, the
// single letters m/n/p, space/esc/enter for keyboard, and the three mouse
// buttons. Unknown names resolve to (KeyBinding{}, false); the caller logs
// the "hotkey disabled with warning" per §6 (see resolveHotkey in config.go).
var symbolicKeys = map[string]KeyBinding{
	"F1":  {Code: uint16(evdev.KEY_F1)},
	"F2":  {Code: uint16(evdev.KEY_F2)},
	"F3":  {Code: uint16(evdev.KEY_F3)},
	"F4":  {Code: uint16(evdev.KEY_F4)},
	"F5":  {Code: uint16(evdev.KEY_F5)},
	"F6":  {Code: uint16(evdev.KEY_F6)},
	"F7":  {Code: uint16(evdev.KEY_F7)},
	"F8":  {Code: uint16(evdev.KEY_F8)},
	"F9":  {Code: uint16(evdev.KEY_F9)},
	"F10": {Code: uint16(evdev.KEY_F10)},
	"F11": {Code: uint16(evdev.KEY_F11)},
	"F12": {Code: uint16(evdev.KEY_F12)},

	"m": {Code: uint16(evdev.KEY_M)},
	"n": {Code: uint16(evdev.KEY_N)},
	"p": {Code: uint16(evdev.KEY_P)},

	"space": {Code: uint16(evdev.KEY_SPACE)},
	"esc":   {Code: uint16(evdev.KEY_ESC)},
	"enter": {Code: uint16(evdev.KEY_ENTER)},

	"LButton": {Code: uint16(evdev.BTN_LEFT), IsMouseButton: true},
	"RButton": {Code: uint16(evdev.BTN_RIGHT), IsMouseButton: true},
	"MButton": {Code: uint16(evdev.BTN_MIDDLE), IsMouseButton: true},
}

// ResolveKey looks up a symbolic key name. ok is false for an unknown name.
func ResolveKey(name string) (KeyBinding, bool) {
	kb, ok := symbolicKeys[name]
	return kb, ok
}
