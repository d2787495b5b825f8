// Package config loads and validates the daemon's configuration file
// (§6 "Configuration file"): a human-readable key/value file with
// [Section] headers, located by trying /etc/smooth_scroll/config.ini then
// ./config.ini.
//
// No INI-parsing library appears anywhere in the retrieved example corpus
// (DESIGN.md records the search), so this is one ambient concern
// deliberately carried on the standard library rather than forced onto an
// unrelated format library (TOML/YAML) the corpus does carry — the file
// format in §6 is unambiguously INI-shaped, and inventing a dependency that
// isn't grounded anywhere would violate the "never fabricate dependencies"
// rule more than a small hand-rolled reader would.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"scrollholdd/internal/activation"
)

// Mode mirrors activation.Mode but is parsed from the file's own vocabulary.
type Mode = activation.Mode

const (
	ModeOneKeyToggle    = activation.ModeOneKeyToggle
	ModeOneKeyMomentary = activation.ModeOneKeyMomentary
	ModeOnOff           = activation.ModeOnOff
)

// Hotkey is a resolved (or intentionally absent) hotkey binding.
type Hotkey struct {
	Name    string
	Binding KeyBinding
	Bound   bool
}

// Config is the immutable, validated configuration (§3 "Configuration").
type Config struct {
	Hotkey1     Hotkey
	Hotkey2     Hotkey // optional
	PanicButton Hotkey // optional

	Mode           Mode
	HoldDuration   time.Duration

	Sensitivity       float64
	RefreshInterval   time.Duration
	SmoothingWindow   int

	SnapOnByDefault bool
	SnapRatio       float64
	SnapThreshold   float64

	AccelerationOn     bool
	AccelerationBlend  float64
	AccelerationScale  float64

	// Reserved for future use — the original source declares these and never
	// acts on them (spec.md §9 Open Questions); we parse them (a value that
	// is not a boolean falls back to false) but never wire them to an
	// emitted modifier key event.
	AddShift bool
	AddCtrl  bool
	AddAlt   bool

	// DeviceNameContains narrows §4.5 step 1's enumeration ("select the
	// first whose name matches configured substrings and which advertises
	// relative X/Y") beyond the bare rel-X/Y capability test. Empty means
	// "any device advertising relative X/Y", which is how the teacher's own
	// findDevice fallback behaves when mustContain is empty.
	DeviceNameContains string
}

// DefaultPaths is the §6 lookup order.
var DefaultPaths = []string{
	"/etc/smooth_scroll/config.ini",
	"./config.ini",
}

// Load tries each of paths in order (falling back to DefaultPaths when paths
// is empty) and parses the first one that opens. log receives a warning for
// every unresolved symbolic hotkey name (§6 "hotkey disabled with warning");
// a nil log is treated as slog.Default().
func Load(log *slog.Logger, paths ...string) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var lastErr error
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			lastErr = err
			continue
		}
		defer f.Close()
		return parse(f, log)
	}
	return nil, fmt.Errorf("no config file found (tried %v): %w", paths, lastErr)
}

type iniFile map[string]map[string]string

func parseINI(r io.Reader) (iniFile, error) {
	sections := iniFile{}
	section := ""
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := sections[section]; !ok {
				sections[section] = map[string]string{}
			}
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("line %d: expected key = value", lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if section == "" {
			return nil, fmt.Errorf("line %d: key %q outside any [Section]", lineNo, key)
		}
		sections[section][key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}

func parse(r io.Reader, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	ini, err := parseINI(r)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{}

	hk1, err := requiredString(ini, "Hotkeys", "hotkey1")
	if err != nil {
		return nil, err
	}
	cfg.Hotkey1 = resolveHotkey("hotkey1", hk1, log)

	if hk2, ok := optionalString(ini, "Hotkeys", "hotkey2"); ok {
		cfg.Hotkey2 = resolveHotkey("hotkey2", hk2, log)
	}
	if panicName, ok := optionalString(ini, "Hotkeys", "panicButton"); ok {
		cfg.PanicButton = resolveHotkey("panicButton", panicName, log)
	}

	modeStr, err := requiredString(ini, "Hotkeys", "mode")
	if err != nil {
		return nil, err
	}
	mode, err := parseMode(modeStr)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	holdMs, err := requiredInt(ini, "Hotkeys", "holdDuration")
	if err != nil {
		return nil, err
	}
	cfg.HoldDuration = time.Duration(holdMs) * time.Millisecond

	cfg.Sensitivity = optionalFloat(ini, "Texture", "sensitivity", 1.0)
	refreshMs := optionalInt(ini, "Texture", "refreshInterval", 10)
	cfg.RefreshInterval = time.Duration(refreshMs) * time.Millisecond
	cfg.SmoothingWindow = optionalInt(ini, "Texture", "smoothingWindowMaxSize", 1)
	if cfg.SmoothingWindow < 1 {
		return nil, fmt.Errorf("Texture.smoothingWindowMaxSize must be >= 1")
	}
	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("Texture.refreshInterval must be positive")
	}

	cfg.SnapOnByDefault = optionalBool(ini, "Axis Snapping", "snapOnByDefault", false)
	cfg.SnapRatio = optionalFloat(ini, "Axis Snapping", "snapRatio", 0.5)
	if cfg.SnapRatio < 0 || cfg.SnapRatio > 1 {
		return nil, fmt.Errorf("Axis Snapping.snapRatio must be within [0,1]")
	}
	cfg.SnapThreshold = optionalFloat(ini, "Axis Snapping", "snapThreshold", 10)
	if cfg.SnapThreshold <= 0 {
		return nil, fmt.Errorf("Axis Snapping.snapThreshold must be positive")
	}

	cfg.AccelerationOn = optionalBool(ini, "Acceleration", "accelerationOn", false)
	cfg.AccelerationBlend = optionalFloat(ini, "Acceleration", "accelerationBlend", 1.0)
	cfg.AccelerationScale = optionalFloat(ini, "Acceleration", "accelerationScale", 1.0)

	cfg.AddShift = optionalBool(ini, "Modifier Emulation", "addShift", false)
	cfg.AddCtrl = optionalBool(ini, "Modifier Emulation", "addCtrl", false)
	cfg.AddAlt = optionalBool(ini, "Modifier Emulation", "addAlt", false)

	cfg.DeviceNameContains, _ = optionalString(ini, "Device", "nameContains")

	return cfg, nil
}

func resolveHotkey(key, name string, log *slog.Logger) Hotkey {
	binding, ok := ResolveKey(name)
	if !ok {
		log.Warn("unknown hotkey name, hotkey disabled", "key", key, "name", name)
	}
	return Hotkey{Name: name, Binding: binding, Bound: ok}
}

func parseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ONE_KEY_TOGGLE":
		return ModeOneKeyToggle, nil
	case "ONE_KEY_MOMENTARY":
		return ModeOneKeyMomentary, nil
	case "ON_OFF":
		return ModeOnOff, nil
	default:
		return 0, fmt.Errorf("Hotkeys.mode: unknown mode %q", s)
	}
}

func requiredString(ini iniFile, section, key string) (string, error) {
	v, ok := optionalString(ini, section, key)
	if !ok {
		return "", fmt.Errorf("missing required key %q in section [%s]", key, section)
	}
	return v, nil
}

func optionalString(ini iniFile, section, key string) (string, bool) {
	sec, ok := ini[section]
	if !ok {
		return "", false
	}
	v, ok := sec[key]
	return v, ok
}

func requiredInt(ini iniFile, section, key string) (int, error) {
	s, err := requiredString(ini, section, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", section, key, err)
	}
	return n, nil
}

func optionalInt(ini iniFile, section, key string, def int) int {
	s, ok := optionalString(ini, section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func optionalFloat(ini iniFile, section, key string, def float64) float64 {
	s, ok := optionalString(ini, section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func optionalBool(ini iniFile, section, key string, def bool) bool {
	s, ok := optionalString(ini, section, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return def
	}
	return b
}
