// Package activation implements the hotkey activation state machine
// (component C3): tap-vs-hold discrimination, the three mode semantics, and
// panic disengage.
//
// See SPEC_FULL.md §4.3.1 for the resolution of how the tap/hold overlay
// interacts with ONE_KEY_TOGGLE and ON_OFF when HK1 is a mouse button.
package activation

import (
	"sync"
	"time"
)

// Mode selects how HK1/HK2 presses map to engine activation.
type Mode int

const (
	ModeOneKeyToggle Mode = iota
	ModeOneKeyMomentary
	ModeOnOff
)

// HotkeyID identifies which configured hotkey an event belongs to.
type HotkeyID int

const (
	HK1 HotkeyID = iota
	HK2
	Panic
)

// Engine is the subset of scrollengine.Engine the FSM drives.
type Engine interface {
	IsActive() bool
	Activate()
	Deactivate()
}

// Clicker is the subset of virtualout.Device the FSM needs to synthesize a
// tap fall-through click.
type Clicker interface {
	EmitButton(code uint16, down bool) error
}

// Config configures one FSM instance.
type Config struct {
	Mode         Mode
	HoldDuration time.Duration

	// HK1IsMouseButton selects whether the tap/hold overlay (§4.3) applies
	// to HK1. HK2 and Panic never carry the overlay (see SPEC_FULL.md
	// §4.3.1).
	HK1IsMouseButton bool

	// HK1ClickCode is the button code synthesized on tap fall-through; only
	// meaningful when HK1IsMouseButton is true.
	HK1ClickCode uint16
}

// FSM is C3. All exported methods are safe for concurrent use; they are
// driven from both T_mouse (HK1 when it's a mouse button, plus the periodic
// deadline check and motion notifications) and T_keyboard (every keyboard
// hotkey).
type FSM struct {
	mu sync.Mutex

	cfg     Config
	engine  Engine
	clicker Clicker
	now     func() time.Time
	onPanic func()

	isHolding    bool
	pressInstant time.Time

	hk1Pressed bool
	hk2Pressed bool
	panicFired bool
}

// New constructs an FSM. now defaults to time.Now; tests inject a fake clock.
// onPanic is called (at most once) when the panic button is pressed.
func New(cfg Config, engine Engine, clicker Clicker, now func() time.Time, onPanic func()) *FSM {
	if now == nil {
		now = time.Now
	}
	return &FSM{
		cfg:     cfg,
		engine:  engine,
		clicker: clicker,
		now:     now,
		onPanic: onPanic,
	}
}

// IsHolding reports whether HK1 is currently physically held down (mouse
// button case only — always false for a keyboard-bound HK1).
func (f *FSM) IsHolding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isHolding
}

// HotkeyPress handles the rising edge of a hotkey. For HK2, Panic and a
// keyboard-bound HK1, a duplicate press without an intervening release
// (key-repeat) hits a latch and is a no-op; a mouse-bound HK1 press always
// re-arms the hold timer. Duplicate presses are not logged, here or by the
// callers.
func (f *FSM) HotkeyPress(id HotkeyID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch id {
	case Panic:
		if f.panicFired {
			return
		}
		f.panicFired = true
		if f.onPanic != nil {
			f.onPanic()
		}

	case HK2:
		if f.hk2Pressed {
			return
		}
		f.hk2Pressed = true
		if f.cfg.Mode == ModeOnOff {
			f.engine.Deactivate()
		}

	case HK1:
		if f.cfg.HK1IsMouseButton {
			f.hk1Pressed = true
			f.isHolding = true
			f.pressInstant = f.now()
			return
		}
		if f.hk1Pressed {
			return
		}
		f.hk1Pressed = true
		switch f.cfg.Mode {
		case ModeOneKeyToggle:
			if f.engine.IsActive() {
				f.engine.Deactivate()
			} else {
				f.engine.Activate()
			}
		case ModeOneKeyMomentary, ModeOnOff:
			f.engine.Activate()
		}
	}
}

// HotkeyRelease handles the falling edge. A release with no matching press
// (stray release) is an idempotent no-op, per §7. The only error it can
// return comes from the tap fall-through's synthesized click failing to
// write to the virtual device; callers propagate it so the supervisor's
// retry loop fires (spec.md §7's virtual-device-write-failure row).
func (f *FSM) HotkeyRelease(id HotkeyID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch id {
	case Panic:
		// no-op

	case HK2:
		f.hk2Pressed = false

	case HK1:
		if f.cfg.HK1IsMouseButton {
			wasHolding := f.isHolding
			f.isHolding = false
			f.hk1Pressed = false
			if f.engine.IsActive() {
				f.engine.Deactivate()
				return nil
			}
			if wasHolding && f.now().Sub(f.pressInstant) < f.cfg.HoldDuration {
				return f.synthesizeTap()
			}
			return nil
		}
		f.hk1Pressed = false
		if f.cfg.Mode == ModeOneKeyMomentary {
			f.engine.Deactivate()
		}
	}
	return nil
}

// OnMotion is called by the router for every relative-motion event observed
// while HK1 is a mouse button currently held down and the engine is not yet
// active. Any motion during the hold window is drag intent: activate
// immediately (§4.3 rule 1, P6).
func (f *FSM) OnMotion() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isHolding && !f.engine.IsActive() {
		f.engine.Activate()
	}
}

// CheckDeadline is called cheaply on every event (§4.4 rule 3): if HK1 has
// been held without activating for at least HoldDuration, activate now
// (§4.3 rule 2, P5).
func (f *FSM) CheckDeadline(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isHolding && !f.engine.IsActive() && now.Sub(f.pressInstant) >= f.cfg.HoldDuration {
		f.engine.Activate()
	}
}

// synthesizeTap emits a press+release pair on HK1's own code, letting a
// genuine click fall through instead of being swallowed by the hold
// discrimination (§4.3 tap fall-through, P4). Caller holds f.mu.
func (f *FSM) synthesizeTap() error {
	if f.clicker == nil {
		return nil
	}
	if err := f.clicker.EmitButton(f.cfg.HK1ClickCode, true); err != nil {
		return err
	}
	return f.clicker.EmitButton(f.cfg.HK1ClickCode, false)
}
