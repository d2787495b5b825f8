// Package router implements the grab/replay loop (component C4): the
// blocking read loop over one grabbed physical device that, per event,
// decides whether to forward, swallow, or feed the scroll engine / hotkey
// FSM.
package router

import (
	"time"

	"scrollholdd/internal/activation"
	"scrollholdd/internal/kernelio"
)

const (
	evKey = 0x01
	evRel = 0x02

	relX = 0x00
	relY = 0x01
)

// Engine is the subset of scrollengine.Engine the router feeds.
type Engine interface {
	IsActive() bool
	AddMotion(dx, dy float64)
	AddWheel(delta float64)
}

// FSM is the subset of activation.FSM the router drives.
type FSM interface {
	HotkeyPress(id activation.HotkeyID)
	HotkeyRelease(id activation.HotkeyID) error
	OnMotion()
	CheckDeadline(now time.Time)
	IsHolding() bool
}

// Sink is the subset of virtualout.Device the router replays/synthesizes
// through.
type Sink interface {
	EmitMotion(dx, dy int32) error
	EmitRaw(typ, code uint16, value int32) error
}

// Source is the blocking event reader over the grabbed physical device.
type Source interface {
	Read() ([]kernelio.Event, error)
}

// HotkeyCode describes a configured hotkey binding the router must recognize
// on the mouse device (keyboard-bound hotkeys never reach the router; they
// are read by the keyboard thread and dispatched to the same FSM directly).
type HotkeyCode struct {
	ID           activation.HotkeyID
	Code         uint16
	IsConfigured bool
}

// Config wires a Router to its configured mouse-button hotkeys.
type Config struct {
	HK1    HotkeyCode
	HK2    HotkeyCode
	Panic  HotkeyCode
}

// Router is C4.
type Router struct {
	cfg    Config
	src    Source
	sink   Sink
	engine Engine
	fsm    FSM
}

// New constructs a Router over an already-grabbed source device and an
// already-constructed virtual sink.
func New(cfg Config, src Source, sink Sink, engine Engine, fsm FSM) *Router {
	return &Router{cfg: cfg, src: src, sink: sink, engine: engine, fsm: fsm}
}

// Run blocks, reading and dispatching events until Read returns an error
// (device disconnect, or the fd being closed by a shutdown path), a write to
// the virtual device fails, or running reports false. A write failure is
// spec.md §7's "Runtime-recoverable: virtual device write failure" row: it
// must surface here so the supervisor's retry loop (which owns re-enumerate/
// re-grab) actually fires instead of the daemon going silently output-dead.
// Callers (the supervisor) treat any return as "this attempt ended, go
// decide what's next".
func (r *Router) Run(running func() bool) error {
	for running() {
		events, err := r.src.Read()
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := r.dispatch(ev); err != nil {
				return err
			}
			r.fsm.CheckDeadline(time.Now())
		}
	}
	return nil
}

func (r *Router) dispatch(ev kernelio.Event) error {
	switch ev.Type {
	case evKey:
		if hk, ok := r.matchMouseHotkey(ev.Code); ok {
			if ev.Value == 1 {
				r.fsm.HotkeyPress(hk)
			} else if ev.Value == 0 {
				return r.fsm.HotkeyRelease(hk)
			}
			return nil
		}
		return r.sink.EmitRaw(ev.Type, ev.Code, ev.Value)

	case evRel:
		if ev.Code == relX || ev.Code == relY {
			return r.dispatchMotion(ev)
		}
		if r.engine.IsActive() {
			// Wheel (and any other relative axis) absorbed into the
			// passthrough accumulator rather than forwarded verbatim, so it
			// stays ordered with synthesized ticks at the next period.
			r.engine.AddWheel(float64(ev.Value))
			return nil
		}
		return r.sink.EmitRaw(ev.Type, ev.Code, ev.Value)

	default:
		return r.sink.EmitRaw(ev.Type, ev.Code, ev.Value)
	}
}

func (r *Router) dispatchMotion(ev kernelio.Event) error {
	dx, dy := 0.0, 0.0
	if ev.Code == relX {
		dx = float64(ev.Value)
	} else {
		dy = float64(ev.Value)
	}

	if r.engine.IsActive() {
		r.engine.AddMotion(dx, dy)
		return nil
	}
	if r.fsm.IsHolding() {
		r.fsm.OnMotion()
		if r.engine.IsActive() {
			r.engine.AddMotion(dx, dy)
		}
		return nil
	}
	return r.sink.EmitMotion(int32(dx), int32(dy))
}

func (r *Router) matchMouseHotkey(code uint16) (activation.HotkeyID, bool) {
	for _, hk := range []HotkeyCode{r.cfg.HK1, r.cfg.HK2, r.cfg.Panic} {
		if hk.IsConfigured && hk.Code == code {
			return hk.ID, true
		}
	}
	return 0, false
}
