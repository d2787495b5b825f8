// Package tickdriver implements T_tick: sleep refreshInterval, call
// engine.Tick() and engine.DrainWheel(), write the result to the virtual
// device. It takes the engine lock (inside Tick/DrainWheel) and releases it
// before the output lock is taken, so it never holds both at once (§5
// "Deadlock avoidance": engine before output, always).
package tickdriver

import (
	"log/slog"
	"time"
)

// Engine is the subset of scrollengine.Engine the tick driver pulls from.
type Engine interface {
	Tick() (x, y int)
	DrainWheel() int
}

// Sink is the subset of virtualout.Device the tick driver writes to. It is
// resolved through a SinkHolder rather than held directly, because the
// supervisor tears down and reconstructs the virtual device across retries
// while this goroutine keeps ticking on its own independent cadence.
type Sink interface {
	EmitWheel(vertical, horizontal int32) error
}

// SinkHolder publishes the currently-live Sink across supervisor retries.
// nil between "previous device closed" and "next device constructed" is
// expected and handled: ticks during that window are simply dropped, same
// as any other motion/wheel input that arrives while no device is grabbed.
type SinkHolder struct {
	get func() Sink
}

// NewSinkHolder wraps a getter, typically a closure reading a field guarded
// by the supervisor's own mutex.
func NewSinkHolder(get func() Sink) *SinkHolder {
	return &SinkHolder{get: get}
}

func (h *SinkHolder) current() Sink {
	if h == nil || h.get == nil {
		return nil
	}
	return h.get()
}

// Run loops until running reports false, sleeping refreshInterval between
// ticks. A tick already in progress when shutdown is requested completes
// before Run returns (§5 "Cancellation").
func Run(engine Engine, sinkHolder *SinkHolder, refreshInterval time.Duration, log *slog.Logger, running func() bool) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for running() {
		<-ticker.C
		if !running() {
			return
		}
		tick(engine, sinkHolder, log)
	}
}

func tick(engine Engine, sinkHolder *SinkHolder, log *slog.Logger) {
	x, y := engine.Tick()
	wheel := engine.DrainWheel()

	sink := sinkHolder.current()
	if sink == nil {
		return
	}

	// x is the horizontal scroll signal synthesized from cursor motion. y is
	// the vertical scroll signal synthesized from cursor motion, and wheel
	// is the physical wheel input the router folded into the engine while
	// active instead of replaying it. Both land on the same vertical axis
	// rather than a parallel write, keeping event+syn pairing intact per
	// §5's single-output-mutex rule.
	vertical := int32(y + wheel)
	horizontal := int32(x)
	if vertical == 0 && horizontal == 0 {
		return
	}
	if err := sink.EmitWheel(vertical, horizontal); err != nil {
		log.Warn("tick emit failed", "error", err)
	}
}
