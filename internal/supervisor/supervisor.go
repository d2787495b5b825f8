// Package supervisor implements C5: locate the configured pointing device,
// grab it, construct the virtual output device over its capabilities, run
// the router until it exits, then release everything and retry.
//
// Grounded on the teacher's findDevice/main loop
// (im-BowenGu-touchpad2mouse-driver/main.go), generalized from a single
// hardcoded touchpad keyword to the configurable substring-plus-capability
// match spec.md §4.5 describes, and wrapped in the retry loop that file
// never needed (it ran once, under a window manager, not as a daemon).
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	evdev "github.com/gvalkov/golang-evdev"

	"scrollholdd/internal/kernelio"
	"scrollholdd/internal/router"
	"scrollholdd/internal/virtualout"
)

const (
	evRel = 0x02
	relX  = 0x00
	relY  = 0x01

	retryDelay = 1 * time.Second
)

// Engine is the subset of scrollengine.Engine the supervisor resets between
// attempts (§4.5 step 5: "deactivate engine, clear isHolding").
type Engine interface {
	Deactivate()
}

// RouterFactory builds a Router bound to one grabbed device's Source and a
// freshly constructed virtual Sink. Kept as a factory (rather than taking a
// concrete *router.Router) so tests can substitute a fake.
type RouterFactory func(src router.Source, sink router.Sink) *router.Router

// Config configures the supervisor's device selection and reset hooks.
type Config struct {
	// NameContains narrows device selection beyond the bare rel-X/Y
	// capability test; empty matches any capable device.
	NameContains string

	VirtualDeviceName string

	Engine Engine

	// ResetHolding clears any in-progress tap/hold state on device
	// disconnect or read error, so a fresh grab starts clean. Optional.
	ResetHolding func()

	NewRouter RouterFactory
}

// DeviceHolder publishes whichever grabbed/opened device is currently live,
// so a shutdown path running on another goroutine can close its fd directly
// and unblock a Read() call stuck waiting on an idle device (SPEC_FULL.md
// §5: "shutdown unblocks a blocked Read() by closing the owning device's
// file descriptor from the signal handler goroutine").
type DeviceHolder struct {
	mu  sync.Mutex
	dev *evdev.InputDevice
}

// NewDeviceHolder constructs an empty holder.
func NewDeviceHolder() *DeviceHolder {
	return &DeviceHolder{}
}

func (h *DeviceHolder) set(dev *evdev.InputDevice) {
	h.mu.Lock()
	h.dev = dev
	h.mu.Unlock()
}

// clear drops dev only if it is still the currently-published device, so a
// late clear from a finished attempt never clobbers a newer one.
func (h *DeviceHolder) clear(dev *evdev.InputDevice) {
	h.mu.Lock()
	if h.dev == dev {
		h.dev = nil
	}
	h.mu.Unlock()
}

// Close closes the currently-published device's fd, if any. Safe to call
// with nothing published (a no-op) and safe to call concurrently with the
// reader goroutine tearing the same device down on its own exit path.
func (h *DeviceHolder) Close() error {
	h.mu.Lock()
	dev := h.dev
	h.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Close()
}

// Supervisor is C5.
type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	devices *DeviceHolder
}

// New constructs a Supervisor. Devices returns the holder the supervisor
// publishes its currently-grabbed device to; callers use it to force an
// unblock on shutdown.
func New(cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log, devices: NewDeviceHolder()}
}

// Devices exposes the supervisor's DeviceHolder so a shutdown goroutine can
// call Devices().Close() to unblock a currently-blocked Read().
func (s *Supervisor) Devices() *DeviceHolder {
	return s.devices
}

// Run loops per §4.5 until running reports false. Each iteration enumerates,
// grabs, runs the router to completion, and cleans up — errors at any stage
// are logged and treated as "sleep, retry", per the Runtime-recoverable row
// of spec.md §7's error taxonomy.
func (s *Supervisor) Run(running func() bool) {
	for running() {
		if err := s.attempt(running); err != nil {
			s.log.Warn("mouse device attempt ended", "error", err)
		}
		if !running() {
			return
		}
		time.Sleep(retryDelay)
	}
}

func (s *Supervisor) attempt(running func() bool) error {
	path, err := s.findDevice()
	if err != nil {
		return err
	}
	s.log.Info("candidate device found", "path", path)

	real, err := evdev.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer real.Close()

	if err := real.Grab(); err != nil {
		return fmt.Errorf("grab %s: %w", path, err)
	}
	defer func() {
		if err := real.Release(); err != nil {
			s.log.Warn("ungrab failed", "path", path, "error", err)
		}
	}()

	sink, err := virtualout.New(real, s.cfg.VirtualDeviceName)
	if err != nil {
		return fmt.Errorf("construct virtual device: %w", err)
	}
	defer sink.Close()

	src := &eventSource{dev: real}
	r := s.cfg.NewRouter(src, sink)

	s.devices.set(real)
	defer s.devices.clear(real)

	s.log.Info("grabbed device, routing events", "path", path)
	err = r.Run(running)

	if s.cfg.Engine != nil {
		s.cfg.Engine.Deactivate()
	}
	if s.cfg.ResetHolding != nil {
		s.cfg.ResetHolding()
	}

	return err
}

// findDevice implements §4.5 step 1: the first enumerated device whose name
// contains cfg.NameContains (case-insensitive; empty matches everything)
// and which advertises both REL_X and REL_Y. ListInputDevices opens one
// handle per enumerated device to read its name/capabilities; every one of
// them, matched or not, is closed here since the actual grab reopens the
// winning path fresh via evdev.Open.
func (s *Supervisor) findDevice() (string, error) {
	devices, err := evdev.ListInputDevices()
	if err != nil {
		return "", fmt.Errorf("list input devices: %w", err)
	}
	needle := strings.ToLower(s.cfg.NameContains)
	path := ""
	for _, dev := range devices {
		matches := (needle == "" || strings.Contains(strings.ToLower(dev.Name), needle)) &&
			advertisesPointerMotion(dev)
		if matches && path == "" {
			path = dev.Fn
		}
		dev.Close()
	}
	if path == "" {
		return "", errors.New("no candidate pointing device found")
	}
	return path, nil
}

// advertisesPointerMotion checks for REL_X and REL_Y via EVIOCGBIT directly
// on the not-yet-grabbed device fd, rather than trusting a library-populated
// capabilities field, for the same reason virtualout reads capabilities
// itself: this is the one place in the daemon where "does this device
// support this axis" must be authoritative.
func advertisesPointerMotion(dev *evdev.InputDevice) bool {
	bits, err := kernelio.CapabilityBits(dev.File.Fd(), evRel)
	if err != nil {
		return false
	}
	return kernelio.HasBit(bits, relX) && kernelio.HasBit(bits, relY)
}

// eventSource adapts *evdev.InputDevice to router.Source, translating
// evdev.InputEvent (the library's own type) into kernelio.Event (the wire
// type virtualout/kernelio already share) so router never imports evdev
// directly.
type eventSource struct {
	dev *evdev.InputDevice
}

func (e *eventSource) Read() ([]kernelio.Event, error) {
	raw, err := e.dev.Read()
	if err != nil {
		return nil, err
	}
	out := make([]kernelio.Event, len(raw))
	for i, ev := range raw {
		out[i] = kernelio.Event{
			Type:  ev.Type,
			Code:  ev.Code,
			Value: ev.Value,
		}
	}
	return out, nil
}
