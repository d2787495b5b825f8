// Package virtualout implements the virtual output device (component C1):
// it owns the synthesized pointing device and exposes the four emit
// operations the rest of the daemon drives it with.
package virtualout

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	evdev "github.com/gvalkov/golang-evdev"

	"scrollholdd/internal/kernelio"
)

const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0x00

	relX      = 0x00
	relY      = 0x01
	relHWheel = 0x06
	relWheel  = 0x08

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	// maxCopiedKeyCodes caps how many of the real device's key/button codes
	// get mirrored onto the virtual device, per §4.1 "capped... to avoid
	// oversaturation".
	maxCopiedKeyCodes = 20

	settleDelay = 200 * time.Millisecond
)

// Device is C1: the synthesized pointing device.
type Device struct {
	mu sync.Mutex
	fd *os.File
}

// New constructs the virtual device, copying real's relative-axis and
// key-code capabilities and augmenting with the mandatory superset required
// by §4.1 (horizontal/vertical wheel, X/Y, left/right/middle buttons).
//
// Construction failure is fatal to the current supervisor attempt (§4.1):
// callers propagate the error up so C5 can release what it already opened
// and retry from scratch.
func New(real *evdev.InputDevice, name string) (*Device, error) {
	f, err := kernelio.OpenUinput()
	if err != nil {
		return nil, err
	}

	relCodes, keyCodes, err := readRealCapabilities(real)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read real device capabilities: %w", err)
	}

	if err := kernelio.SetEvBit(f.Fd(), evKey); err != nil {
		f.Close()
		return nil, fmt.Errorf("set evbit EV_KEY: %w", err)
	}
	if err := kernelio.SetEvBit(f.Fd(), evRel); err != nil {
		f.Close()
		return nil, fmt.Errorf("set evbit EV_REL: %w", err)
	}
	if err := kernelio.SetEvBit(f.Fd(), evSyn); err != nil {
		f.Close()
		return nil, fmt.Errorf("set evbit EV_SYN: %w", err)
	}

	for rel := range unionInts(relCodes, []int{relX, relY, relWheel, relHWheel}) {
		if err := kernelio.SetRelBit(f.Fd(), rel); err != nil {
			f.Close()
			return nil, fmt.Errorf("set relbit %d: %w", rel, err)
		}
	}

	keys := capKeyCodes(keyCodes, maxCopiedKeyCodes)
	for key := range unionInts(keys, []int{btnLeft, btnRight, btnMiddle}) {
		if err := kernelio.SetKeyBit(f.Fd(), key); err != nil {
			f.Close()
			return nil, fmt.Errorf("set keybit %d: %w", key, err)
		}
	}

	var dev kernelio.UinputUserDev
	copy(dev.Name[:], name)
	dev.ID.Bustype = 0x03
	dev.ID.Vendor = 0x1234
	dev.ID.Product = 0x5678
	dev.ID.Version = 1

	buf := (*[unsafe.Sizeof(dev)]byte)(unsafe.Pointer(&dev))[:]
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write uinput_user_dev: %w", err)
	}

	if err := kernelio.DevCreate(f.Fd()); err != nil {
		f.Close()
		return nil, fmt.Errorf("UI_DEV_CREATE: %w", err)
	}

	// The kernel needs a moment to register the new device node before the
	// first event is accepted; matches the settle delay the teacher's own
	// uinput construction uses.
	time.Sleep(settleDelay)

	return &Device{fd: f}, nil
}

// readRealCapabilities reads the real device's EV_REL and EV_KEY bitmaps via
// EVIOCGBIT so New can copy them rather than hardcode a fixed list.
func readRealCapabilities(real *evdev.InputDevice) (relCodes, keyCodes []int, err error) {
	relBits, err := kernelio.CapabilityBits(real.File.Fd(), evRel)
	if err != nil {
		return nil, nil, err
	}
	keyBits, err := kernelio.CapabilityBits(real.File.Fd(), evKey)
	if err != nil {
		return nil, nil, err
	}
	return kernelio.SetBits(relBits, 16), kernelio.SetBits(keyBits, 768), nil
}

func capKeyCodes(codes []int, max int) []int {
	if len(codes) <= max {
		return codes
	}
	return codes[:max]
}

// unionInts returns the deduplicated union of several int slices as a set
// suitable for ranging over.
func unionInts(sets ...[]int) map[int]struct{} {
	out := map[int]struct{}{}
	for _, s := range sets {
		for _, v := range s {
			out[v] = struct{}{}
		}
	}
	return out
}

// EmitButton synthesizes a button press or release followed by a sync.
func (d *Device) EmitButton(code uint16, down bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := int32(0)
	if down {
		v = 1
	}
	if err := kernelio.WriteEvent(d.fd, evKey, code, v); err != nil {
		return err
	}
	return d.synLocked()
}

// EmitMotion forwards raw relative motion.
func (d *Device) EmitMotion(dx, dy int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dx != 0 {
		if err := kernelio.WriteEvent(d.fd, evRel, relX, dx); err != nil {
			return err
		}
	}
	if dy != 0 {
		if err := kernelio.WriteEvent(d.fd, evRel, relY, dy); err != nil {
			return err
		}
	}
	return d.synLocked()
}

// EmitWheel emits horizontal ticks first (if nonzero), then vertical (if
// nonzero), then a single sync, per §4.1.
func (d *Device) EmitWheel(vertical, horizontal int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if horizontal != 0 {
		if err := kernelio.WriteEvent(d.fd, evRel, relHWheel, horizontal); err != nil {
			return err
		}
	}
	if vertical != 0 {
		if err := kernelio.WriteEvent(d.fd, evRel, relWheel, vertical); err != nil {
			return err
		}
	}
	if horizontal == 0 && vertical == 0 {
		return nil
	}
	return d.synLocked()
}

// EmitRaw replays an arbitrary event verbatim, followed by a sync.
func (d *Device) EmitRaw(typ, code uint16, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := kernelio.WriteEvent(d.fd, typ, code, value); err != nil {
		return err
	}
	return d.synLocked()
}

func (d *Device) synLocked() error {
	return kernelio.WriteEvent(d.fd, evSyn, synReport, 0)
}

// Close destroys the virtual device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = kernelio.DevDestroy(d.fd.Fd())
	return d.fd.Close()
}
