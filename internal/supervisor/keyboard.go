package supervisor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

const evKey = 0x01

// HotkeyDispatch is what the keyboard reader invokes on a matched code's
// rising/falling edge. It exists so cmd/scrollholdd can wire activation.HK1/
// HK2/Panic without this package importing the activation package just for
// three constants.
type HotkeyDispatch struct {
	Code    uint16
	OnPress func()
	OnRelease func()
}

// RunKeyboard finds the keyboard device (by name substring, and by NOT
// advertising REL_X/REL_Y, distinguishing it from the pointing device this
// same heuristic would otherwise also match) and reads it, ungrabbed, until
// running reports false or the device errors. Matched codes in dispatches
// invoke their OnPress/OnRelease; everything else is dropped (never
// replayed — this device was never grabbed, so the kernel already delivers
// it to every other listener). devices, if non-nil, is published with the
// currently-open device so a shutdown goroutine can close its fd to unblock
// a Read() stuck waiting on an idle keyboard; pass the same kind of holder
// supervisor.New returns via Devices().
func RunKeyboard(nameContains string, dispatches []HotkeyDispatch, devices *DeviceHolder, log *slog.Logger, running func() bool) error {
	if log == nil {
		log = slog.Default()
	}
	byCode := make(map[uint16]HotkeyDispatch, len(dispatches))
	for _, d := range dispatches {
		byCode[d.Code] = d
	}

	for running() {
		path, err := findKeyboardDevice(nameContains)
		if err != nil {
			log.Warn("keyboard device not found, retrying", "error", err)
			time.Sleep(retryDelay)
			continue
		}

		dev, err := evdev.Open(path)
		if err != nil {
			log.Warn("open keyboard device failed, retrying", "path", path, "error", err)
			time.Sleep(retryDelay)
			continue
		}

		if devices != nil {
			devices.set(dev)
		}

		log.Info("reading keyboard device", "path", path)
		readErr := readKeyboardLoop(dev, byCode, running)
		if devices != nil {
			devices.clear(dev)
		}
		dev.Close()
		if readErr != nil {
			log.Warn("keyboard read ended", "error", readErr)
		}
		if running() {
			time.Sleep(retryDelay)
		}
	}
	return nil
}

func readKeyboardLoop(dev *evdev.InputDevice, byCode map[uint16]HotkeyDispatch, running func() bool) error {
	for running() {
		events, err := dev.Read()
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Type != evKey {
				continue
			}
			d, ok := byCode[ev.Code]
			if !ok {
				continue
			}
			switch ev.Value {
			case 1:
				if d.OnPress != nil {
					d.OnPress()
				}
			case 0:
				if d.OnRelease != nil {
					d.OnRelease()
				}
			}
		}
	}
	return nil
}

// findKeyboardDevice picks the first device matching nameContains that does
// NOT advertise relative X/Y motion, so the same enumeration pass never
// accidentally grabs-by-name the pointing device itself for keyboard duty.
// Every handle ListInputDevices opens is closed here; the winning path is
// reopened fresh by the caller.
func findKeyboardDevice(nameContains string) (string, error) {
	devices, err := evdev.ListInputDevices()
	if err != nil {
		return "", fmt.Errorf("list input devices: %w", err)
	}
	needle := strings.ToLower(nameContains)
	path := ""
	for _, dev := range devices {
		matches := (needle == "" || strings.Contains(strings.ToLower(dev.Name), needle)) &&
			!advertisesPointerMotion(dev)
		if matches && path == "" {
			path = dev.Fn
		}
		dev.Close()
	}
	if path == "" {
		return "", fmt.Errorf("no keyboard device found matching %q", nameContains)
	}
	return path, nil
}
