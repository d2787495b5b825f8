// Command scrollholdd is the process entrypoint: parse flags, load config,
// set up logging, construct C1-C5 and the tick driver, and run until a
// shutdown signal or the panic button fires.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"scrollholdd/internal/activation"
	"scrollholdd/internal/config"
	"scrollholdd/internal/logging"
	"scrollholdd/internal/router"
	"scrollholdd/internal/scrollengine"
	"scrollholdd/internal/supervisor"
	"scrollholdd/internal/tickdriver"
	"scrollholdd/internal/virtualout"
)

const virtualDeviceName = "scrollholdd virtual scroll device"

// cli is the kong-parsed flag set (§6.1 "CLI surface").
type cli struct {
	Config     string `help:"Path to the configuration file, overriding the default lookup order." type:"path"`
	LogLevel   string `help:"trace|debug|info|warn|error" default:"info" enum:"trace,debug,info,warn,error"`
	LogFile    string `help:"Path to a persistent log file." default:"/tmp/scrollholdd.log"`
	Foreground bool   `help:"Also mirror logs to stdout even when a log file is configured."`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("scrollholdd"),
		kong.Description("Freeze cursor motion under a hotkey and emit smoothed scroll ticks instead."),
		kong.UsageOnError(),
	)

	log, closers, err := logging.Setup(c.LogLevel, c.LogFile, c.Foreground)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}
	defer func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}()

	if err := run(c, log); err != nil {
		log.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(c cli, log *slog.Logger) error {
	var cfgPaths []string
	if c.Config != "" {
		cfgPaths = []string{c.Config}
	}
	cfg, err := config.Load(log, cfgPaths...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	engine := scrollengine.New(scrollengine.Config{
		Sensitivity:            cfg.Sensitivity,
		RefreshIntervalSeconds: cfg.RefreshInterval.Seconds(),
		SmoothingWindowMaxSize: cfg.SmoothingWindow,
		SnapOnByDefault:        cfg.SnapOnByDefault,
		SnapRatio:              cfg.SnapRatio,
		SnapThreshold:          cfg.SnapThreshold,
		AccelerationOn:         cfg.AccelerationOn,
		AccelerationBlend:      cfg.AccelerationBlend,
		AccelerationScale:      cfg.AccelerationScale,
	})

	var running atomic.Bool
	running.Store(true)
	isRunning := func() bool { return running.Load() }

	var sinkMu sync.Mutex
	var currentSink *virtualout.Device
	sinkHolder := tickdriver.NewSinkHolder(func() tickdriver.Sink {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		if currentSink == nil {
			return nil
		}
		return currentSink
	})

	clicker := clickerFunc(func() *virtualout.Device {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return currentSink
	})

	var onPanic func()
	fsm := activation.New(activation.Config{
		Mode:             cfg.Mode,
		HoldDuration:     cfg.HoldDuration,
		HK1IsMouseButton: cfg.Hotkey1.Bound && cfg.Hotkey1.Binding.IsMouseButton,
		HK1ClickCode:     cfg.Hotkey1.Binding.Code,
	}, engine, clicker, time.Now, func() {
		if onPanic != nil {
			onPanic()
		}
	})

	sup := supervisor.New(supervisor.Config{
		NameContains:      cfg.DeviceNameContains,
		VirtualDeviceName: virtualDeviceName,
		Engine:            engine,
		NewRouter: func(src router.Source, sink router.Sink) *router.Router {
			sinkMu.Lock()
			if vd, ok := sink.(*virtualout.Device); ok {
				currentSink = vd
			}
			sinkMu.Unlock()
			return router.New(routerConfig(cfg), src, sink, engine, fsm)
		},
	}, log)

	dispatches := keyboardDispatches(cfg, fsm)
	runKeyboard := len(dispatches) > 0
	keyboardDevices := supervisor.NewDeviceHolder()

	// shutdown stops both reader loops, including one that may be blocked
	// inside a device Read() between running() checks on an idle device
	// (spec.md §6's "interrupt and terminate both trigger graceful
	// shutdown"); closing the currently-grabbed fd unblocks it directly.
	shutdown := func(reason string) {
		log.Info(reason)
		running.Store(false)
		if err := sup.Devices().Close(); err != nil {
			log.Warn("closing mouse device during shutdown failed", "error", err)
		}
		if err := keyboardDevices.Close(); err != nil {
			log.Warn("closing keyboard device during shutdown failed", "error", err)
		}
	}

	onPanic = func() { shutdown("panic button pressed, shutting down") }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown("shutdown signal received")
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.Run(isRunning)
	}()

	if runKeyboard {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := supervisor.RunKeyboard(cfg.DeviceNameContains, dispatches, keyboardDevices, log, isRunning); err != nil {
				log.Warn("keyboard reader ended", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tickdriver.Run(engine, sinkHolder, cfg.RefreshInterval, log, isRunning)
	}()

	wg.Wait()
	log.Info("shutdown complete")
	return nil
}

func routerConfig(cfg *config.Config) router.Config {
	return router.Config{
		HK1:   hotkeyCode(activation.HK1, cfg.Hotkey1),
		HK2:   hotkeyCode(activation.HK2, cfg.Hotkey2),
		Panic: hotkeyCode(activation.Panic, cfg.PanicButton),
	}
}

func hotkeyCode(id activation.HotkeyID, hk config.Hotkey) router.HotkeyCode {
	if !hk.Bound || !hk.Binding.IsMouseButton {
		return router.HotkeyCode{}
	}
	return router.HotkeyCode{ID: id, Code: hk.Binding.Code, IsConfigured: true}
}

// keyboardDispatches wires every keyboard-bound configured hotkey to the
// shared FSM's press/release edges (§4.5: "delivering hotkey_press/release
// to C3 without needing grab").
func keyboardDispatches(cfg *config.Config, fsm *activation.FSM) []supervisor.HotkeyDispatch {
	var out []supervisor.HotkeyDispatch
	add := func(id activation.HotkeyID, hk config.Hotkey) {
		if !hk.Bound || hk.Binding.IsMouseButton {
			return
		}
		out = append(out, supervisor.HotkeyDispatch{
			Code:      hk.Binding.Code,
			OnPress:   func() { fsm.HotkeyPress(id) },
			OnRelease: func() { fsm.HotkeyRelease(id) },
		})
	}
	add(activation.HK1, cfg.Hotkey1)
	add(activation.HK2, cfg.Hotkey2)
	add(activation.Panic, cfg.PanicButton)
	return out
}

// clickerFunc adapts a lazily-resolved *virtualout.Device lookup to
// activation.Clicker without requiring the FSM to know about sink
// reconstruction across supervisor retries. A nil sink (no device currently
// grabbed) makes a tap fall-through a silent no-op rather than a panic.
type clickerFunc func() *virtualout.Device

func (f clickerFunc) EmitButton(code uint16, down bool) error {
	d := f()
	if d == nil {
		return nil
	}
	return d.EmitButton(code, down)
}
