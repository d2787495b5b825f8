package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct{ active bool }

func (e *fakeEngine) IsActive() bool { return e.active }
func (e *fakeEngine) Activate()      { e.active = true }
func (e *fakeEngine) Deactivate()    { e.active = false }

type fakeClicker struct{ events []string }

func (c *fakeClicker) EmitButton(code uint16, down bool) error {
	if down {
		c.events = append(c.events, "down")
	} else {
		c.events = append(c.events, "up")
	}
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time  { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMomentaryFSM() (*FSM, *fakeEngine, *fakeClicker, *fakeClock) {
	eng := &fakeEngine{}
	click := &fakeClicker{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{
		Mode:             ModeOneKeyMomentary,
		HoldDuration:     200 * time.Millisecond,
		HK1IsMouseButton: true,
		HK1ClickCode:     0x112, // BTN_MIDDLE
	}
	fsm := New(cfg, eng, click, clock.now, nil)
	return fsm, eng, click, clock
}

// P4 / S4: tap (press+release inside holdDuration, no motion) never
// activates and emits exactly one click pair.
func TestTapNeverActivatesEmitsOneClick(t *testing.T) {
	fsm, eng, click, clock := newMomentaryFSM()
	fsm.HotkeyPress(HK1)
	clock.advance(50 * time.Millisecond)
	fsm.HotkeyRelease(HK1)

	assert.False(t, eng.active)
	require.Equal(t, []string{"down", "up"}, click.events)
}

// P5: hold past holdDuration with zero motion activates.
func TestHoldPastDeadlineActivates(t *testing.T) {
	fsm, eng, _, clock := newMomentaryFSM()
	fsm.HotkeyPress(HK1)
	clock.advance(201 * time.Millisecond)
	fsm.CheckDeadline(clock.now())
	assert.True(t, eng.active)
}

// P6: motion before holdDuration activates immediately.
func TestMotionBeforeDeadlineActivatesImmediately(t *testing.T) {
	fsm, eng, _, clock := newMomentaryFSM()
	fsm.HotkeyPress(HK1)
	clock.advance(10 * time.Millisecond)
	fsm.OnMotion()
	assert.True(t, eng.active)
}

// Momentary: releasing while active deactivates, no click synthesized.
func TestMomentaryReleaseWhileActiveDeactivatesNoClick(t *testing.T) {
	fsm, eng, click, clock := newMomentaryFSM()
	fsm.HotkeyPress(HK1)
	clock.advance(10 * time.Millisecond)
	fsm.OnMotion()
	require.True(t, eng.active)
	clock.advance(500 * time.Millisecond)
	fsm.HotkeyRelease(HK1)
	assert.False(t, eng.active)
	assert.Empty(t, click.events)
}

// Panic fires exactly once even if the button repeats.
func TestPanicFiresOnce(t *testing.T) {
	eng := &fakeEngine{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	count := 0
	cfg := Config{Mode: ModeOneKeyMomentary, HoldDuration: 200 * time.Millisecond}
	fsm := New(cfg, eng, nil, clock.now, func() { count++ })
	fsm.HotkeyPress(Panic)
	fsm.HotkeyPress(Panic)
	assert.Equal(t, 1, count)
}

// ON_OFF: HK1 rising edge (keyboard-bound) activates, HK2 rising edge
// deactivates, independent of release.
func TestOnOffKeyboardSplitKeys(t *testing.T) {
	eng := &fakeEngine{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{Mode: ModeOnOff, HoldDuration: 200 * time.Millisecond}
	fsm := New(cfg, eng, nil, clock.now, nil)

	fsm.HotkeyPress(HK1)
	assert.True(t, eng.active)
	fsm.HotkeyRelease(HK1)
	assert.True(t, eng.active, "ON_OFF must not deactivate on HK1 release")

	fsm.HotkeyPress(HK2)
	assert.False(t, eng.active)
}

// ONE_KEY_TOGGLE: keyboard-bound HK1 rising edge flips state; a held
// auto-repeat press must not re-flip (latch).
func TestToggleKeyboardLatchedRisingEdge(t *testing.T) {
	eng := &fakeEngine{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{Mode: ModeOneKeyToggle, HoldDuration: 200 * time.Millisecond}
	fsm := New(cfg, eng, nil, clock.now, nil)

	fsm.HotkeyPress(HK1)
	assert.True(t, eng.active)
	fsm.HotkeyPress(HK1) // repeat while still down: latched, no re-flip
	assert.True(t, eng.active)
	fsm.HotkeyRelease(HK1)
	assert.True(t, eng.active, "toggle mode does not deactivate on release")

	fsm.HotkeyPress(HK1)
	assert.False(t, eng.active)
}

// Stray release (no matching press) is an idempotent no-op.
func TestStrayReleaseIsNoop(t *testing.T) {
	fsm, eng, click, _ := newMomentaryFSM()
	fsm.HotkeyRelease(HK1)
	assert.False(t, eng.active)
	assert.Empty(t, click.events)
}
