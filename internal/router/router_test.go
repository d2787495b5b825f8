package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrollholdd/internal/activation"
	"scrollholdd/internal/kernelio"
)

type fakeEngine struct {
	active        bool
	motions       [][2]float64
	wheelDeltas   []float64
}

func (e *fakeEngine) IsActive() bool { return e.active }
func (e *fakeEngine) AddMotion(dx, dy float64) {
	e.motions = append(e.motions, [2]float64{dx, dy})
}
func (e *fakeEngine) AddWheel(delta float64) { e.wheelDeltas = append(e.wheelDeltas, delta) }

type fakeFSM struct {
	holding     bool
	presses     []activation.HotkeyID
	releases    []activation.HotkeyID
	motionCalls int
	releaseErr  error
}

func (f *fakeFSM) HotkeyPress(id activation.HotkeyID) { f.presses = append(f.presses, id) }
func (f *fakeFSM) HotkeyRelease(id activation.HotkeyID) error {
	f.releases = append(f.releases, id)
	return f.releaseErr
}
func (f *fakeFSM) OnMotion()                   { f.motionCalls++ }
func (f *fakeFSM) CheckDeadline(now time.Time) {}
func (f *fakeFSM) IsHolding() bool              { return f.holding }

type fakeSink struct {
	motions []([2]int32)
	raw     [][3]int32
}

func (s *fakeSink) EmitMotion(dx, dy int32) error {
	s.motions = append(s.motions, [2]int32{dx, dy})
	return nil
}
func (s *fakeSink) EmitRaw(typ, code uint16, value int32) error {
	s.raw = append(s.raw, [3]int32{int32(typ), int32(code), value})
	return nil
}

func newTestRouter() (*Router, *fakeEngine, *fakeFSM, *fakeSink) {
	eng := &fakeEngine{}
	fsm := &fakeFSM{}
	sink := &fakeSink{}
	cfg := Config{
		HK1: HotkeyCode{ID: activation.HK1, Code: 0x112, IsConfigured: true},
	}
	r := New(cfg, nil, sink, eng, fsm)
	return r, eng, fsm, sink
}

func TestDispatchMouseHotkeyPressRelease(t *testing.T) {
	r, _, fsm, sink := newTestRouter()

	r.dispatch(kernelio.Event{Type: evKey, Code: 0x112, Value: 1})
	r.dispatch(kernelio.Event{Type: evKey, Code: 0x112, Value: 0})

	require.Equal(t, []activation.HotkeyID{activation.HK1}, fsm.presses)
	require.Equal(t, []activation.HotkeyID{activation.HK1}, fsm.releases)
	assert.Empty(t, sink.raw, "hotkey events must never be replayed to the virtual device")
}

func TestRunReturnsHotkeyReleaseErrorSoSupervisorCanRetry(t *testing.T) {
	eng := &fakeEngine{}
	releaseErr := errors.New("tap fall-through click failed")
	fsm := &fakeFSM{releaseErr: releaseErr}
	sink := &fakeSink{}
	src := &staticSource{events: []kernelio.Event{{Type: evKey, Code: 0x112, Value: 0}}}
	cfg := Config{HK1: HotkeyCode{ID: activation.HK1, Code: 0x112, IsConfigured: true}}
	r := New(cfg, src, sink, eng, fsm)

	err := r.Run(func() bool { return true })
	require.Error(t, err)
	assert.Equal(t, releaseErr, err)
}

func TestDispatchUnconfiguredKeyReplays(t *testing.T) {
	r, _, fsm, sink := newTestRouter()
	r.dispatch(kernelio.Event{Type: evKey, Code: 0x111, Value: 1})
	assert.Empty(t, fsm.presses)
	require.Len(t, sink.raw, 1)
	assert.Equal(t, int32(0x111), sink.raw[0][1])
}

func TestMotionReplaysWhenInactiveAndNotHolding(t *testing.T) {
	r, _, _, sink := newTestRouter()
	r.dispatch(kernelio.Event{Type: evRel, Code: relX, Value: 5})
	require.Len(t, sink.motions, 1)
	assert.Equal(t, int32(5), sink.motions[0][0])
}

func TestMotionFeedsEngineWhenActive(t *testing.T) {
	r, eng, _, sink := newTestRouter()
	eng.active = true
	r.dispatch(kernelio.Event{Type: evRel, Code: relX, Value: 3})
	r.dispatch(kernelio.Event{Type: evRel, Code: relY, Value: 4})
	require.Len(t, eng.motions, 2)
	assert.Empty(t, sink.motions, "motion must be frozen, not replayed, while active")
}

func TestMotionTriggersDragWhileHolding(t *testing.T) {
	r, _, fsm, sink := newTestRouter()
	fsm.holding = true
	r.dispatch(kernelio.Event{Type: evRel, Code: relX, Value: 7})
	assert.Equal(t, 1, fsm.motionCalls)
	assert.Empty(t, sink.motions)
}

func TestWheelAbsorbedWhileActiveNotReplayed(t *testing.T) {
	r, eng, _, sink := newTestRouter()
	eng.active = true
	r.dispatch(kernelio.Event{Type: evRel, Code: 0x08, Value: 2}) // REL_WHEEL
	require.Len(t, eng.wheelDeltas, 1)
	assert.Equal(t, 2.0, eng.wheelDeltas[0])
	assert.Empty(t, sink.raw)
}

func TestWheelReplayedWhenInactive(t *testing.T) {
	r, eng, _, sink := newTestRouter()
	r.dispatch(kernelio.Event{Type: evRel, Code: 0x08, Value: 2})
	assert.Empty(t, eng.wheelDeltas)
	require.Len(t, sink.raw, 1)
}

func TestSynEventsReplayedByDefault(t *testing.T) {
	r, _, _, sink := newTestRouter()
	r.dispatch(kernelio.Event{Type: 0x00, Code: 0x00, Value: 0})
	require.Len(t, sink.raw, 1)
}

// failingSink simulates a broken virtual-device fd.
type failingSink struct{ err error }

func (s *failingSink) EmitMotion(dx, dy int32) error          { return s.err }
func (s *failingSink) EmitRaw(typ, code uint16, value int32) error { return s.err }

// staticSource always returns the same batch; tests that exercise write
// failures only need Run to reach dispatch once before returning.
type staticSource struct {
	events []kernelio.Event
}

func (s *staticSource) Read() ([]kernelio.Event, error) { return s.events, nil }

func TestRunReturnsWriteFailureSoSupervisorCanRetry(t *testing.T) {
	eng := &fakeEngine{}
	fsm := &fakeFSM{}
	writeErr := errors.New("uinput write failed")
	sink := &failingSink{err: writeErr}
	src := &staticSource{events: []kernelio.Event{{Type: evRel, Code: relX, Value: 5}}}
	r := New(Config{}, src, sink, eng, fsm)

	err := r.Run(func() bool { return true })
	require.Error(t, err)
	assert.Equal(t, writeErr, err)
}
