package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"tactilesync.dev/config"
	"tactilesync.dev/keepalive"
	"tactilesync.dev/queue"
	"tactilesync.dev/session"
	"tactilesync.dev/wire"
)

type fakeLink struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeLink) Read(p []byte) (int, error) {
	return 0, errors.New("fakeLink: no data")
}

func (f *fakeLink) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

type fakeActuator struct {
	mu           sync.Mutex
	stopAllCalls int
}

func (a *fakeActuator) Prime(finger, freqOffset int) error { return nil }
func (a *fakeActuator) Activate(finger, amplitude int) error { return nil }
func (a *fakeActuator) Deactivate(finger int) error { return nil }
func (a *fakeActuator) StopAll() {
	a.mu.Lock()
	a.stopAllCalls++
	a.mu.Unlock()
}
func (a *fakeActuator) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopAllCalls
}

type fakeBattery struct {
	mv  int
	err error
}

func (b *fakeBattery) VoltageMV() (int, error) { return b.mv, b.err }

type fixedGen struct {
	events []wire.EventSpec
	i      int
}

func (g *fixedGen) Next() (wire.EventSpec, bool) {
	if g.i >= len(g.events) {
		return wire.EventSpec{}, false
	}
	ev := g.events[g.i]
	g.i++
	return ev, true
}

func newTestEngine(t *testing.T, role config.Role) (*Engine, *fakeLink, *fakeActuator) {
	t.Helper()
	link := &fakeLink{}
	act := &fakeActuator{}
	batt := &fakeBattery{mv: 4000}
	var raw uint32
	clk := func() uint32 {
		raw += 1000
		return raw
	}
	gen := &fixedGen{}
	e := New(role, link, act, batt, nil, clk, gen)
	return e, link, act
}

func runToRunning(e *Engine) {
	e.sess.Fire(session.Connected, "t")
	e.sess.Fire(session.Connected, "t")
	e.sess.Fire(session.StartSession, "t")
}

func TestHandleFrameReadyConnectsSession(t *testing.T) {
	e, _, _ := newTestEngine(t, config.RoleSecondary)
	e.handleFrame(wire.Frame{Kind: wire.KindReady})
	if e.sess.State() != session.Connecting {
		t.Fatalf("state = %s, want CONNECTING", e.sess.State())
	}
}

func TestHandleFramePingRepliesWithPong(t *testing.T) {
	e, link, _ := newTestEngine(t, config.RoleSecondary)
	e.handleFrame(wire.Frame{Kind: wire.KindPing, SequenceID: 7, T1: 1000})
	got := string(link.last())
	if got == "" || got[:5] != "PONG:" {
		t.Fatalf("last write = %q, want PONG frame", got)
	}
}

func TestHandleFrameMacrocycleStagesAndAcks(t *testing.T) {
	e, link, _ := newTestEngine(t, config.RoleSecondary)
	batch := wire.Batch{
		SequenceID:    3,
		BaseTimeUS:    1_000_000,
		ClockOffsetUS: 0,
		DurationMS:    50,
		Events: []wire.EventSpec{
			{DeltaMS: 0, Finger: 0, Amplitude: 80, FreqOffset: 0},
			{DeltaMS: 10, Finger: 1, Amplitude: 80, FreqOffset: 0},
		},
	}
	e.handleFrame(wire.Frame{Kind: wire.KindMacrocycle, SequenceID: 3, Batch: batch})

	got := string(link.last())
	if got != "MC_ACK:3\x04" {
		t.Fatalf("last write = %q, want MC_ACK:3", got)
	}

	e.drainStaging()
	if e.q.Count() != 4 {
		t.Fatalf("queue count = %d, want 4 (2 events x activate+deactivate)", e.q.Count())
	}
}

func TestMacrocycleDrainUsesBatchDurationNotLocalConstant(t *testing.T) {
	e, _, _ := newTestEngine(t, config.RoleSecondary)
	batch := wire.Batch{
		SequenceID:    9,
		BaseTimeUS:    1_000_000,
		ClockOffsetUS: 0,
		DurationMS:    100, // deliberately not therapy.DurationMS (50)
		Events: []wire.EventSpec{
			{DeltaMS: 0, Finger: 0, Amplitude: 80, FreqOffset: 0},
		},
	}
	e.handleFrame(wire.Frame{Kind: wire.KindMacrocycle, SequenceID: 9, Batch: batch})
	e.drainStaging()

	if e.q.Count() != 2 {
		t.Fatalf("queue count = %d, want 2", e.q.Count())
	}
	first, _ := e.q.DequeueNext()  // Activate at BaseTimeUS
	second, ok := e.q.DequeueNext() // Deactivate, durationMS later
	if !ok || second.Kind != queue.Deactivate {
		t.Fatal("expected a paired deactivate event")
	}
	want := first.TimeUS + 100*1000 // DurationMS=100 -> 100_000us later
	if second.TimeUS != want {
		t.Fatalf("deactivate TimeUS = %d, want %d (batch DurationMS, not therapy.DurationMS)", second.TimeUS, want)
	}
}

func TestMacrocycleStagesBatchStartOnFirstEventOnly(t *testing.T) {
	e, _, _ := newTestEngine(t, config.RoleSecondary)
	e.q.Enqueue(2, 50, 0, 500, 50) // stale event from a prior batch

	batch := wire.Batch{
		SequenceID: 1,
		BaseTimeUS: 2_000_000,
		DurationMS: 50,
		Events: []wire.EventSpec{
			{DeltaMS: 0, Finger: 0, Amplitude: 80},
		},
	}
	e.handleFrame(wire.Frame{Kind: wire.KindMacrocycle, Batch: batch})
	e.drainStaging()

	if e.q.Count() != 2 {
		t.Fatalf("queue count = %d, want 2 (stale event cleared by BatchStart)", e.q.Count())
	}
}

func TestEmergencyStopOnCriticalBatteryClearsQueueAndActuator(t *testing.T) {
	e, _, act := newTestEngine(t, config.RolePrimary)
	runToRunning(e)
	e.q.Enqueue(0, 80, 0, 9_999_999_999, 50)

	if !e.sess.Fire(session.BatteryCritical, "test") {
		t.Fatal("Fire(BatteryCritical) = false, want true from RUNNING")
	}
	if act.calls() != 1 {
		t.Fatalf("StopAll calls = %d, want 1", act.calls())
	}
	if !e.q.IsEmpty() {
		t.Fatal("queue not cleared after emergency stop")
	}
}

func TestTickPollsBatteryAndFiresCritical(t *testing.T) {
	e, _, act := newTestEngine(t, config.RolePrimary)
	runToRunning(e)
	e.batt = &fakeBattery{mv: 3000} // below CriticalMV

	e.tick(1_000_000)

	if e.sess.State() != session.CriticalBattery {
		t.Fatalf("state = %s, want CRITICAL_BATTERY", e.sess.State())
	}
	if act.calls() != 1 {
		t.Fatalf("StopAll calls = %d, want 1", act.calls())
	}
}

func TestTickDoesNotRepollBatteryBeforeInterval(t *testing.T) {
	e, _, _ := newTestEngine(t, config.RoleSecondary)
	calls := 0
	e.batt = &countingBattery{mv: 4000, calls: &calls}
	e.tick(1_000_000)
	e.tick(1_000_001)
	if calls != 1 {
		t.Fatalf("battery polled %d times within one interval, want 1", calls)
	}
}

type countingBattery struct {
	mv    int
	calls *int
}

func (b *countingBattery) VoltageMV() (int, error) {
	*b.calls++
	return b.mv, b.err()
}

func (b *countingBattery) err() error { return nil }

func TestKeepaliveTimeoutEmitsStopSessionOnPrimary(t *testing.T) {
	e, link, act := newTestEngine(t, config.RolePrimary)
	runToRunning(e)
	e.keep.NoteConnected(0)

	e.tick(keepalive.KeepaliveTimeoutUS)

	if e.sess.State() != session.ConnectionLost {
		t.Fatalf("state = %s, want CONNECTION_LOST", e.sess.State())
	}
	if act.calls() != 1 {
		t.Fatalf("StopAll calls = %d, want 1 (emergency stop)", act.calls())
	}
	if frame := link.last(); !strings.HasPrefix(string(frame), "STOP_SESSION:") {
		t.Fatalf("last frame = %q, want a STOP_SESSION frame", frame)
	}
}

func TestSetPhoneConnectedFiresSessionTriggers(t *testing.T) {
	e, _, _ := newTestEngine(t, config.RoleSecondary)
	runToRunning(e)

	e.SetPhoneConnected(false)
	if e.sess.State() != session.PhoneDisconnected {
		t.Fatalf("state = %s, want PHONE_DISCONNECTED", e.sess.State())
	}

	e.SetPhoneConnected(true)
	if e.sess.State() != session.Running {
		t.Fatalf("state = %s, want RUNNING after phone reconnects", e.sess.State())
	}
}
