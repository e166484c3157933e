package diag

import (
	"path/filepath"
	"strings"
	"testing"

	"tactilesync.dev/clocksync"
	"tactilesync.dev/config"
	"tactilesync.dev/metrics"
	"tactilesync.dev/session"
)

type fakeEngine struct {
	sess *session.Machine
	sync *clocksync.Engine
	m    *metrics.Recorder
}

func (f *fakeEngine) Session() *session.Machine  { return f.sess }
func (f *fakeEngine) Sync() *clocksync.Engine    { return f.sync }
func (f *fakeEngine) Metrics() *metrics.Recorder { return f.m }

func newTestHandler(t *testing.T) (*Handler, *config.Store) {
	t.Helper()
	store := config.New(filepath.Join(t.TempDir(), "settings.cbor"))
	e := &fakeEngine{sess: session.New(), sync: clocksync.New(), m: metrics.New()}
	return New(e, store), store
}

func TestSetRoleThenGetRoleRoundTrips(t *testing.T) {
	h, _ := newTestHandler(t)
	if reply, reboot := h.Handle("SET_ROLE:SECONDARY"); reply != "OK" || reboot {
		t.Fatalf("SET_ROLE = (%q, %v)", reply, reboot)
	}
	reply, _ := h.Handle("GET_ROLE")
	if reply != "ROLE:SECONDARY" {
		t.Fatalf("GET_ROLE = %q, want ROLE:SECONDARY", reply)
	}
}

func TestSetRoleRejectsUnknownValue(t *testing.T) {
	h, _ := newTestHandler(t)
	reply, _ := h.Handle("SET_ROLE:BOGUS")
	if !strings.HasPrefix(reply, "ERR:") {
		t.Fatalf("reply = %q, want ERR prefix", reply)
	}
}

func TestSetProfileThenGetProfileRoundTrips(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Handle("SET_PROFILE:evening")
	reply, _ := h.Handle("GET_PROFILE")
	if reply != "PROFILE:evening" {
		t.Fatalf("GET_PROFILE = %q, want PROFILE:evening", reply)
	}
}

func TestLatencyToggleAffectsRecorder(t *testing.T) {
	h, _ := newTestHandler(t)
	e := h.e.(*fakeEngine)
	h.Handle("LATENCY_ON")
	if !e.m.Enabled() {
		t.Fatal("metrics not enabled after LATENCY_ON")
	}
	h.Handle("LATENCY_OFF")
	if e.m.Enabled() {
		t.Fatal("metrics still enabled after LATENCY_OFF")
	}
}

func TestGetClockSyncReportsInvalidBeforeAnySample(t *testing.T) {
	h, _ := newTestHandler(t)
	reply, _ := h.Handle("GET_CLOCK_SYNC")
	if !strings.Contains(reply, "valid=false") {
		t.Fatalf("reply = %q, want valid=false before any sample", reply)
	}
}

func TestRebootSignalsCaller(t *testing.T) {
	h, _ := newTestHandler(t)
	reply, reboot := h.Handle("REBOOT")
	if reply != "OK" || !reboot {
		t.Fatalf("REBOOT = (%q, %v), want (OK, true)", reply, reboot)
	}
}

func TestStopFiresSessionTrigger(t *testing.T) {
	h, _ := newTestHandler(t)
	e := h.e.(*fakeEngine)
	e.sess.Fire(session.Connected, "t")
	e.sess.Fire(session.Connected, "t")
	e.sess.Fire(session.StartSession, "t")
	h.Handle("STOP")
	if e.sess.State() != session.Stopping {
		t.Fatalf("state = %s, want STOPPING", e.sess.State())
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	h, _ := newTestHandler(t)
	reply, _ := h.Handle("NOT_A_COMMAND")
	if !strings.HasPrefix(reply, "ERR:") {
		t.Fatalf("reply = %q, want ERR prefix", reply)
	}
}
