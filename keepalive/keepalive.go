// Package keepalive implements the periodic probe exchange and
// liveness supervision: PRIMARY pings once a second and feeds
// the resulting samples to clock sync and lead-time estimation;
// both sides watch for silence and drive the session FSM into safety
// states when the link or the batch stream goes quiet.
//
// Like the therapy engine, the supervisor is a non-blocking
// state machine driven by periodic Tick/Update calls from the main
// loop, performing no blocking waits of its own.
package keepalive

import (
	"tactilesync.dev/clocksync"
	"tactilesync.dev/leadtime"
	"tactilesync.dev/metrics"
	"tactilesync.dev/session"
	"tactilesync.dev/wire"
)

// Role selects which side's behavior the supervisor implements.
type Role int

const (
	Primary Role = iota
	Secondary
)

// Timing constants governing the probe cadence and safety timeouts,
// all in device-clock microseconds.
const (
	KeepaliveIntervalUS = 1_000_000
	KeepaliveTimeoutUS  = 6_000_000
	BatchTimeoutUS      = 10_000_000
	StartupWindowUS     = 30_000_000
	StartupRetryUS      = 1_000_000
	StartupRetryUntilUS = StartupWindowUS + 10_000_000
)

// Sender is the narrow write side of a radio.Link the supervisor
// needs: enough to transmit PING/PONG/STOP_SESSION frames without
// depending on the radio package's full interface.
type Sender interface {
	Write(p []byte) (int, error)
}

// Supervisor implements C10 for either role.
type Supervisor struct {
	role    Role
	link    Sender
	sess    *session.Machine
	sync    *clocksync.Engine // PRIMARY only
	lead    *leadtime.Estimator // PRIMARY only
	metrics *metrics.Recorder

	seq uint32

	outstanding    bool
	outstandingSeq uint32
	t1             uint64

	pinged      bool
	lastTickUS  uint64
	lastHeardUS uint64
	lastBatchUS uint64
	haveBatch   bool
	connectedAt uint64
	haveHeard   bool

	phoneConnected     bool
	autoStarted        bool
	lastAutoStartTryUS uint64
}

// NewPrimary returns a Supervisor for the PRIMARY role.
func NewPrimary(link Sender, sess *session.Machine, sync *clocksync.Engine, lead *leadtime.Estimator, m *metrics.Recorder) *Supervisor {
	return &Supervisor{role: Primary, link: link, sess: sess, sync: sync, lead: lead, metrics: m}
}

// NewSecondary returns a Supervisor for the SECONDARY role.
func NewSecondary(link Sender, sess *session.Machine, m *metrics.Recorder) *Supervisor {
	return &Supervisor{role: Secondary, link: link, sess: sess, metrics: m}
}

// NoteConnected marks the link as established as of nowUS, starting
// the boot auto-start window on SECONDARY.
func (s *Supervisor) NoteConnected(nowUS uint64) {
	s.connectedAt = nowUS
	s.haveHeard = true
	s.lastHeardUS = nowUS
	s.autoStarted = false
}

// SetPhoneConnected records whether a phone is currently attached;
// the SECONDARY auto-start window only fires while it is not.
func (s *Supervisor) SetPhoneConnected(connected bool) {
	s.phoneConnected = connected
}

// NoteBatchReceived marks that a macrocycle batch was just received,
// resetting the SECONDARY batch-timeout clock.
func (s *Supervisor) NoteBatchReceived(nowUS uint64) {
	s.lastBatchUS = nowUS
	s.haveBatch = true
	s.lastHeardUS = nowUS
}

// HandleFrame updates liveness on any received frame and, on
// PRIMARY, completes an outstanding PING when a matching PONG
// arrives. t4US is the time the frame was received, sampled as early
// as possible in the radio-receive path.
func (s *Supervisor) HandleFrame(f wire.Frame, t4US uint64) {
	s.lastHeardUS = t4US
	s.haveHeard = true

	if s.role != Primary || f.Kind != wire.KindPong {
		return
	}
	if !s.outstanding || f.SequenceID != s.outstandingSeq {
		return // unmatched PONG; discarded, no cancellation needed
	}
	s.outstanding = false
	rtt := (int64(t4US) - int64(s.t1)) - (int64(f.T3) - int64(f.T2))
	if rtt < 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordRTT(uint32(rtt))
	}
	if s.sync != nil {
		s.sync.AddSample(s.t1, f.T2, f.T3, t4US, uint32(t4US/1000))
	}
	if s.lead != nil {
		s.lead.Observe(uint32(rtt))
	}
}

// HandlePing answers a PING on SECONDARY, returning the PONG frame to
// send. t2US should be sampled at the earliest point of the PING
// receive callback; t3US should be sampled just before the reply is
// built.
func HandlePing(seq uint32, t2US uint64, t3US uint64) []byte {
	return wire.EncodePong(seq, t2US, t3US)
}

// NextSequence returns a fresh sequence number for the caller's use
// (e.g. to tag a batch or session-control frame) and is shared with
// the PING counter so sequence numbers are globally monotone on
// PRIMARY.
func (s *Supervisor) NextSequence() uint32 {
	s.seq++
	return s.seq
}

// TickResult reports what the supervisor decided this Tick, so the
// caller (engine.Engine) can act without the supervisor reaching
// back into components it doesn't own.
type TickResult struct {
	SendPing         []byte
	ConnectionLost   bool
	BatchTimeout     bool
	AttemptAutoStart bool
}

// Tick drives the supervisor's periodic behavior. Call it often (at
// least every KeepaliveIntervalUS) from the main loop with the
// current device time.
func (s *Supervisor) Tick(nowUS uint64) TickResult {
	var res TickResult

	if s.role == Primary {
		if (!s.pinged || nowUS-s.lastTickUS >= KeepaliveIntervalUS) && s.sess.State() != session.Idle {
			s.pinged = true
			s.lastTickUS = nowUS
			s.seq++
			s.t1 = nowUS
			s.outstanding = true
			s.outstandingSeq = s.seq
			res.SendPing = wire.EncodePing(s.seq, s.t1)
		}
		if s.sess.State() == session.Running && s.haveHeard && nowUS-s.lastHeardUS >= KeepaliveTimeoutUS {
			res.ConnectionLost = true
		}
	} else {
		if s.haveHeard && nowUS-s.lastHeardUS >= KeepaliveTimeoutUS {
			res.ConnectionLost = true
		}
		if s.sess.State() == session.Running && s.haveBatch && nowUS-s.lastBatchUS >= BatchTimeoutUS {
			res.BatchTimeout = true
		}
		res.AttemptAutoStart = s.shouldAutoStart(nowUS)
		if res.AttemptAutoStart {
			s.lastAutoStartTryUS = nowUS
		}
	}
	return res
}

func (s *Supervisor) shouldAutoStart(nowUS uint64) bool {
	if s.role != Secondary || s.autoStarted || s.phoneConnected {
		return false
	}
	if s.sess.State() != session.Ready {
		return false
	}
	elapsed := nowUS - s.connectedAt
	if elapsed < StartupWindowUS || elapsed > StartupRetryUntilUS {
		return false
	}
	return nowUS-s.lastAutoStartTryUS >= StartupRetryUS
}

// MarkAutoStarted records that auto-start succeeded, so the window
// doesn't retry further.
func (s *Supervisor) MarkAutoStarted() {
	s.autoStarted = true
}
