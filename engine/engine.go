// Package engine wires every component into the running system for
// one device, PRIMARY or SECONDARY: one clock, one session machine,
// one event queue, one staging ring, the clock-sync and lead-time
// estimators (PRIMARY only), the therapy sequencer, the keepalive
// supervisor, the latency recorder, and the motor task. Run spawns
// the three execution contexts and drives the main-context loop
// until stopped.
package engine

import (
	"errors"
	"io"
	"log"
	"time"

	"tactilesync.dev/battery"
	"tactilesync.dev/clock"
	"tactilesync.dev/clocksync"
	"tactilesync.dev/config"
	"tactilesync.dev/keepalive"
	"tactilesync.dev/leadtime"
	"tactilesync.dev/metrics"
	"tactilesync.dev/motor"
	"tactilesync.dev/queue"
	"tactilesync.dev/session"
	"tactilesync.dev/staging"
	"tactilesync.dev/therapy"
	"tactilesync.dev/wire"
)

// Link is the transport the engine reads frames from and writes
// frames to. It only needs Read/Write, a subset of radio.Link, so
// engine itself never has to close the underlying port; callers
// (cmd/primary, cmd/secondary) own that lifecycle.
type Link interface {
	io.ReadWriter
}

// Battery is the narrow voltage-monitor contract the engine depends
// on, satisfied by battery.Monitor.
type Battery interface {
	VoltageMV() (int, error)
}

const batteryPollIntervalUS = 1_000_000

// Engine is the process-wide root value for one device.
type Engine struct {
	role config.Role

	link  Link
	act   motor.Actuator
	batt  Battery
	store *config.Store

	clk     *clock.Source
	sess    *session.Machine
	q       *queue.Queue
	ring    *staging.Ring
	sync    *clocksync.Engine   // PRIMARY only
	lead    *leadtime.Estimator // PRIMARY only
	thrpy   *therapy.Engine
	keep    *keepalive.Supervisor
	metrics *metrics.Recorder
	motor   *motor.Task

	lastBatteryCheckUS uint64
}

// New builds an Engine for role, talking to link, driving act, and
// reading batt. gen is the pattern source; it must be non-nil on
// PRIMARY and is ignored on SECONDARY.
func New(role config.Role, link Link, act motor.Actuator, batt Battery, store *config.Store, raw clock.Raw, gen therapy.Generator) *Engine {
	clk := clock.New(raw)
	sess := session.New()
	q := queue.New()
	ring := staging.New()
	m := metrics.New()

	e := &Engine{
		role:    role,
		link:    link,
		act:     act,
		batt:    batt,
		store:   store,
		clk:     clk,
		sess:    sess,
		q:       q,
		ring:    ring,
		metrics: m,
		motor:   motor.New(q, act, clk, sess, m),
	}

	if role == config.RolePrimary {
		e.sync = clocksync.New()
		e.lead = leadtime.New()
		e.thrpy = therapy.New(gen, q, clk, e.sync, e.lead, link)
		e.keep = keepalive.NewPrimary(link, sess, e.sync, e.lead, m)
	} else {
		e.thrpy = therapy.NewSecondary(q)
		e.keep = keepalive.NewSecondary(link, sess, m)
	}

	sess.AddObserver(e.onTransition)
	return e
}

// Metrics exposes the latency recorder for the diagnostic surface.
func (e *Engine) Metrics() *metrics.Recorder { return e.metrics }

// Session exposes the session machine for the diagnostic surface.
func (e *Engine) Session() *session.Machine { return e.sess }

// Sync exposes the clock-sync engine, nil on SECONDARY.
func (e *Engine) Sync() *clocksync.Engine { return e.sync }

// SetPhoneConnected records whether the companion phone app is
// currently attached. The phone-side protocol itself is an external
// collaborator outside this module (§6); callers on that surface
// report connect/disconnect transitions here so the session FSM and
// the SECONDARY boot auto-start window react to them.
func (e *Engine) SetPhoneConnected(connected bool) {
	e.keep.SetPhoneConnected(connected)
	if connected {
		e.sess.Fire(session.PhoneReconnected, "phone connected")
	} else {
		e.sess.Fire(session.PhoneLost, "phone disconnected")
	}
}

// onTransition is the observer registered at construction,
// implementing the safety bindings: entry to a hazard state triggers
// the emergency stop, and the therapy engine tracks RUNNING/PAUSED.
func (e *Engine) onTransition(t session.Transition) {
	switch t.To {
	case session.Running:
		switch t.Trigger {
		case session.ResumeSession:
			e.thrpy.Resume()
		default:
			e.thrpy.Start()
		}
	case session.Paused:
		e.thrpy.Pause()
	case session.CriticalBattery, session.Error, session.ConnectionLost:
		e.emergencyStop()
	case session.Stopping:
		e.thrpy.Stop()
	}
	log.Printf("tactilesync: session %s -> %s (%s) %s", t.From, t.To, triggerName(t.Trigger), t.Reason)
}

// emergencyStop performs the safety shutdown in the main context,
// ordered: stop the sequencer, clear the local queue, then silence
// every actuator channel.
func (e *Engine) emergencyStop() {
	e.thrpy.Stop()
	e.q.Clear()
	if e.act != nil {
		e.act.StopAll()
	}
}

// Run starts the motor task and radio-reader goroutines and drives
// the main-context loop until stop is closed. It returns when the
// link is closed or stop fires.
func (e *Engine) Run(stop <-chan struct{}) error {
	motorStop := make(chan struct{})
	defer close(motorStop)
	go e.motor.Run(motorStop)

	radioErr := make(chan error, 1)
	go func() { radioErr <- e.radioLoop(stop) }()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case err := <-radioErr:
			return err
		case <-ticker.C:
			e.tick(e.clk.NowUS())
		}
	}
}

// tick advances every periodic, main-context component by one step.
func (e *Engine) tick(nowUS uint64) {
	e.drainStaging()

	if e.thrpy != nil {
		e.thrpy.Update(nowUS)
	}

	res := e.keep.Tick(nowUS)
	if res.SendPing != nil {
		e.link.Write(res.SendPing)
	}
	if res.ConnectionLost {
		if e.role == config.RolePrimary {
			e.link.Write(wire.EncodeSessionControl("STOP_SESSION", e.keep.NextSequence(), nowUS))
		}
		e.sess.Fire(session.Disconnected, "keepalive timeout")
	}
	if res.BatchTimeout {
		e.sess.Fire(session.ErrorOccurred, "batch timeout")
	}
	if res.AttemptAutoStart {
		if e.sess.Fire(session.StartSession, "boot auto-start") {
			e.keep.MarkAutoStarted()
		}
	}

	if e.sess.State() == session.Stopping && e.q.IsEmpty() {
		e.sess.Fire(session.SessionComplete, "queue drained")
	}

	e.pollBattery(nowUS)
}

func (e *Engine) drainStaging() {
	for {
		ev, ok := e.ring.Pop()
		if !ok {
			return
		}
		if ev.BatchStart {
			e.q.Clear()
		}
		e.q.Enqueue(ev.Finger, ev.Amplitude, ev.FreqOffset, ev.TimeUS, ev.DurationMS)
	}
}

func (e *Engine) pollBattery(nowUS uint64) {
	if e.batt == nil || nowUS-e.lastBatteryCheckUS < batteryPollIntervalUS {
		return
	}
	e.lastBatteryCheckUS = nowUS
	mv, err := e.batt.VoltageMV()
	if err != nil {
		log.Printf("tactilesync: battery read: %v", err)
		return
	}
	switch {
	case mv <= battery.CriticalMV:
		e.sess.Fire(session.BatteryCritical, "voltage critical")
	case mv <= battery.WarningMV:
		e.sess.Fire(session.BatteryWarning, "voltage low")
	default:
		e.sess.Fire(session.BatteryOK, "voltage recovered")
	}
}

// radioLoop is the stand-in for the radio-callback context: it only
// parses frames and performs the narrow, non-blocking dispatch the
// resource-model restricts it to (session triggers, staging pushes,
// keepalive bookkeeping); it never touches the actuator.
func (e *Engine) radioLoop(stop <-chan struct{}) error {
	reader := wire.NewReader(e.link)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		f, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				log.Printf("tactilesync: malformed frame dropped: %v", err)
				continue
			}
			return err
		}
		e.handleFrame(f)
	}
}

func (e *Engine) handleFrame(f wire.Frame) {
	nowUS := e.clk.NowUS()
	e.keep.HandleFrame(f, nowUS)

	switch f.Kind {
	case wire.KindReady:
		e.keep.NoteConnected(nowUS)
		e.sess.Fire(session.Connected, "radio")
	case wire.KindStartSession:
		e.sess.Fire(session.StartSession, "radio")
	case wire.KindPauseSession:
		e.sess.Fire(session.PauseSession, "radio")
	case wire.KindResumeSession:
		e.sess.Fire(session.ResumeSession, "radio")
	case wire.KindStopSession:
		e.sess.Fire(session.StopSession, "radio")
	case wire.KindPing:
		t2 := nowUS
		t3 := e.clk.NowUS()
		e.link.Write(keepalive.HandlePing(f.SequenceID, t2, t3))
	case wire.KindMacrocycle:
		e.keep.NoteBatchReceived(nowUS)
		e.stageBatch(f.Batch)
		e.link.Write(wire.EncodeAck(f.SequenceID))
	case wire.KindMacrocycleAck:
		e.thrpy.HandleAck(f.SequenceID)
	case wire.KindGetBattery:
		if e.batt == nil {
			return
		}
		mv, err := e.batt.VoltageMV()
		if err != nil {
			log.Printf("tactilesync: battery read: %v", err)
			return
		}
		e.link.Write(wire.EncodeBatteryResponse(uint32(mv)))
	case wire.KindBatteryResponse, wire.KindParamUpdate, wire.KindSeed, wire.KindSeedAck, wire.KindUnknown:
		// Diagnostic/advisory frames with no effect on the motor or
		// session state machine in this build.
	}
}

// stageBatch applies the sender's clock offset to every event in b
// and pushes it onto the staging ring for the main context to
// forward into the local queue, marking batch boundaries so the
// consumer can clear stale events before the new batch lands. A batch
// whose offset magnitude reaches clocksync.MaxOffsetMagnitude is
// dropped whole; the caller still acknowledges it.
func (e *Engine) stageBatch(b wire.Batch) {
	if b.ClockOffsetUS >= clocksync.MaxOffsetMagnitude || b.ClockOffsetUS <= -clocksync.MaxOffsetMagnitude {
		log.Printf("tactilesync: batch %d rejected, clock offset %dus out of range", b.SequenceID, b.ClockOffsetUS)
		return
	}
	for i, ev := range b.Events {
		localTime := int64(b.BaseTimeUS) + int64(ev.DeltaMS)*1000 + b.ClockOffsetUS
		if localTime < 0 {
			continue
		}
		e.ring.Push(staging.Event{
			Kind:       staging.Activate,
			TimeUS:     uint64(localTime),
			Finger:     ev.Finger,
			Amplitude:  ev.Amplitude,
			FreqOffset: ev.FreqOffset,
			DurationMS: uint32(b.DurationMS),
			BatchStart: i == 0,
			BatchLast:  i == len(b.Events)-1,
		})
	}
}

func triggerName(t session.Trigger) string {
	names := [...]string{
		"CONNECTED", "DISCONNECTED", "RECONNECTED", "RECONNECT_FAILED",
		"START_SESSION", "PAUSE_SESSION", "RESUME_SESSION", "STOP_SESSION",
		"SESSION_COMPLETE", "BATTERY_WARNING", "BATTERY_CRITICAL", "BATTERY_OK",
		"PHONE_LOST", "PHONE_RECONNECTED", "ERROR_OCCURRED", "EMERGENCY_STOP",
		"RESET", "FORCED_SHUTDOWN",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "UNKNOWN"
	}
	return names[t]
}
