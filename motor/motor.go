// Package motor implements the priority-scheduled motor execution
// loop: peek the event queue, coarse-sleep, spin-wait the last
// stretch, execute, and re-peek, driving an Actuator at the
// scheduled instant to within about a millisecond.
package motor

import (
	"runtime"
	"time"

	"tactilesync.dev/clock"
	"tactilesync.dev/queue"
	"tactilesync.dev/session"
)

// Actuator is the external collaborator (DRV2605 behind an I2C mux,
// in production) the motor task drives. Finger identifies which of
// the four channels to act on.
type Actuator interface {
	// Prime performs the slow part of activation setup (channel
	// select, frequency register write) ahead of time, so that the
	// later Activate call only has to flip the amplitude register.
	Prime(finger int, freqOffset int) error
	Activate(finger int, amplitude int) error
	Deactivate(finger int) error
	StopAll()
}

// Recorder is implemented by metrics.Recorder; kept as a narrow
// interface here so this package doesn't need to import metrics.
type Recorder interface {
	RecordExecution(scheduledUS, actualUS uint64)
}

const (
	// coarseThresholdUS is the delay below which the task switches
	// from sleeping to spinning.
	coarseThresholdUS = 2000
	// coarseSleepMarginUS is subtracted from the delay before
	// sleeping, so the task wakes slightly early and re-peeks rather
	// than risking oversleeping past the deadline.
	coarseSleepMarginUS = 1000
)

// Task drives Actuator activations at their scheduled instant.
type Task struct {
	q       *queue.Queue
	act     Actuator
	clk     *clock.Source
	sess    *session.Machine
	metrics Recorder
}

// New returns a Task reading from q, executing against act, timed by
// clk, and gated by sess (no activation executes while the session
// is not RUNNING).
func New(q *queue.Queue, act Actuator, clk *clock.Source, sess *session.Machine, metrics Recorder) *Task {
	return &Task{q: q, act: act, clk: clk, sess: sess, metrics: metrics}
}

// Run drives the task loop until stop is closed. It is meant to run
// in its own goroutine, at the highest scheduling priority the
// runtime affords (GOMAXPROCS permitting); on a single-core target it
// relies on runtime.Gosched to yield cooperatively while spinning.
func (t *Task) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		ev, ok := t.q.PeekNext()
		if !ok {
			select {
			case <-t.q.NotifyChan():
			case <-time.After(50 * time.Millisecond):
			case <-stop:
				return
			}
			continue
		}

		now := t.clk.NowUS()
		if ev.TimeUS <= now {
			t.dequeueAndExecute()
			continue
		}
		delayUS := ev.TimeUS - now

		if delayUS > coarseThresholdUS {
			sleep := time.Duration(delayUS-coarseSleepMarginUS) * time.Microsecond
			select {
			case <-t.q.NotifyChan():
			case <-time.After(sleep):
			case <-stop:
				return
			}
			continue // re-peek: an earlier event may have arrived
		}

		// delay <= coarseThresholdUS: re-peek once more, since an
		// earlier event may have been enqueued between the check
		// above and here.
		cur, ok := t.q.PeekNext()
		if !ok || cur.TimeUS != ev.TimeUS || cur.Finger != ev.Finger || cur.Kind != ev.Kind {
			continue
		}
		for t.clk.NowUS() < ev.TimeUS {
			select {
			case <-stop:
				return
			default:
				runtime.Gosched()
			}
		}
		t.dequeueAndExecute()
	}
}

func (t *Task) dequeueAndExecute() {
	ev, ok := t.q.DequeueNext()
	if !ok {
		return
	}
	// Re-check session state after dequeue and before I/O: a
	// STOP_SESSION observed between peek and here must prevent this
	// activation from reaching the actuator.
	if ev.Kind == queue.Activate && !t.sess.CanActivate() {
		return
	}

	switch ev.Kind {
	case queue.Activate:
		t.act.Activate(ev.Finger, ev.Amplitude)
	case queue.Deactivate:
		t.act.Deactivate(ev.Finger)
		t.preselect()
	}

	actual := t.clk.NowUS()
	if t.metrics != nil {
		t.metrics.RecordExecution(ev.TimeUS, actual)
	}
}

// preselect implements the pre-selection optimization: after a
// deactivate completes, if the next queued event is an activate, its
// slow setup (channel select, frequency set) is performed immediately
// so only the amplitude write remains at the scheduled instant.
func (t *Task) preselect() {
	next, ok := t.q.PeekNext()
	if !ok || next.Kind != queue.Activate {
		return
	}
	t.act.Prime(next.Finger, next.FreqOffset)
}
