// Package therapy implements the sequencer that turns a pattern
// source into timed macrocycle batches: on PRIMARY it gathers events,
// applies the current clock offset and lead time, enqueues them for
// local execution and transmits the batch; on SECONDARY it is mostly
// inert, existing only so the emergency-stop path has a uniform
// "stop the sequencer" step on either role.
//
// The engine is a non-blocking state machine driven by periodic
// Update calls, grounded in the same style as a long-running,
// progress-reporting job driven by a caller's event loop: each call
// advances at most one phase and returns immediately, never blocking
// on I/O or on the other side's acknowledgement.
package therapy

import (
	"log"

	"tactilesync.dev/clock"
	"tactilesync.dev/clocksync"
	"tactilesync.dev/leadtime"
	"tactilesync.dev/queue"
	"tactilesync.dev/wire"
)

// Generator yields the next haptic event tuple for the session. It
// returns ok=false once the pattern is exhausted; the engine then
// returns to PhaseIdle and reports Done.
type Generator interface {
	Next() (wire.EventSpec, bool)
}

// Sender is the narrow write side of a radio link.
type Sender interface {
	Write(p []byte) (int, error)
}

// Phase is the engine's internal batch-cycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingSync
	PhaseRunning
	PhaseBatchPending
	PhaseBatchTransmitted
	PhaseBatchComplete
	PhasePaused
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseAwaitingSync:
		return "AWAITING_SYNC"
	case PhaseRunning:
		return "RUNNING"
	case PhaseBatchPending:
		return "BATCH_PENDING"
	case PhaseBatchTransmitted:
		return "BATCH_TRANSMITTED"
	case PhaseBatchComplete:
		return "BATCH_COMPLETE"
	case PhasePaused:
		return "PAUSED"
	case PhaseStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// DurationMS is the common ON duration applied to every event in a
// batch; the pattern source controls amplitude, finger and frequency
// offset but not per-event duration.
const DurationMS = 50

// SyncGraceUS bounds how long a session will wait in AWAITING_SYNC
// for clock sync to become valid before starting anyway in a
// degraded, explicitly-logged mode.
const SyncGraceUS = 10_000_000

// Engine sequences haptic events into macrocycle batches. The same
// type serves both roles: on SECONDARY, sync/lead/link/gen are nil
// and only Stop/Update(idle) are meaningful.
type Engine struct {
	gen  Generator
	q    *queue.Queue
	clk  *clock.Source
	sync *clocksync.Engine  // PRIMARY only
	lead *leadtime.Estimator // PRIMARY only
	link Sender             // PRIMARY only

	phase Phase
	seq   uint32

	awaitingAck   bool
	pendingAckSeq uint32

	// awaitingSyncSinceUS is the device time AWAITING_SYNC was
	// entered, stamped by the first Update call that observes that
	// phase; syncWaitStamped records whether that has happened.
	awaitingSyncSinceUS uint64
	syncWaitStamped     bool

	// Done reports pattern exhaustion to the caller after the next
	// Update call that discovers it.
	done bool
}

// New returns a PRIMARY engine that generates and transmits batches.
func New(gen Generator, q *queue.Queue, clk *clock.Source, sync *clocksync.Engine, lead *leadtime.Estimator, link Sender) *Engine {
	return &Engine{gen: gen, q: q, clk: clk, sync: sync, lead: lead, link: link}
}

// NewSecondary returns an engine with no generation capability,
// suitable for the SECONDARY role where batches arrive over the
// radio instead of being produced locally.
func NewSecondary(q *queue.Queue) *Engine {
	return &Engine{q: q}
}

// Phase reports the engine's current internal phase.
func (e *Engine) Phase() Phase { return e.phase }

// Start begins a session: the engine will gather and transmit
// batches on subsequent Update calls. No-op on an engine with no
// Generator (SECONDARY). If clock sync is not yet valid, no
// activation is scheduled until it becomes valid or the grace period
// in SyncGraceUS elapses, per the "no activation before
// synchronization is established" safety invariant.
func (e *Engine) Start() {
	if e.gen == nil {
		return
	}
	e.done = false
	e.awaitingSyncSinceUS = 0
	e.syncWaitStamped = false
	if e.sync != nil && !e.sync.Valid() {
		e.phase = PhaseAwaitingSync
		return
	}
	e.phase = PhaseRunning
}

// Pause freezes batch generation without losing phase; Resume
// continues it.
func (e *Engine) Pause() {
	if e.phase != PhaseIdle {
		e.phase = PhasePaused
	}
}

// Resume continues a paused engine. If clock sync dropped out of
// validity while paused, it re-enters AWAITING_SYNC rather than
// resuming activation outright.
func (e *Engine) Resume() {
	if e.phase != PhasePaused {
		return
	}
	if e.sync != nil && !e.sync.Valid() {
		e.phase = PhaseAwaitingSync
		return
	}
	e.phase = PhaseRunning
}

// Stop begins an orderly shutdown: no further batches are generated.
func (e *Engine) Stop() {
	if e.phase == PhaseIdle {
		return
	}
	e.phase = PhaseStopping
}

// HandleAck records that the transmitted batch with the given
// sequence id was acknowledged. It does not gate the next batch;
// batch pacing is driven purely by local queue drain.
func (e *Engine) HandleAck(seq uint32) {
	if e.awaitingAck && seq == e.pendingAckSeq {
		e.awaitingAck = false
	}
}

// Done reports whether the pattern source has been exhausted.
func (e *Engine) Done() bool { return e.done }

// Update advances the engine by at most one phase step and returns
// the wire bytes of a batch just transmitted, if any, for the
// caller's own bookkeeping. Most calls return nil.
func (e *Engine) Update(nowUS uint64) []byte {
	switch e.phase {
	case PhaseIdle, PhasePaused:
		return nil
	case PhaseAwaitingSync:
		if !e.syncWaitStamped {
			e.awaitingSyncSinceUS = nowUS
			e.syncWaitStamped = true
		}
		if e.sync.Valid() {
			e.phase = PhaseRunning
			return nil
		}
		if nowUS-e.awaitingSyncSinceUS >= SyncGraceUS {
			log.Printf("tactilesync: therapy starting in degraded mode, no valid clock sync after %dms grace period", SyncGraceUS/1000)
			e.phase = PhaseRunning
		}
		return nil
	case PhaseStopping:
		if e.q.IsEmpty() {
			e.phase = PhaseIdle
		}
		return nil
	case PhaseRunning:
		if e.gen == nil {
			return nil
		}
		if !e.q.IsEmpty() {
			return nil // previous batch still draining
		}
		e.phase = PhaseBatchPending
		return nil
	case PhaseBatchPending:
		return e.buildAndTransmit(nowUS)
	case PhaseBatchTransmitted:
		if e.q.IsEmpty() {
			e.phase = PhaseBatchComplete
		}
		return nil
	case PhaseBatchComplete:
		e.phase = PhaseRunning
		return nil
	}
	return nil
}

func (e *Engine) buildAndTransmit(nowUS uint64) []byte {
	events := make([]wire.EventSpec, 0, wire.BatchEventMax)
	for len(events) < wire.BatchEventMax {
		ev, ok := e.gen.Next()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		e.done = true
		e.phase = PhaseIdle
		return nil
	}

	leadUS := e.lead.LeadTime()
	baseTime := nowUS + uint64(leadUS)
	offset := e.sync.CorrectedOffset(uint32(nowUS / 1000))

	for _, ev := range events {
		activateUS := baseTime + uint64(ev.DeltaMS)*1000
		e.q.Enqueue(ev.Finger, ev.Amplitude, ev.FreqOffset, activateUS, DurationMS)
	}

	e.seq++
	batch := wire.Batch{
		SequenceID:    e.seq,
		BaseTimeUS:    baseTime,
		ClockOffsetUS: offset,
		DurationMS:    DurationMS,
		Events:        events,
	}
	frame, err := wire.EncodeMacrocycle(batch)
	if err != nil {
		// Malformed batch (too many events): drop it and return to
		// running rather than wedging the cycle.
		e.phase = PhaseRunning
		return nil
	}
	e.awaitingAck = true
	e.pendingAckSeq = e.seq
	e.phase = PhaseBatchTransmitted
	if e.link != nil {
		e.link.Write(frame)
	}
	return frame
}
