// Package staging implements a lock-free single-producer,
// single-consumer ring used exclusively to hand motor events
// from the radio-callback context (producer, must never block) to
// the main context (consumer, which forwards staged events into the
// motor event queue).
//
// Memory ordering follows standard single-producer/single-consumer
// discipline: the producer writes a slot's fields, then publishes it
// by storing to an atomic "valid" flag; the consumer loads that flag
// to decide whether a slot is ready, reads the fields, then clears
// it. Go's memory model gives atomic loads/stores the necessary
// acquire/release semantics, so no explicit barriers are needed.
package staging

import "sync/atomic"

// Capacity is the fixed number of ring slots.
const Capacity = 16

// Kind mirrors queue.Kind without importing it, keeping this package
// free of any dependency beyond the stdlib (the producer side runs
// in the radio-callback context and must stay minimal).
type Kind int

const (
	Activate Kind = iota
	Deactivate
)

// Event is one staged motor event, copied into the ring by value.
type Event struct {
	Kind       Kind
	TimeUS     uint64
	Finger     int
	Amplitude  int
	FreqOffset int
	// DurationMS is the batch's common ON duration, carried alongside
	// the event so the consumer can enqueue the correctly-timed
	// DEACTIVATE without reaching back into the wire frame.
	DurationMS uint32
	// BatchStart marks the first event of a newly arrived macrocycle,
	// letting the consumer clear the motor queue before forwarding
	// the rest of the batch.
	BatchStart bool
	// BatchLast marks the final event of a batch. The engine's
	// consumer does not act on it; each queue Enqueue already wakes
	// the motor task.
	BatchLast bool
}

type slot struct {
	valid atomic.Bool
	ev    Event
}

// Ring is a lock-free SPSC ring buffer of Events.
type Ring struct {
	slots [Capacity]slot
	head  atomic.Uint32 // next slot the producer will write
	tail  atomic.Uint32 // next slot the consumer will read
}

// New returns an empty Ring.
func New() *Ring {
	return &Ring{}
}

// ErrFull-equivalent: Push reports false when the ring has no room.
// Push must never block; the radio callback treats a full ring as a
// dropped batch and relies on the next keepalive/macrocycle to
// resynchronize.
func (r *Ring) Push(ev Event) bool {
	head := r.head.Load()
	next := (head + 1) % Capacity
	if next == r.tail.Load() {
		// One slot is always left empty to distinguish full from
		// empty without a separate counter.
		return false
	}
	s := &r.slots[head]
	s.ev = ev
	s.valid.Store(true)
	r.head.Store(next)
	return true
}

// Pop removes and returns the oldest staged event, or ok=false if
// the ring is empty.
func (r *Ring) Pop() (ev Event, ok bool) {
	tail := r.tail.Load()
	s := &r.slots[tail]
	if !s.valid.Load() {
		return Event{}, false
	}
	ev = s.ev
	s.valid.Store(false)
	r.tail.Store((tail + 1) % Capacity)
	return ev, true
}
