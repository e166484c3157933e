// Package queue implements the bounded, time-ordered motor event
// queue: a fixed-capacity array protected by a mutex, shared by
// two producers (the main context and the radio-staging forwarder)
// and one consumer (the motor task).
package queue

import (
	"errors"
	"sort"
	"sync"
)

// Capacity is the fixed number of event slots.
const Capacity = 32

// Kind distinguishes an activation from its paired deactivation.
type Kind int

const (
	Activate Kind = iota
	Deactivate
)

// Event is one scheduled motor action.
type Event struct {
	Kind       Kind
	TimeUS     uint64
	Finger     int
	Amplitude  int // only meaningful for Activate
	FreqOffset int // only meaningful for Activate; (freq_hz-200)/5

	seq uint64 // insertion order, breaks time_us ties
}

// ErrFull names the queue-full condition. Enqueue itself reports a
// full queue by returning false, not by returning ErrFull.
var ErrFull = errors.New("queue: full")

// Queue is a fixed-capacity, time-ordered event store.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	nextSeq uint64
	notify  chan struct{}
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		events: make([]Event, 0, Capacity),
		notify: make(chan struct{}, 1),
	}
}

// Clear empties the queue. Idempotent: calling it twice in a row
// leaves the queue empty with no observable difference.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.events = q.events[:0]
	q.mu.Unlock()
}

// Enqueue reserves two slots atomically: the activation at
// activateUS and its paired deactivation at
// activateUS+durationMS*1000. Room for both is checked against
// Capacity before either is added; if there is not room for two,
// Enqueue reports failure without queuing either event.
func (q *Queue) Enqueue(finger, amplitude, freqOffset int, activateUS uint64, durationMS uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events)+2 > Capacity {
		return false
	}

	a := Event{
		Kind:       Activate,
		TimeUS:     activateUS,
		Finger:     finger,
		Amplitude:  amplitude,
		FreqOffset: freqOffset,
		seq:        q.nextSeq,
	}
	q.nextSeq++
	d := Event{
		Kind:   Deactivate,
		TimeUS: activateUS + uint64(durationMS)*1000,
		Finger: finger,
		seq:    q.nextSeq,
	}
	q.nextSeq++

	q.events = append(q.events, a, d)
	q.sortLocked()
	q.wake()
	return true
}

// Count reports the number of queued events. It is exact (taken
// under the mutex) and safe for logging or tests, but is not a
// substitute for PeekNext/DequeueNext when deciding whether to wait.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// IsEmpty reports whether the queue currently holds no events.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// PeekNext returns the earliest-scheduled event without removing it,
// or ok=false if the queue is empty.
func (q *Queue) PeekNext() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	return q.events[0], true
}

// DequeueNext atomically peeks and removes the earliest-scheduled
// event. It returns whatever is earliest at the moment it is called:
// the lock is not held between a PeekNext and a later DequeueNext, so
// an event enqueued (or a Clear) in between can make it return a
// different event from the one peeked.
func (q *Queue) DequeueNext() (ev Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev = q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// NextEventTime returns the TimeUS of the earliest event, or ok=false
// if the queue is empty.
func (q *Queue) NextEventTime() (t uint64, ok bool) {
	ev, ok := q.PeekNext()
	return ev.TimeUS, ok
}

// Notify wakes a consumer blocked waiting for new events.
func (q *Queue) Notify() {
	q.mu.Lock()
	q.wake()
	q.mu.Unlock()
}

// NotifyChan returns the channel the motor task should select on to
// be woken by Enqueue/Notify. Clear does not signal it.
func (q *Queue) NotifyChan() <-chan struct{} {
	return q.notify
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.events, func(i, j int) bool {
		ei, ej := q.events[i], q.events[j]
		if ei.TimeUS != ej.TimeUS {
			return ei.TimeUS < ej.TimeUS
		}
		return ei.seq < ej.seq
	})
}
