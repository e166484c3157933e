package motor

import (
	"sync"
	"testing"
	"time"

	"tactilesync.dev/clock"
	"tactilesync.dev/queue"
	"tactilesync.dev/session"
)

type fakeActuator struct {
	mu        sync.Mutex
	activated []int
	primed    []int
}

func (f *fakeActuator) Prime(finger, freqOffset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primed = append(f.primed, finger)
	return nil
}

func (f *fakeActuator) Activate(finger, amplitude int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, finger)
	return nil
}

func (f *fakeActuator) Deactivate(finger int) error { return nil }
func (f *fakeActuator) StopAll()                    {}

func (f *fakeActuator) snapshot() (activated, primed []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.activated...), append([]int(nil), f.primed...)
}

func newRunningSession() *session.Machine {
	m := session.New()
	m.Fire(session.Connected, "")
	m.Fire(session.Connected, "")
	m.Fire(session.StartSession, "")
	return m
}

func TestMotorExecutesAtScheduledTime(t *testing.T) {
	q := queue.New()
	sess := newRunningSession()
	var tick uint64
	var mu sync.Mutex
	clk := clock.New(func() uint32 {
		mu.Lock()
		defer mu.Unlock()
		return uint32(tick)
	})
	act := &fakeActuator{}
	task := New(q, act, clk, sess, nil)

	stop := make(chan struct{})
	go task.Run(stop)
	defer close(stop)

	now := clk.NowUS()
	q.Enqueue(1, 80, 0, now+500, 10) // 500us out: spin path

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		tick += 100
		mu.Unlock()
		activated, _ := act.snapshot()
		if len(activated) > 0 {
			if activated[0] != 1 {
				t.Fatalf("activated finger = %d, want 1", activated[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for activation")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestNoActivationWhenNotRunning(t *testing.T) {
	q := queue.New()
	sess := session.New() // stays IDLE
	clk := clock.New(func() uint32 { return 0 })
	act := &fakeActuator{}
	task := New(q, act, clk, sess, nil)

	// Bypass the FSM's activation gate being exercised by enqueueing
	// directly and dequeuing/executing once synchronously.
	q.Enqueue(0, 50, 0, 0, 10)
	task.dequeueAndExecute() // the activate, due "now"
	activated, _ := act.snapshot()
	if len(activated) != 0 {
		t.Fatalf("activation fired while session not RUNNING: %v", activated)
	}
}

func TestPreselectPrimesNextActivate(t *testing.T) {
	q := queue.New()
	sess := newRunningSession()
	clk := clock.New(func() uint32 { return 1_000_000 })
	act := &fakeActuator{}
	task := New(q, act, clk, sess, nil)

	// Enqueue one pair fully in the past so DequeueNext fires both
	// immediately in sequence.
	q.Enqueue(3, 90, 0, 0, 1)
	task.dequeueAndExecute() // activate finger 3
	// Manually enqueue a second activate to be "next" after the
	// deactivate executes.
	q.Enqueue(2, 70, 5, 2000, 1)
	task.dequeueAndExecute() // deactivate finger 3, should prime finger 2

	_, primed := act.snapshot()
	if len(primed) != 1 || primed[0] != 2 {
		t.Fatalf("primed = %v, want [2]", primed)
	}
}
