// Package session implements the eleven-state session finite state
// machine that gates every other component with the system's
// safety invariants: no activation may occur outside RUNNING, and a
// transition out of RUNNING must drain the motor queue before the
// device does anything else.
package session

import "sync/atomic"

// State is one of the eleven session states.
type State uint32

const (
	Idle State = iota
	Connecting
	Ready
	Running
	Paused
	Stopping
	Error
	LowBattery
	CriticalBattery
	ConnectionLost
	PhoneDisconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Stopping:
		return "STOPPING"
	case Error:
		return "ERROR"
	case LowBattery:
		return "LOW_BATTERY"
	case CriticalBattery:
		return "CRITICAL_BATTERY"
	case ConnectionLost:
		return "CONNECTION_LOST"
	case PhoneDisconnected:
		return "PHONE_DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Trigger is an event fed into the state machine.
type Trigger int

const (
	Connected Trigger = iota
	Disconnected
	Reconnected
	ReconnectFailed
	StartSession
	PauseSession
	ResumeSession
	StopSession
	SessionComplete
	BatteryWarning
	BatteryCritical
	BatteryOK
	PhoneLost
	PhoneReconnected
	ErrorOccurred
	EmergencyStop
	Reset
	ForcedShutdown
)

// Transition describes a completed state change, delivered to
// observers after it has taken effect.
type Transition struct {
	From    State
	To      State
	Trigger Trigger
	Reason  string
}

// Observer is notified after every successful transition. Observers
// are plain function values captured by the Machine; they must not
// retain a reference back into the Machine beyond the call (the
// Machine owns the observer list, observers own nothing global).
type Observer func(Transition)

// maxObservers bounds the observer list, matching the firmware's
// fixed-size registration table.
const maxObservers = 4

// table maps each state to the states reachable from it per trigger.
// Triggers not present for a state are no-ops: the transition is
// silently dropped.
var table = map[State]map[Trigger]State{
	Idle: {
		Connected: Connecting,
		Reset:     Idle,
	},
	Connecting: {
		Connected:       Ready,
		Disconnected:    Idle,
		ReconnectFailed: Idle,
		ErrorOccurred:   Error,
	},
	Ready: {
		StartSession:    Running,
		Disconnected:    ConnectionLost,
		BatteryWarning:  LowBattery,
		BatteryCritical: CriticalBattery,
		PhoneLost:       PhoneDisconnected,
		ErrorOccurred:   Error,
	},
	Running: {
		PauseSession:     Paused,
		StopSession:      Stopping,
		SessionComplete:  Stopping,
		Disconnected:     ConnectionLost,
		BatteryWarning:   LowBattery,
		BatteryCritical:  CriticalBattery,
		PhoneLost:        PhoneDisconnected,
		ErrorOccurred:    Error,
		EmergencyStop:    Error,
	},
	Paused: {
		ResumeSession:   Running,
		StopSession:     Stopping,
		Disconnected:    ConnectionLost,
		BatteryCritical: CriticalBattery,
		PhoneLost:       PhoneDisconnected,
		ErrorOccurred:   Error,
		EmergencyStop:   Error,
	},
	Stopping: {
		SessionComplete: Idle,
		ErrorOccurred:   Error,
	},
	Error: {
		Reset:           Idle,
		ForcedShutdown:  Idle,
	},
	LowBattery: {
		BatteryOK:       Running,
		BatteryCritical: CriticalBattery,
		StopSession:     Stopping,
		Disconnected:    ConnectionLost,
		ErrorOccurred:   Error,
	},
	CriticalBattery: {
		Reset:          Idle,
		ForcedShutdown: Idle,
	},
	ConnectionLost: {
		Reconnected: Ready,
		Reset:       Idle,
	},
	PhoneDisconnected: {
		PhoneReconnected: Running,
		StopSession:      Stopping,
		Disconnected:     ConnectionLost,
		ErrorOccurred:    Error,
	},
}

// Machine is the process-wide session state, readable concurrently
// from any context via an atomic load and mutated under
// compare-and-swap so a transition computed from a stale observation
// is abandoned rather than silently overwriting a newer one.
type Machine struct {
	state     atomic.Uint32
	observers []Observer
}

// New returns a Machine starting in Idle.
func New() *Machine {
	m := &Machine{}
	m.state.Store(uint32(Idle))
	return m
}

// State returns the current state. Safe to call from any context.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Fire consults the transition table for the machine's current state
// under an atomic compare-and-swap: if the observed state no longer
// matches what the transition was computed from (a racing radio
// callback moved it first), the transition is abandoned and Fire
// reports ok=false. On success, registered observers are notified in
// registration order.
func (m *Machine) Fire(trigger Trigger, reason string) (ok bool) {
	from := State(m.state.Load())
	to, defined := table[from][trigger]
	if !defined {
		return false
	}
	if !m.state.CompareAndSwap(uint32(from), uint32(to)) {
		return false // lost the race; abandoned
	}
	m.notify(Transition{From: from, To: to, Trigger: trigger, Reason: reason})
	return true
}

// ForceState bypasses the transition table entirely and moves the
// machine straight to the given state.
func (m *Machine) ForceState(to State, reason string) {
	from := State(m.state.Swap(uint32(to)))
	m.notify(Transition{From: from, To: to, Reason: reason})
}

// AddObserver registers an observer, notified after every successful
// transition. Registration beyond maxObservers is rejected.
func (m *Machine) AddObserver(o Observer) bool {
	if len(m.observers) >= maxObservers {
		return false
	}
	m.observers = append(m.observers, o)
	return true
}

// ClearObservers truncates the observer list.
func (m *Machine) ClearObservers() {
	m.observers = m.observers[:0]
}

func (m *Machine) notify(t Transition) {
	for _, o := range m.observers {
		o(t)
	}
}

// CanActivate reports whether the session is in a state where a
// motor activation is permitted to execute: no event executes while
// the session is not RUNNING.
func (m *Machine) CanActivate() bool {
	return m.State() == Running
}
