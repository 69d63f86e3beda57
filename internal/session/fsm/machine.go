package fsm

import (
	"fmt"
	"sync"
)

// State describes the lifecycle of a session's underlying connection.
type State string

const (
	StateUnconnected State = "unconnected"
	StateConnecting  State = "connecting"
	StateOpen        State = "open"
	StateFailed      State = "failed"
)

// Event drives a transition.
type Event string

const (
	EventDial Event = "dial"
	EventOpen Event = "open"
	EventFail Event = "fail"
)

var transitions = map[State]map[Event]State{
	StateUnconnected: {EventDial: StateConnecting},
	StateConnecting:  {EventOpen: StateOpen, EventFail: StateFailed},
	StateOpen:        {EventFail: StateFailed},
	StateFailed:      {EventDial: StateConnecting},
}

// Machine is a lightweight deterministic connection state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a state machine in the unconnected state.
func New() *Machine {
	return &Machine{state: StateUnconnected}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnDial moves an idle or failed session into connecting.
func (m *Machine) OnDial() error {
	return m.fire(EventDial)
}

// OnOpen marks the in-flight attempt as established.
func (m *Machine) OnOpen() error {
	return m.fire(EventOpen)
}

// OnFail marks the attempt or the live connection as failed.
func (m *Machine) OnFail() error {
	return m.fire(EventFail)
}

// Can reports whether ev is accepted in the current state.
func (m *Machine) Can(ev Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := transitions[m.state][ev]
	return ok
}

func (m *Machine) fire(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := transitions[m.state][ev]
	if !ok {
		return fmt.Errorf("invalid transition: %s on %s", ev, m.state)
	}
	m.state = next
	return nil
}
