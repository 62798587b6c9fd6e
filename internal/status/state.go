package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/rcschat/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Starting State = "STARTING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Stopping State = "STOPPING"
	Stopped  State = "STOPPED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Starting, Error},
	Starting: {Ready, Degraded, Stopping, Error},
	Ready:    {Degraded, Stopping, Error},
	Degraded: {Ready, Stopping, Error},
	Stopping: {Stopped, Error},
	Stopped:  {Booting},
	Error:    {Booting, Stopping},
}

// Serving reports whether the daemon accepts chat operations in state s.
func (s State) Serving() bool {
	return s == Ready || s == Degraded
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu        sync.RWMutex
	current   State
	bus       *bus.Bus
	observers []func(State)
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Observe registers fn to be called with the new state after every
// transition, and once immediately with the current state.
func (m *Machine) Observe(fn func(State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	cur := m.current
	m.mu.Unlock()
	fn(cur)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(to)
	}
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.DaemonStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
