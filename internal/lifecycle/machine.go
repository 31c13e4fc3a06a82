package lifecycle

import (
	"sync"

	"github.com/loykin/sidewatch/internal/metrics"
)

// transitions is the authoritative table. Terminal states have no outgoing
// edges, which also settles the exit-watch vs. health-poll race: once the
// exit watcher records Crashed, a late successful probe cannot flip the
// state back to Healthy. A running backend that exits 0 on its own goes
// straight to StoppedClean; StoppedForce is only reachable through a
// requested stop.
var transitions = map[State][]State{
	NotStarted: {Starting},
	Starting:   {Healthy, Stopping, StoppedClean, Crashed},
	Healthy:    {Unhealthy, Stopping, StoppedClean, Crashed},
	Unhealthy:  {Healthy, Stopping, StoppedClean, Crashed},
	Stopping:   {StoppedClean, StoppedForce},
}

// Machine holds the single authoritative state for one backend instance.
// All access goes through the mutex; critical sections only read or set the
// small state word, never perform I/O.
type Machine struct {
	mu    sync.Mutex
	name  string
	state State
}

func NewMachine(name string) *Machine {
	return &Machine{name: name, state: NotStarted}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition applies a state change if the table allows it and reports
// whether the machine is now in the requested state. Setting the current
// state again is an observable no-op that still reports true.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return true
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	// Metrics outside the lock.
	metrics.RecordStateTransition(m.name, from.String(), to.String())
	metrics.SetCurrentState(m.name, from.String(), false)
	metrics.SetCurrentState(m.name, to.String(), true)
	return true
}

// Reset begins a fresh instance: allowed only from a terminal state (or
// NotStarted), used by the restart paths.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	from := m.state
	if from != NotStarted && !from.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	m.state = NotStarted
	m.mu.Unlock()

	if from != NotStarted {
		metrics.RecordStateTransition(m.name, from.String(), NotStarted.String())
		metrics.SetCurrentState(m.name, from.String(), false)
		metrics.SetCurrentState(m.name, NotStarted.String(), true)
	}
	return true
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
