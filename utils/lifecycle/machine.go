package lifecycle

import (
	"slices"

	"github.com/ugparu/gocedar/utils"
)

// State is an enumerated lifecycle state.
type State interface {
	comparable
	String() string
}

// Transitions lists the states reachable from each state.
type Transitions[S State] map[S][]S

// Machine is an explicit state machine that rejects transitions missing from its table.
// It is not safe for concurrent use; owners guard it with their own lock.
type Machine[S State] struct {
	name  string
	cur   S
	table Transitions[S]
}

// NewMachine returns a machine named name in the initial state.
func NewMachine[S State](name string, initial S, table Transitions[S]) *Machine[S] {
	return &Machine[S]{
		name:  name,
		cur:   initial,
		table: table,
	}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	return m.cur
}

// In reports whether the current state is one of states.
func (m *Machine[S]) In(states ...S) bool {
	return slices.Contains(states, m.cur)
}

// Can reports whether a transition to state to is allowed from the current state.
func (m *Machine[S]) Can(to S) bool {
	return slices.Contains(m.table[m.cur], to)
}

// Transition moves the machine to state to or returns an InvalidStateError leaving it unchanged.
func (m *Machine[S]) Transition(to S) error {
	if !m.Can(to) {
		return &utils.InvalidStateError{Object: m.name, From: m.cur.String(), To: to.String()}
	}
	m.cur = to
	return nil
}

// Require returns an InvalidStateError unless the current state is one of states.
func (m *Machine[S]) Require(states ...S) error {
	if m.In(states...) {
		return nil
	}
	return &utils.InvalidStateError{Object: m.name, From: m.cur.String()}
}

// Force sets the state without consulting the table. Teardown paths use it
// after a device failure left the machine somewhere the table does not cover.
func (m *Machine[S]) Force(to S) {
	m.cur = to
}

// String returns the machine name and state.
func (m *Machine[S]) String() string {
	return m.name + "@" + m.cur.String()
}
