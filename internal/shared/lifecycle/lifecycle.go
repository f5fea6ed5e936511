// Package lifecycle holds the per-family state machines. Each family declares
// one Machine value next to its entities; every legal transition lives in that
// single table so adding a state forces the table, not scattered call sites,
// to change.
package lifecycle

import (
	"errors"
	"fmt"
)

// State is an entity lifecycle state.
type State string

// Event names one legal transition. Self-loops map an event back to the
// current state (the transition still appends a timeline event).
type Event string

// ErrIllegalTransition is returned for any (state, event) edge not present in
// the machine's table.
var ErrIllegalTransition = errors.New("illegal state transition")

// Machine is a directed transition graph with one initial state. A state with
// no outgoing edges is terminal.
type Machine struct {
	Initial     State
	Transitions map[State]map[Event]State
}

// Apply resolves the next state for event from current. Any edge outside the
// declared table is rejected, never silently ignored.
func (m Machine) Apply(current State, event Event) (State, error) {
	edges, ok := m.Transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: no transitions from state %q", ErrIllegalTransition, current)
	}
	next, ok := edges[event]
	if !ok {
		return "", fmt.Errorf("%w: event %q not legal in state %q", ErrIllegalTransition, event, current)
	}
	return next, nil
}

// Terminal reports whether state has no outgoing edges.
func (m Machine) Terminal(state State) bool {
	return len(m.Transitions[state]) == 0
}

// Knows reports whether state appears in the machine at all, either as a
// source or as a target.
func (m Machine) Knows(state State) bool {
	if _, ok := m.Transitions[state]; ok {
		return true
	}
	for _, edges := range m.Transitions {
		for _, next := range edges {
			if next == state {
				return true
			}
		}
	}
	return state == m.Initial
}
