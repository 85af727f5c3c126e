// Package orchestrator implements the Deliberation Orchestrator: the
// central state machine that drives a query through panel selection,
// Stage 1 generation, Stage 2 peer review, aggregation, and Stage 3
// synthesis, fanning out concurrent gateway calls with a structured
// barrier per stage, grounded on the teacher's SubAgentRunner concurrency
// model (slot-reserving dispatch, per-task context derived from a shared
// parent, non-blocking result delivery) adapted from its push-based
// long-lived-runner shape to a simpler wait-for-all-or-deadline barrier,
// since every stage here completes within one call rather than spanning
// iterative tool-calling turns.
package orchestrator

import "fmt"

// State is one node of the deliberation state machine.
type State string

const (
	StateIdle              State = "IDLE"
	StateSelectingPanel    State = "SELECTING_PANEL"
	StateStage1Running     State = "STAGE1_RUNNING"
	StateStage1Normalizing State = "STAGE1_5_NORMALIZING"
	StateStage2Running     State = "STAGE2_RUNNING"
	StateAggregating       State = "AGGREGATING"
	StateStage3Running     State = "STAGE3_RUNNING"
	StateSealed            State = "SEALED"
	StateFailed            State = "FAILED"
)

// validTransitions encodes the state machine's edges. FAILED is reachable
// from every non-terminal state and is checked separately in CanTransition.
var validTransitions = map[State][]State{
	StateIdle:              {StateSelectingPanel},
	StateSelectingPanel:    {StateStage1Running},
	StateStage1Running:     {StateStage1Normalizing, StateStage2Running},
	StateStage1Normalizing: {StateStage2Running},
	StateStage2Running:     {StateAggregating},
	StateAggregating:       {StateStage3Running},
	StateStage3Running:     {StateSealed},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateSealed && from != StateFailed
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned by a Machine when an illegal move is
// attempted.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Machine tracks the current state of one deliberation session and
// enforces the transition table.
type Machine struct {
	current State
}

// NewMachine starts a Machine in IDLE.
func NewMachine() *Machine {
	return &Machine{current: StateIdle}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Transition moves the machine to `to`, returning ErrInvalidTransition if
// the move is illegal.
func (m *Machine) Transition(to State) error {
	if !CanTransition(m.current, to) {
		return &ErrInvalidTransition{From: m.current, To: to}
	}
	m.current = to
	return nil
}

// Fail unconditionally moves the machine to FAILED, the one transition
// that is legal from every non-terminal state.
func (m *Machine) Fail(reason string) error {
	if m.current == StateSealed || m.current == StateFailed {
		return &ErrInvalidTransition{From: m.current, To: StateFailed}
	}
	m.current = StateFailed
	return nil
}
