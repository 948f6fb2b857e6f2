// Package pipeline implements the replication core: the coordinator
// that drives per-stream extraction, the incremental cursor extractor
// and the log-based change tailer.
package pipeline

import (
	"fmt"
	"sync"
)

// State represents the change tailer state.
type State int

const (
	// StateStarting indicates the tailer is opening its change cursor.
	StateStarting State = iota
	// StateActive indicates the tailer is waiting for or processing events.
	StateActive
	// StateEnablingCapability indicates the tailer is issuing the
	// administrative call that enables change capture.
	StateEnablingCapability
	// StateDraining indicates the tailer is flushing its position and
	// closing the cursor.
	StateDraining
	// StateStopped indicates a clean, terminal exit.
	StateStopped
	// StateFailed indicates an unrecoverable, terminal exit. The last
	// flushed position remains valid for the next run.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnablingCapability:
		return "enabling_capability"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateStarting:           {StateActive, StateEnablingCapability, StateFailed},
	StateEnablingCapability: {StateStarting, StateFailed},
	StateActive:             {StateDraining, StateFailed},
	StateDraining:           {StateStopped, StateFailed},
	StateStopped:            {},
	StateFailed:             {},
}

// StateMachine tracks the tailer's lifecycle. The tailer itself is
// single-threaded; the mutex only guards external observers (health
// checks, stats) reading the state concurrently.
type StateMachine struct {
	mu    sync.RWMutex
	state State
}

// NewStateMachine creates a state machine starting in StateStarting.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateStarting}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition attempts to transition to the target state. Returns an
// error if the transition is not valid.
func (sm *StateMachine) Transition(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.canTransition(target) {
		return fmt.Errorf("invalid state transition from %s to %s", sm.state, target)
	}
	sm.state = target
	return nil
}

// canTransition checks if a transition to target is valid. Caller holds
// the lock.
func (sm *StateMachine) canTransition(target State) bool {
	for _, s := range validTransitions[sm.state] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the tailer is in a terminal state.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state == StateStopped || sm.state == StateFailed
}
