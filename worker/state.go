package worker

import (
	"errors"
	"fmt"
	"sync"
)

// State is a position in the handle lifecycle state machine.
type State string

// Handle lifecycle states.
const (
	StateCreated      State = "created"
	StateProvisioning State = "provisioning"
	StateReady        State = "ready"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
	StateTornDown     State = "torndown"
)

// Errors for lifecycle transitions.
var (
	// ErrHandleTornDown is returned when advancing a handle that has
	// already reached the terminal state.
	ErrHandleTornDown = errors.New("handle torn down")

	// ErrBadTransition is returned for transitions the state machine
	// does not permit.
	ErrBadTransition = errors.New("invalid state transition")
)

// transitions lists the permitted forward edges. StateTornDown is
// reachable from every non-initial state and handled separately.
var transitions = map[State][]State{
	StateCreated:      {StateProvisioning},
	StateProvisioning: {StateReady, StateFailed, StateCancelled},
	StateReady:        {StateRunning, StateFailed, StateCancelled},
	StateRunning:      {StateCompleted, StateFailed, StateCancelled},
	StateCompleted:    {},
	StateFailed:       {},
	StateCancelled:    {},
	StateTornDown:     {},
}

// Lifecycle tracks one handle through the worker state machine. The
// zero value is not usable; create with NewLifecycle.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// NewLifecycle returns a lifecycle in StateCreated.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateCreated}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Advance moves the lifecycle to next. Advancing to StateTornDown is
// permitted from every non-initial state and is idempotent: advancing
// an already torn-down handle to StateTornDown is a no-op. Any other
// transition out of StateTornDown returns ErrHandleTornDown.
func (l *Lifecycle) Advance(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateTornDown {
		if next == StateTornDown {
			return nil
		}
		return fmt.Errorf("%w: cannot reach %q", ErrHandleTornDown, next)
	}

	if next == StateTornDown {
		// Nothing was provisioned in StateCreated, so there is nothing
		// to tear down.
		if l.state == StateCreated {
			return fmt.Errorf("%w: %q -> %q", ErrBadTransition, l.state, next)
		}
		l.state = StateTornDown
		return nil
	}

	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %q -> %q", ErrBadTransition, l.state, next)
}

// Terminal reports whether the lifecycle has reached StateTornDown.
func (l *Lifecycle) Terminal() bool {
	return l.State() == StateTornDown
}
