package runner

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a runner.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateStopped     State = "stopped"
)

// ErrInvalidTransition is wrapped by all transition failures.
var ErrInvalidTransition = fmt.Errorf("invalid state transition")

var transitions = map[State][]State{
	StateCreated:     {StateInitialized},
	StateInitialized: {StateRunning, StateStopped},
	StateRunning:     {StatePaused, StateStopped},
	StatePaused:      {StateRunning, StateStopped},
	StateStopped:     {}, // terminal
}

// stateMachine guards the runner lifecycle. Stopped is terminal.
type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateCreated}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
