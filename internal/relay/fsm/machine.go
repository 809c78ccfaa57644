package fsm

import (
	"fmt"
	"sync"
)

// State describes the lifecycle of one call session.
type State string

const (
	StateAwaitingStreamStart State = "awaiting_stream_start"
	StateModelConnecting     State = "model_connecting"
	StateActive              State = "active"
	StateClosing             State = "closing"
	StateClosed              State = "closed"
)

// Machine is a lightweight deterministic session state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a state machine awaiting the stream start event.
func New() *Machine {
	return &Machine{state: StateAwaitingStreamStart}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnStreamStart marks the call stream as started and the model connection as
// pending. It reports false for duplicate stream-start events, which callers
// log and ignore.
func (m *Machine) OnStreamStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingStreamStart {
		return false
	}
	m.state = StateModelConnecting
	return true
}

// OnModelReady moves the session into steady-state relaying. It reports false
// when the session has already begun closing.
func (m *Machine) OnModelReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateModelConnecting {
		return false
	}
	m.state = StateActive
	return true
}

// OnCloseRequested enters teardown from any live state. It reports false when
// teardown has already begun so close paths stay idempotent.
func (m *Machine) OnCloseRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosing || m.state == StateClosed {
		return false
	}
	m.state = StateClosing
	return true
}

// OnClosed marks teardown complete.
func (m *Machine) OnClosed() {
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
}

// Buffering reports whether inbound caller audio should be held instead of
// forwarded: the model connection is not yet ready.
func (m *Machine) Buffering() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAwaitingStreamStart || m.state == StateModelConnecting
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateAwaitingStreamStart, StateModelConnecting, StateActive, StateClosing, StateClosed:
		m.mu.Lock()
		m.state = state
		m.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}
