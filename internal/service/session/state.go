package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a stream session.
type State int

const (
	// StateAwaitingWorker - Connection accepted, polling the pools for a seat.
	StateAwaitingWorker State = iota
	// StateStreaming - Seat leased, audio is transcribed as it arrives.
	StateStreaming
	// StateClosing - Connection is being closed and the seat returned.
	StateClosing
	// StateClosed - Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingWorker:
		return "AWAITING_WORKER"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is CLOSED.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	AWAITING_WORKER → STREAMING → CLOSING → CLOSED
//	       │                         ▲
//	       └─────────────────────────┘
//
// Rules:
//   - AWAITING_WORKER: may start streaming once a seat is leased, or close
//     (disconnect, end-of-stream while waiting)
//   - STREAMING: may only close
//   - CLOSING: may only finish closing
//   - CLOSED: every transition returns ErrSessionClosed
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new lifecycle in AWAITING_WORKER state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateAwaitingWorker}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true once the session reached CLOSED.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Transition moves the lifecycle to next if the move is allowed.
func (l *Lifecycle) Transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return ErrSessionClosed
	}
	if !allowed(l.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}
	l.state = next
	return nil
}

// Close drives the lifecycle through CLOSING to CLOSED from any live state.
// Returns false if it was already closed.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}

func allowed(from, to State) bool {
	switch from {
	case StateAwaitingWorker:
		return to == StateStreaming || to == StateClosing
	case StateStreaming:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	default:
		return false
	}
}
