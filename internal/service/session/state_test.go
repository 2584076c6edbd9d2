package session

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateAwaitingWorker {
		t.Errorf("expected StateAwaitingWorker, got %v", lc.State())
	}
	if lc.IsClosed() {
		t.Error("expected IsClosed to be false")
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr error
	}{
		{"normal", []State{StateStreaming, StateClosing, StateClosed}, nil},
		{"closed while waiting", []State{StateClosing, StateClosed}, nil},
		{"skip closing", []State{StateStreaming, StateClosed}, ErrInvalidTransition},
		{"back to waiting", []State{StateStreaming, StateAwaitingWorker}, ErrInvalidTransition},
		{"stream twice", []State{StateStreaming, StateStreaming}, ErrInvalidTransition},
		{"after closed", []State{StateClosing, StateClosed, StateStreaming}, ErrSessionClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			var err error
			for _, s := range tt.path {
				if err = lc.Transition(s); err != nil {
					break
				}
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLifecycle_Close(t *testing.T) {
	lc := NewLifecycle()
	if err := lc.Transition(StateStreaming); err != nil {
		t.Fatal(err)
	}

	if !lc.Close() {
		t.Error("first Close should report a change")
	}
	if lc.Close() {
		t.Error("second Close should be a no-op")
	}
	if lc.State() != StateClosed || !lc.IsClosed() {
		t.Errorf("expected CLOSED, got %v", lc.State())
	}
}

func TestLifecycle_ConcurrentClose(t *testing.T) {
	lc := NewLifecycle()

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Close() {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Errorf("expected exactly one effective Close, got %d", changed)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateAwaitingWorker, "AWAITING_WORKER"},
		{StateStreaming, "STREAMING"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
