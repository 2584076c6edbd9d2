// Package pool arbitrates access to the shared recognizers.
//
// Each Allocator wraps one shared Transcriber and a fixed number of seats.
// A Set orders allocators by priority (for example gpu before cpu) and hands
// out Leases. Admission is polling based: there is no queue and no ordering
// guarantee between sessions waiting for a seat.
package pool

import (
	"errors"
	"sync"

	"realtime-stt-gateway/internal/service/stt"
)

// ErrNoPools is returned when a Set is built without any allocator.
var ErrNoPools = errors.New("no transcription pools configured")

// Observer is notified after every seat change.
type Observer func(pool string, available, capacity int)

// Allocator is a seat counter in front of one shared Transcriber.
type Allocator struct {
	name        string
	transcriber stt.Transcriber

	mu        sync.Mutex
	capacity  int
	available int
	observers []Observer
}

// NewAllocator returns an allocator with all seats free.
func NewAllocator(name string, t stt.Transcriber, capacity int) *Allocator {
	if capacity < 0 {
		capacity = 0
	}
	return &Allocator{
		name:        name,
		transcriber: t,
		capacity:    capacity,
		available:   capacity,
	}
}

// Name returns the pool name.
func (a *Allocator) Name() string { return a.name }

// Provider returns the name of the wrapped transcriber.
func (a *Allocator) Provider() string { return a.transcriber.Name() }

// Capacity returns the configured seat count.
func (a *Allocator) Capacity() int { return a.capacity }

// Available returns the number of free seats.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.available
}

// TryAcquire takes a seat without blocking. It returns the shared
// transcriber and true on success.
func (a *Allocator) TryAcquire() (stt.Transcriber, bool) {
	a.mu.Lock()
	if a.available <= 0 {
		a.mu.Unlock()
		return nil, false
	}
	a.available--
	available := a.available
	observers := a.observers
	a.mu.Unlock()

	a.notify(observers, available)
	return a.transcriber, true
}

// Release returns a seat. Extra releases are absorbed at capacity.
func (a *Allocator) Release() {
	a.mu.Lock()
	if a.available < a.capacity {
		a.available++
	}
	available := a.available
	observers := a.observers
	a.mu.Unlock()

	a.notify(observers, available)
}

func (a *Allocator) observe(o Observer) {
	a.mu.Lock()
	a.observers = append(a.observers, o)
	available := a.available
	a.mu.Unlock()
	o(a.name, available, a.capacity)
}

func (a *Allocator) notify(observers []Observer, available int) {
	for _, o := range observers {
		o(a.name, available, a.capacity)
	}
}
