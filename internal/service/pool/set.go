package pool

import (
	"errors"
	"sync"

	"realtime-stt-gateway/internal/service/stt"
)

// Set is a priority-ordered list of allocators.
type Set struct {
	allocators []*Allocator
}

// NewSet builds a set; allocators are tried in the order given.
func NewSet(allocators ...*Allocator) (*Set, error) {
	if len(allocators) == 0 {
		return nil, ErrNoPools
	}
	return &Set{allocators: allocators}, nil
}

// Observe registers o on every allocator and reports the current state.
func (s *Set) Observe(o Observer) {
	for _, a := range s.allocators {
		a.observe(o)
	}
}

// Allocators returns the allocators in priority order.
func (s *Set) Allocators() []*Allocator {
	return append([]*Allocator(nil), s.allocators...)
}

// TryAcquire leases a seat from the first allocator that has one free.
func (s *Set) TryAcquire() (*Lease, bool) {
	if s == nil {
		return nil, false
	}
	for _, a := range s.allocators {
		if t, ok := a.TryAcquire(); ok {
			return &Lease{allocator: a, transcriber: t}, true
		}
	}
	return nil, false
}

// Close closes every wrapped transcriber.
func (s *Set) Close() error {
	var errs []error
	for _, a := range s.allocators {
		if err := a.transcriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of one allocator.
type Status struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
}

// Status reports every allocator in priority order.
func (s *Set) Status() []Status {
	out := make([]Status, 0, len(s.allocators))
	for _, a := range s.allocators {
		out = append(out, Status{
			Name:      a.Name(),
			Provider:  a.Provider(),
			Capacity:  a.Capacity(),
			Available: a.Available(),
		})
	}
	return out
}

// Lease is one held seat. Release is idempotent so it can sit on every exit
// path of a session.
type Lease struct {
	allocator   *Allocator
	transcriber stt.Transcriber
	once        sync.Once
}

// Pool returns the name of the pool the seat belongs to.
func (l *Lease) Pool() string { return l.allocator.Name() }

// Transcriber returns the leased recognizer.
func (l *Lease) Transcriber() stt.Transcriber { return l.transcriber }

// Release returns the seat exactly once.
func (l *Lease) Release() {
	l.once.Do(l.allocator.Release)
}
