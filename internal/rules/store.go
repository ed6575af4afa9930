package rules

import (
	"sync"
	"sync/atomic"
)

// ChangeFunc is called after a new catalog snapshot became current.
type ChangeFunc func(previous, current *Catalog)

// Store holds the current catalog snapshot. Readers always see a complete
// snapshot; a swap replaces it atomically.
type Store struct {
	current atomic.Pointer[Catalog]

	mu        sync.Mutex
	listeners []ChangeFunc
}

// NewStore creates a store serving initial.
func NewStore(initial *Catalog) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the snapshot in effect.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Swap installs next and notifies listeners when the version changed.
func (s *Store) Swap(next *Catalog) *Catalog {
	prev := s.current.Swap(next)
	if prev != nil && next != nil && prev.Version() == next.Version() {
		return prev
	}

	s.mu.Lock()
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
	return prev
}

// OnChange registers fn to run after every version change.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
