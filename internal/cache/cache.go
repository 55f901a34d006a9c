package cache

import "sync/atomic"

// Snapshot is a lock-free, read-optimized container holding an immutable
// value that is swapped wholesale on config reload.
type Snapshot[T any] struct{ v atomic.Pointer[T] }

func NewSnapshot[T any](v T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.Store(v)
	return s
}

// Load returns the stored value and whether one was stored.
func (s *Snapshot[T]) Load() (T, bool) {
	p := s.v.Load()
	if p == nil {
		var z T
		return z, false
	}
	return *p, true
}

// Store atomically swaps in the new value.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(&v)
}
