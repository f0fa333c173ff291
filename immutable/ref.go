package immutable

import "sync/atomic"

// Ref holds the current version of a persistent structure. Readers Load a version
// and keep using it while writers install the next one with a compare-and-swap.
type Ref[T any] struct {
	current atomic.Pointer[T]
}

// NewRef creates a reference pointing to initial.
func NewRef[T any](initial T) *Ref[T] {
	r := &Ref[T]{}
	r.current.Store(&initial)
	return r
}

// Load returns the current version, the zero value when nothing was stored yet.
func (r *Ref[T]) Load() T {
	if p := r.current.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Store replaces the current version.
func (r *Ref[T]) Store(v T) {
	r.current.Store(&v)
}

// Swap installs fn(current) and returns it. fn may run several times when other
// writers race, so it must be free of side effects.
func (r *Ref[T]) Swap(fn func(current T) T) T {
	for {
		old := r.current.Load()
		var cur T
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if r.current.CompareAndSwap(old, &next) {
			return next
		}
	}
}
