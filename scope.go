package plandi

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/a-peyrard/plandi/immutable"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scope holds the values of reused services, keyed by ScopeKey.
//
// Reads go through an immutable snapshot, creations are serialized per key. Values are disposed in reverse completion order: a consumer completes after
// its dependencies so it is disposed before them.
type Scope struct {
	id     uuid.UUID
	name   any
	parent *Scope
	logger *zerolog.Logger

	items immutable.Ref[immutable.HashMap[ScopeKey, reflect.Value]]
	locks *lockManager

	mu       sync.Mutex
	created  []reflect.Value
	disposed atomic.Bool
}

func newScope(name any, parent *Scope, logger *zerolog.Logger) *Scope {
	s := &Scope{
		id:     uuid.New(),
		name:   name,
		parent: parent,
		logger: logger,
		locks:  newLockManager(),
	}
	logger.Debug().
		Stringer("scope", s.id).
		Str("name", fmt.Sprint(name)).
		Msg("scope opened")
	return s
}

func (s *Scope) ID() uuid.UUID { return s.id }

// Name returns the name given to OpenScope, nil for anonymous scopes.
func (s *Scope) Name() any { return s.name }

func (s *Scope) Parent() *Scope { return s.parent }

func (s *Scope) IsDisposed() bool { return s.disposed.Load() }

// Len returns the number of values held by the scope.
func (s *Scope) Len() int { return s.items.Load().Len() }

func (s *Scope) String() string {
	if s.name == nil {
		return s.id.String()
	}
	return fmt.Sprintf("%v (%s)", s.name, s.id)
}

// GetOrAdd returns the value stored under key, calling create when there is none yet.
func (s *Scope) GetOrAdd(key ScopeKey, create func() (reflect.Value, error)) (reflect.Value, error) {
	if s.disposed.Load() {
		return reflect.Value{}, newError(ScopeIsDisposed, nil, "scope %s", s)
	}
	if v, found := s.items.Load().Get(key); found {
		return v, nil
	}

	lock := s.locks.getLockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if v, found := s.items.Load().Get(key); found {
		return v, nil
	}

	v, err := create()
	if err != nil {
		return reflect.Value{}, err
	}

	s.mu.Lock()
	if s.disposed.Load() {
		s.mu.Unlock()
		return reflect.Value{}, newError(ScopeIsDisposed, nil, "scope %s was disposed while creating #%d", s, key.FactoryID)
	}
	s.items.Swap(func(items immutable.HashMap[ScopeKey, reflect.Value]) immutable.HashMap[ScopeKey, reflect.Value] {
		return items.AddOrKeep(key, v)
	})
	s.created = append(s.created, v)
	s.mu.Unlock()

	// the value is visible now, later callers never reach the lock
	s.locks.releaseLock(key)
	return v, nil
}

// Track hands a value to the scope for disposal, values that are neither
// Disposable nor io.Closer are ignored.
func (s *Scope) Track(v reflect.Value) error {
	if !v.IsValid() || !isDisposable(v.Type()) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed.Load() {
		return newError(ScopeIsDisposed, nil, "cannot track %s in scope %s", v.Type(), s)
	}
	s.created = append(s.created, v)
	return nil
}

// Dispose disposes the values of the scope, only the first call has an effect.
func (s *Scope) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	created := s.created
	s.created = nil
	s.mu.Unlock()

	var errs []error
	for _, v := range slices.Backward(created) {
		if err := disposeValue(v); err != nil {
			s.logger.Warn().
				Err(err).
				Stringer("scope", s.id).
				Str("type", v.Type().String()).
				Msg("failed to dispose value")
			errs = append(errs, fmt.Errorf("failed to dispose %s:\n\t%w", v.Type(), err))
		}
	}
	s.items.Store(immutable.HashMap[ScopeKey, reflect.Value]{})

	s.logger.Debug().
		Stringer("scope", s.id).
		Int("disposed", len(created)).
		Msg("scope disposed")
	return errors.Join(errs...)
}

func disposeValue(v reflect.Value) error {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil
	}
	switch d := v.Interface().(type) {
	case Disposable:
		return d.Dispose()
	case io.Closer:
		return d.Close()
	}
	return nil
}

// find returns the closest scope, s included, named after one of names.
func (s *Scope) find(names []any) *Scope {
	for current := s; current != nil; current = current.parent {
		for _, name := range names {
			if current.name == name {
				return current
			}
		}
	}
	return nil
}

func (s *Scope) anyDisposed() bool {
	for current := s; current != nil; current = current.parent {
		if current.disposed.Load() {
			return true
		}
	}
	return false
}
