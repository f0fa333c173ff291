package plandi

import (
	"fmt"
	"iter"
	"reflect"
)

// Resolve resolves serviceType under key, nil for the default registration.
// The result is nil when the service resolves to nothing under ifUnresolved.
func (c *Container) Resolve(serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (any, error) {
	v, err := c.resolve(serviceType, key, ifUnresolved)
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return v.Interface(), nil
}

func (c *Container) resolve(serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (reflect.Value, error) {
	v, _, err := c.tryResolve(serviceType, key, ifUnresolved)
	return v, err
}

// tryResolve resolves serviceType, found is false when it resolved to its zero value
// because nothing could serve it.
func (c *Container) tryResolve(serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (reflect.Value, bool, error) {
	return c.tryResolveIn(nil, serviceType, key, ifUnresolved)
}

// tryResolveIn is tryResolve while the scoped values of creating are being built,
// needing one of them again fails with RecursiveDependencyDetected.
func (c *Container) tryResolveIn(creating *creation, serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (reflect.Value, bool, error) {
	if err := c.checkUsable(); err != nil {
		return reflect.Value{}, false, err
	}
	if err := validateKey(key); err != nil {
		return reflect.Value{}, false, err
	}

	callable, found, err := c.core.engine.callable(c, creating, serviceType, key, ifUnresolved)
	if err != nil {
		return reflect.Value{}, false, err
	}
	ctx := newResolveContext(c)
	ctx.creating = creating
	v, err := callable(ctx)
	if err != nil {
		return reflect.Value{}, false, attachRequest(err, newRootRequest(serviceType, key, ifUnresolved, nil))
	}
	return v, found, nil
}

func resolveAs[T any](r Resolver, key any, ifUnresolved IfUnresolved) (T, bool, error) {
	var zero T
	if r == nil {
		return zero, false, fmt.Errorf("no resolver to resolve %s", TypeOf[T]())
	}
	v, found, err := r.container().tryResolve(TypeOf[T](), key, ifUnresolved)
	if err != nil || !found {
		return zero, false, err
	}
	return valueAs[T](v), true, nil
}

// Resolve resolves the default registration of T.
func Resolve[T any](r Resolver) (T, error) {
	v, _, err := resolveAs[T](r, nil, Throw)
	return v, err
}

// ResolveKeyed resolves the registration of T under key.
func ResolveKeyed[T any](r Resolver, key any) (T, error) {
	v, _, err := resolveAs[T](r, key, Throw)
	return v, err
}

// ResolveNamed resolves the registration of T under the string key name.
func ResolveNamed[T any](r Resolver, name string) (T, error) {
	return ResolveKeyed[T](r, name)
}

// MustResolve is Resolve panicking on error.
func MustResolve[T any](r Resolver) T {
	v, err := Resolve[T](r)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s:\n\t%v", TypeOf[T](), err))
	}
	return v
}

// TryResolve resolves T when it is registered.
//
// It returns the resolved value, a boolean indicating if it was found, and an error
// if a registered T failed to resolve.
func TryResolve[T any](r Resolver) (value T, found bool, err error) {
	return resolveAs[T](r, nil, ReturnDefaultIfNotRegistered)
}

// TryResolveKeyed is TryResolve for the registration of T under key.
func TryResolveKeyed[T any](r Resolver, key any) (value T, found bool, err error) {
	return resolveAs[T](r, key, ReturnDefaultIfNotRegistered)
}

// ResolveMany yields every registration of T in registration order, resolving
// each one when reached. Wrapped types are enumerated by the service they wrap,
// ResolveMany[Lazy[S]] yields one Lazy per registration of S.
func ResolveMany[T any](r Resolver) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if r == nil {
			yield(zero, fmt.Errorf("no resolver to resolve %s", TypeOf[T]()))
			return
		}
		c := r.container()
		t := TypeOf[T]()
		for _, key := range c.core.registry.getKeys(unwrapped(t), nil) {
			v, found, err := c.tryResolve(t, key, ReturnDefaultIfNotRegistered)
			if err != nil {
				if !yield(zero, err) {
					return
				}
				continue
			}
			if !found {
				continue
			}
			if !yield(valueAs[T](v), nil) {
				return
			}
		}
	}
}

// ResolveAll resolves every registration of T, failing on the first failure.
func ResolveAll[T any](r Resolver) ([]T, error) {
	var all []T
	for v, err := range ResolveMany[T](r) {
		if err != nil {
			return nil, err
		}
		all = append(all, v)
	}
	return all, nil
}
