package plandi

import (
	"errors"
	"iter"
	"reflect"
	"sync"
)

type (
	// Lazy defers the resolution of T to the first call of Value. The value is
	// resolved once, in its own resolution, so a Lazy may close a dependency cycle.
	Lazy[T any] struct {
		cell *lazyCell[T]
	}

	lazyCell[T any] struct {
		once    sync.Once
		resolve func() (reflect.Value, error)
		value   T
		err     error
	}

	// Meta pairs a service with the metadata of its registration, see Metadata.
	Meta[T any, M any] struct {
		Value    T
		Metadata M
	}

	// KeyValue pairs a service with the key it is registered under.
	KeyValue[K any, T any] struct {
		Key   K
		Value T
	}

	// Many enumerates the registrations of T lazily, each one is resolved when reached.
	Many[T any] struct {
		container *Container
	}

	// wrapper types are recognized through these methods, called on zero values
	wrapperType interface {
		wrappedType() reflect.Type
	}

	lazyWrapper interface {
		wrapperType
		newLazy(resolve func() (reflect.Value, error)) any
	}

	metaWrapper interface {
		wrapperType
		metadataType() reflect.Type
	}

	keyValueWrapper interface {
		wrapperType
		keyType() reflect.Type
	}

	manyWrapper interface {
		wrapperType
		newMany(c *Container) any
	}
)

var errLazyNotResolvable = errors.New("lazy value was not created by a container")

// Value resolves the service on first call and returns the same result afterwards.
func (l Lazy[T]) Value() (T, error) {
	c := l.cell
	if c == nil {
		var zero T
		return zero, errLazyNotResolvable
	}
	c.once.Do(func() {
		v, err := c.resolve()
		if err != nil {
			c.err = err
			return
		}
		c.value = valueAs[T](v)
	})
	return c.value, c.err
}

// MustValue is Value panicking on error.
func (l Lazy[T]) MustValue() T {
	v, err := l.Value()
	if err != nil {
		panic(err)
	}
	return v
}

func (Lazy[T]) wrappedType() reflect.Type { return TypeOf[T]() }

func (Lazy[T]) newLazy(resolve func() (reflect.Value, error)) any {
	return Lazy[T]{cell: &lazyCell[T]{resolve: resolve}}
}

func (Meta[T, M]) wrappedType() reflect.Type  { return TypeOf[T]() }
func (Meta[T, M]) metadataType() reflect.Type { return TypeOf[M]() }

func (KeyValue[K, T]) wrappedType() reflect.Type { return TypeOf[T]() }
func (KeyValue[K, T]) keyType() reflect.Type     { return TypeOf[K]() }

// All yields every registration of T, see ResolveMany.
func (m Many[T]) All() iter.Seq2[T, error] {
	if m.container == nil {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, errLazyNotResolvable)
		}
	}
	return ResolveMany[T](m.container)
}

func (Many[T]) wrappedType() reflect.Type { return TypeOf[T]() }

func (Many[T]) newMany(c *Container) any {
	return Many[T]{container: c}
}

func valueAs[T any](v reflect.Value) T {
	var out T
	if v.IsValid() {
		reflect.ValueOf(&out).Elem().Set(assignable(v, TypeOf[T]()))
	}
	return out
}

func wrapperOf[W any](t reflect.Type) (W, bool) {
	w, ok := reflect.Zero(t).Interface().(W)
	return w, ok
}

// unwrapped strips the wrappers around t: Lazy[Meta[T, M]] gives T.
func unwrapped(t reflect.Type) reflect.Type {
	for {
		if w, ok := wrapperOf[wrapperType](t); ok {
			t = w.wrappedType()
			continue
		}
		if t.Kind() == reflect.Func && t.Name() == "" && isFuncWrapper(t) {
			t = t.Out(0)
			continue
		}
		return t
	}
}

func isFuncWrapper(t reflect.Type) bool {
	switch {
	case t.IsVariadic():
		return false
	case t.NumOut() == 1:
		return true
	case t.NumOut() == 2:
		return t.Out(1) == errorType
	default:
		return false
	}
}

// unresolvedWrapper returns a default plan, or the error when req must be resolved.
func unresolvedWrapper(req *Request, format string, args ...any) (Plan, error) {
	if req.ifUnresolved != Throw {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	return nil, newError(UnableToResolveUnknownService, req, format, args...)
}

func buildLazy(req *Request, b PlanBuilder) (Plan, error) {
	w, ok := wrapperOf[lazyWrapper](req.serviceType)
	if !ok {
		return unresolvedWrapper(req, "%s is not a lazy wrapper", req.serviceType)
	}
	inner := req.PushWrapped(w.wrappedType(), true)
	f, err := b.FactoryFor(inner)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	return &LazyPlan{
		Typ:          req.serviceType,
		ServiceType:  inner.serviceType,
		Key:          req.key,
		IfUnresolved: req.ifUnresolved,
	}, nil
}

// buildFunc serves func(A1, ... An) T and func(A1, ... An) (T, error). The
// arguments are used in place of dependencies of the same type.
func buildFunc(req *Request, b PlanBuilder) (Plan, error) {
	t := req.serviceType
	if !isFuncWrapper(t) {
		return unresolvedWrapper(req, "%s is neither func(...) T nor func(...) (T, error)", t)
	}
	args := make([]reflect.Type, t.NumIn())
	for i := range args {
		args[i] = t.In(i)
	}
	body, err := b.Build(req.PushWrapped(t.Out(0), true, args...))
	if err != nil {
		return nil, err
	}
	if _, unresolved := body.(*DefaultPlan); unresolved {
		return &DefaultPlan{Typ: t}, nil
	}
	return &FuncPlan{Typ: t, Body: body, ReturnsError: t.NumOut() == 2}, nil
}

// buildCollection serves []T with every registration of T, in registration
// order. Items not applicable to the request are skipped.
func buildCollection(req *Request, b PlanBuilder) (Plan, error) {
	elem := req.serviceType.Elem()
	keys := b.Keys(unwrapped(elem))
	items := make([]Plan, 0, len(keys))
	for i, key := range keys {
		item, err := b.Build(req.pushItem(elem, key, i))
		if err != nil {
			return nil, err
		}
		if _, unresolved := item.(*DefaultPlan); unresolved {
			continue
		}
		items = append(items, item)
	}
	return &CollectionPlan{Typ: req.serviceType, Items: items}, nil
}

func buildMeta(req *Request, b PlanBuilder) (Plan, error) {
	w, ok := wrapperOf[metaWrapper](req.serviceType)
	if !ok {
		return unresolvedWrapper(req, "%s is not a metadata wrapper", req.serviceType)
	}
	inner := req.PushWrapped(w.wrappedType(), false)
	f, err := b.FactoryFor(inner)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	metadataType := w.metadataType()
	metadata := reflect.ValueOf(f.Setup().Metadata)
	if !metadata.IsValid() || !metadata.Type().AssignableTo(metadataType) {
		return unresolvedWrapper(req, "metadata %v of factory #%d is not a %s", f.Setup().Metadata, f.ID(), metadataType)
	}

	value, err := b.Build(inner)
	if err != nil {
		return nil, err
	}
	if _, unresolved := value.(*DefaultPlan); unresolved {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	return pairPlan(req.serviceType, "meta", value, 1, metadata), nil
}

func buildKeyValue(req *Request, b PlanBuilder) (Plan, error) {
	w, ok := wrapperOf[keyValueWrapper](req.serviceType)
	if !ok {
		return unresolvedWrapper(req, "%s is not a key value wrapper", req.serviceType)
	}
	key := reflect.Zero(w.keyType())
	if req.key != nil {
		key = reflect.ValueOf(req.key)
		if !key.Type().AssignableTo(w.keyType()) {
			return unresolvedWrapper(req, "key %s is not a %s", describeKey(req.key), w.keyType())
		}
	}

	value, err := b.Build(req.PushWrapped(w.wrappedType(), false))
	if err != nil {
		return nil, err
	}
	if _, unresolved := value.(*DefaultPlan); unresolved {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	return pairPlan(req.serviceType, "keyed", value, 0, key), nil
}

// pairPlan builds a two fields struct of type t: the constant goes to field
// constIndex, the resolved value to the other one.
func pairPlan(t reflect.Type, label string, value Plan, constIndex int, constant reflect.Value) Plan {
	valueIndex := 1 - constIndex
	return &ConvertPlan{
		Typ:   t,
		Inner: value,
		Label: label,
		Convert: func(v reflect.Value) reflect.Value {
			out := reflect.New(t).Elem()
			valueField := out.Field(valueIndex)
			valueField.Set(assignable(v, valueField.Type()))
			constField := out.Field(constIndex)
			constField.Set(assignable(constant, constField.Type()))
			return out
		},
	}
}

func buildMany(req *Request, b PlanBuilder) (Plan, error) {
	w, ok := wrapperOf[manyWrapper](req.serviceType)
	if !ok {
		return unresolvedWrapper(req, "%s is not a many wrapper", req.serviceType)
	}
	return &ManyPlan{Typ: req.serviceType, ServiceType: w.wrappedType()}, nil
}

// builtinWrappers are registered in every container.
func builtinWrappers() map[GenericDefinition]*wrapperFactory {
	wrappers := make(map[GenericDefinition]*wrapperFactory)
	add := func(definition GenericDefinition, build WrapperFunc, policy CachePolicy) {
		wrappers[definition] = newWrapperFactory(definition, build, policy)
	}
	add(GenericDefinitionOf[Lazy[any]](), buildLazy, CacheAll)
	add(funcDefinition, buildFunc, CacheAll)
	add(sliceDefinition, buildCollection, NoCache)
	add(GenericDefinitionOf[Meta[any, any]](), buildMeta, CacheAll)
	add(GenericDefinitionOf[KeyValue[any, any]](), buildKeyValue, CacheAll)
	add(GenericDefinitionOf[Many[any]](), buildMany, CacheAll)
	return wrappers
}

// RegisterWrapper serves every type of the given generic definition with build.
// It replaces the wrapper already registered for the definition, built-in ones included.
func (c *Container) RegisterWrapper(definition GenericDefinition, build WrapperFunc, policy CachePolicy) error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	if build == nil {
		return newError(InvalidRegistration, nil, "wrapper of %s has no build function", definition)
	}
	c.core.registry.registerWrapper(definition, newWrapperFactory(definition, build, policy))
	c.core.registry.invalidate()
	return nil
}
