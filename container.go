package plandi

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/a-peyrard/plandi/option"
	"github.com/rs/zerolog"
)

type (
	// Resolver resolves services, it is implemented by *Container only. A factory
	// receives the Resolver of the scope its resolution started from.
	Resolver interface {
		Resolve(serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (any, error)
		container() *Container
	}

	// containerCore is shared by a container and every scope opened from it.
	containerCore struct {
		rules      *Rules
		logger     *zerolog.Logger
		registry   *registry
		engine     *engine
		singletons *Scope
		disposed   atomic.Bool
	}

	// Container registers and resolves services. The root container owns the
	// singletons, OpenScope returns a container bound to a new scope sharing the
	// registrations of its parent.
	Container struct {
		core   *containerCore
		scope  *Scope
		parent *Container
	}

	singletonScopeName struct{}
)

func (singletonScopeName) String() string { return "singletons" }

// New creates a root container.
func New(opts ...option.Option[Rules]) *Container {
	rules := buildRules(opts...)
	reg := newRegistry(rules)
	core := &containerCore{
		rules:      rules,
		logger:     rules.Logger,
		registry:   reg,
		engine:     newEngine(rules, reg),
		singletons: newScope(singletonScopeName{}, nil, rules.Logger),
	}
	for definition, w := range builtinWrappers() {
		reg.registerWrapper(definition, w)
	}

	c := &Container{core: core}

	// the resolver itself, for factories resolving services dynamically
	c.MustRegister(
		NewDelegateFactory(resolverType, func(r Resolver) (any, error) { return r, nil }, &RegisterOptions{reuse: Transient}),
		AsType(resolverType),
	)
	return c
}

func (c *Container) container() *Container { return c }

// Rules returns the rules the container was created with.
func (c *Container) Rules() *Rules { return c.core.rules }

// Scope returns the scope of the container, nil for the root container.
func (c *Container) Scope() *Scope { return c.scope }

// Parent returns the container the scope was opened from, nil for the root container.
func (c *Container) Parent() *Container { return c.parent }

// ownScope is where the values owned by this container are tracked.
func (c *Container) ownScope() *Scope {
	if c.scope != nil {
		return c.scope
	}
	return c.core.singletons
}

func (c *Container) checkUsable() error {
	if c.core.disposed.Load() {
		return newError(ContainerIsDisposed, nil, "container is disposed")
	}
	if c.scope != nil && c.scope.anyDisposed() {
		return newError(ScopeIsDisposed, nil, "scope %s is disposed", c.scope)
	}
	return nil
}

// IsDisposed reports whether the container, or one of the scopes it belongs to, is disposed.
func (c *Container) IsDisposed() bool {
	return c.checkUsable() != nil
}

// OpenScope opens a child scope. Scoped services are shared within it, and the
// disposable values it creates are disposed with it. The optional name is what
// ScopedTo matches. It must be comparable, OpenScope panics otherwise.
func (c *Container) OpenScope(name ...any) *Container {
	var scopeName any
	if len(name) > 0 {
		scopeName = name[0]
	}
	if scopeName != nil && !reflect.TypeOf(scopeName).Comparable() {
		panic(fmt.Sprintf("scope name of type %T is not comparable", scopeName))
	}
	return &Container{
		core:   c.core,
		scope:  newScope(scopeName, c.ownScope(), c.core.logger),
		parent: c,
	}
}

// Dispose disposes the scope of the container, or the singletons for the root
// container. Values are disposed in the reverse order of their creation, only
// the first call has an effect.
func (c *Container) Dispose() error {
	if c.scope != nil {
		return c.scope.Dispose()
	}
	if !c.core.disposed.CompareAndSwap(false, true) {
		return nil
	}
	c.core.logger.Debug().Msg("disposing container")
	return c.core.singletons.Dispose()
}

// Close is Dispose, for io.Closer.
func (c *Container) Close() error {
	return c.Dispose()
}

// prepare builds the options of a registration, skip is true when one of its
// When conditions does not hold.
func (c *Container) prepare(opts []option.Option[RegisterOptions]) (options *RegisterOptions, skip bool, err error) {
	if err := c.checkUsable(); err != nil {
		return nil, false, err
	}
	options = option.Build(&RegisterOptions{}, opts...)
	for _, cond := range options.conditions {
		if !c.validateCondition(cond) {
			c.core.logger.Debug().
				Str("condition", cond.namedStringComponent).
				Msg("registration skipped, condition not met")
			return options, true, nil
		}
	}
	return options, false, nil
}

// Register registers a constructor function, a Factory, or a nil struct pointer
// standing for field injection into a new struct of its type.
//
// A constructor returns the service, optionally followed by an error. The service
// is registered under its return type unless As or AsType give other types.
func (c *Container) Register(reg any, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f, err := newFactory(reg, options, ServiceFactory)
	if err != nil {
		return wrapError(InvalidRegistration, nil, err, "unable to register %T", reg)
	}
	return c.registerFactory(f, options)
}

func (c *Container) registerFactory(f Factory, options *RegisterOptions) error {
	serviceTypes := options.serviceTypes
	if len(serviceTypes) == 0 {
		impl := f.ImplementationType()
		if impl == nil {
			return newError(InvalidRegistration, nil, "factory %T has no implementation type, register it with As", f)
		}
		serviceTypes = []reflect.Type{impl}
	}
	policy := options.policy(c.core.rules)
	for _, t := range serviceTypes {
		if _, err := c.core.registry.register(f, t, options.key, policy); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register panicking on error.
func (c *Container) MustRegister(reg any, opts ...option.Option[RegisterOptions]) *Container {
	if err := c.Register(reg, opts...); err != nil {
		panic(fmt.Sprintf("failed to register %T:\n\t%v", reg, err))
	}
	return c
}

// RegisterMany registers each registration in order, stopping at the first failure.
func (c *Container) RegisterMany(regs ...Registration) error {
	for _, reg := range regs {
		register := c.Register
		if reg.Kind == DecoratorFactory {
			register = c.RegisterDecorator
		}
		if err := register(reg.Registrable, reg.Options...); err != nil {
			return fmt.Errorf("failed to register %T:\n\t%w", reg.Registrable, err)
		}
	}
	return nil
}

// RegisterInstance registers an existing value as T. It is reused as a singleton
// unless another reuse is given, and disposed with the container.
func RegisterInstance[T any](c *Container, instance T, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f, err := NewInstanceFactory(instance, options)
	if err != nil {
		return wrapError(InvalidRegistration, nil, err, "unable to register instance of %s", TypeOf[T]())
	}
	return c.registerFactory(f, withDefaultServiceType[T](options))
}

// RegisterDelegate registers a function called with the resolver on each creation of T.
func RegisterDelegate[T any](c *Container, delegate func(Resolver) (T, error), opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f := NewDelegateFactory(TypeOf[T](), func(r Resolver) (any, error) {
		return delegate(r)
	}, options)
	return c.registerFactory(f, withDefaultServiceType[T](options))
}

// RegisterType registers the struct pointer type T, created with new and filled
// through its inject tagged fields.
func RegisterType[T any](c *Container, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f, err := NewStructFactory(TypeOf[T](), options)
	if err != nil {
		return wrapError(InvalidRegistration, nil, err, "unable to register %s", TypeOf[T]())
	}
	return c.registerFactory(f, withDefaultServiceType[T](options))
}

func withDefaultServiceType[T any](options *RegisterOptions) *RegisterOptions {
	if len(options.serviceTypes) == 0 {
		options.serviceTypes = []reflect.Type{TypeOf[T]()}
	}
	return options
}

// RegisterDecorator registers a decorator, either a function taking the decorated
// service and returning it decorated, or a constructor returning a func(T) T.
// Decorators apply in ascending Order, then in registration order: the first one
// wraps the service, the next one wraps the first one.
func (c *Container) RegisterDecorator(reg any, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f, err := newFactory(reg, options, DecoratorFactory)
	if err != nil {
		return wrapError(InvalidRegistration, nil, err, "unable to register decorator %T", reg)
	}
	serviceTypes := options.serviceTypes
	if len(serviceTypes) == 0 {
		impl := f.ImplementationType()
		if impl == nil {
			return newError(InvalidRegistration, nil, "decorator %T has no implementation type, register it with As", f)
		}
		serviceTypes = []reflect.Type{decoratedType(impl)}
	}
	for _, t := range serviceTypes {
		if _, err := c.core.registry.registerDecorator(f, t); err != nil {
			return err
		}
	}
	return nil
}

// decoratedType returns T for a func(T) T, impl otherwise.
func decoratedType(impl reflect.Type) reflect.Type {
	if impl.Kind() == reflect.Func && impl.NumIn() == 1 && impl.NumOut() == 1 && impl.In(0) == impl.Out(0) && !impl.IsVariadic() {
		return impl.In(0)
	}
	return impl
}

// RegisterOpenGeneric registers every instantiation of a generic service type.
// Go cannot instantiate generic code at runtime, so specialize returns the
// registrable serving a given instantiation, see Instantiations.
func (c *Container) RegisterOpenGeneric(definition GenericDefinition, specialize Specializer, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f := newOpenGenericFactory(definition, specialize, options, ServiceFactory)
	_, err = c.core.registry.registerOpenGeneric(f, options.key, options.policy(c.core.rules))
	return err
}

// RegisterOpenGenericDecorator registers a decorator of every instantiation of a generic service type.
func (c *Container) RegisterOpenGenericDecorator(definition GenericDefinition, specialize Specializer, opts ...option.Option[RegisterOptions]) error {
	options, skip, err := c.prepare(opts)
	if err != nil || skip {
		return err
	}
	f := newOpenGenericFactory(definition, specialize, options, DecoratorFactory)
	_, err = c.core.registry.registerOpenGeneric(f, nil, AppendNotKeyed)
	return err
}

// IsRegistered reports whether serviceType is registered under key, nil for a default registration.
func (c *Container) IsRegistered(serviceType reflect.Type, key any) bool {
	return c.core.registry.isRegistered(serviceType, key)
}

// GetKeys lists the keys of the registrations of serviceType: DefaultKey indices
// first, then the other keys in registration order.
func (c *Container) GetKeys(serviceType reflect.Type) []any {
	return c.core.registry.getKeys(serviceType, nil)
}

// Unregister removes the registration of serviceType under key, every registration
// of serviceType when key is nil. Values already created are kept by their scopes.
func (c *Container) Unregister(serviceType reflect.Type, key any) bool {
	return c.core.registry.unregister(serviceType, key)
}
