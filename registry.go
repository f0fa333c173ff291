package plandi

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/a-peyrard/plandi/immutable"
	"github.com/a-peyrard/plandi/option"
	"github.com/rs/zerolog"
)

// DefaultKey addresses the i-th unkeyed registration of a service type.
type DefaultKey int

func (k DefaultKey) String() string {
	return fmt.Sprintf("DefaultKey(%d)", int(k))
}

// factoriesEntry holds the registrations of one service type (or generic definition).
type factoriesEntry struct {
	lastDefault Factory
	defaults    immutable.Tree[Factory]
	nextIndex   int
	named       immutable.HashMap[any, Factory]
}

func (e factoriesEntry) isEmpty() bool {
	return e.defaults.IsEmpty() && e.named.IsEmpty()
}

func (e factoriesEntry) get(key any) (Factory, bool) {
	if dk, isDefault := key.(DefaultKey); isDefault {
		return e.defaults.Get(int(dk))
	}
	return e.named.Get(key)
}

// keys returns the default indices, then the named keys in registration order.
func (e factoriesEntry) keys() []any {
	keys := make([]any, 0, e.defaults.Len()+e.named.Len())
	for i := range e.defaults.All() {
		keys = append(keys, DefaultKey(i))
	}
	type namedFactory struct {
		key any
		id  int
	}
	named := make([]namedFactory, 0, e.named.Len())
	for k, f := range e.named.All() {
		named = append(named, namedFactory{key: k, id: f.ID()})
	}
	sort.Slice(named, func(i, j int) bool { return named[i].id < named[j].id })
	for _, n := range named {
		keys = append(keys, n.key)
	}
	return keys
}

func (e factoriesEntry) withLastDefault() factoriesEntry {
	e.lastDefault = nil
	for _, f := range e.defaults.All() {
		e.lastDefault = f
	}
	return e
}

// add stores f under key according to policy. It returns the updated entry, the
// factory now serving the key (f, or the existing one when kept) and whether an
// existing registration was replaced.
func (e factoriesEntry) add(f Factory, key any, policy IfAlreadyRegistered) (factoriesEntry, Factory, bool, error) {
	switch k := key.(type) {
	case nil:
		if !e.defaults.IsEmpty() {
			switch policy {
			case ThrowIfAlreadyRegistered:
				return e, nil, false, fmt.Errorf("a default registration already exists")
			case KeepExisting:
				return e, e.lastDefault, false, nil
			case ReplaceExisting:
				e.defaults = immutable.Tree[Factory]{}.AddOrUpdate(0, f, nil)
				e.nextIndex = 1
				e.lastDefault = f
				return e, f, true, nil
			case AppendNewImplementation:
				for _, existing := range e.defaults.All() {
					if existing.ImplementationType() == f.ImplementationType() {
						return e, existing, false, nil
					}
				}
			}
		}
		e.defaults = e.defaults.AddOrUpdate(e.nextIndex, f, nil)
		e.nextIndex++
		e.lastDefault = f
		return e, f, false, nil

	case DefaultKey:
		existing, exists := e.defaults.Get(int(k))
		if exists {
			switch policy {
			case KeepExisting:
				return e, existing, false, nil
			case ThrowIfAlreadyRegistered:
				return e, nil, false, fmt.Errorf("default #%d already registered", int(k))
			}
		}
		e.defaults = e.defaults.AddOrUpdate(int(k), f, nil)
		e.nextIndex = max(e.nextIndex, int(k)+1)
		return e.withLastDefault(), f, exists, nil

	default:
		existing, exists := e.named.Get(key)
		if exists {
			switch policy {
			case KeepExisting:
				return e, existing, false, nil
			case ReplaceExisting:
			default:
				return e, nil, false, fmt.Errorf("key %s already registered", describeKey(key))
			}
		}
		e.named = e.named.AddOrUpdate(key, f, nil)
		return e, f, exists, nil
	}
}

type registration struct {
	serviceType reflect.Type
	key         any
	factory     Factory
}

// registry stores the factories. Writers are serialized by mu and publish new
// immutable snapshots, readers never lock.
type registry struct {
	mu          sync.Mutex
	ids         atomic.Int64
	generation  atomic.Uint64
	conditional atomic.Int32
	rules       *Rules
	logger      *zerolog.Logger

	services          immutable.Ref[immutable.HashMap[reflect.Type, factoriesEntry]]
	openGenerics      immutable.Ref[immutable.HashMap[GenericDefinition, factoriesEntry]]
	decorators        immutable.Ref[immutable.HashMap[reflect.Type, []Factory]]
	genericDecorators immutable.Ref[immutable.HashMap[GenericDefinition, []Factory]]
	wrappers          immutable.Ref[immutable.HashMap[GenericDefinition, Factory]]

	// set by the engine, drops the resolution caches
	onInvalidate func()
}

func newRegistry(rules *Rules) *registry {
	return &registry{
		rules:  rules,
		logger: rules.Logger,
	}
}

func (r *registry) nextID() int64 {
	return r.ids.Add(1)
}

func (r *registry) invalidate() {
	r.generation.Add(1)
	if r.onInvalidate != nil {
		r.onInvalidate()
	}
}

func validateKey(key any) error {
	if key != nil && !reflect.TypeOf(key).Comparable() {
		return newError(InvalidRegistration, nil, "key of type %T is not comparable", key)
	}
	return nil
}

// register stores a service factory and returns the factory now serving serviceType and key.
func (r *registry) register(f Factory, serviceType reflect.Type, key any, policy IfAlreadyRegistered) (Factory, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if impl := f.ImplementationType(); impl != nil && !impl.AssignableTo(serviceType) {
		return nil, newError(RegisteredImplementationNotAssignableToServiceType, nil,
			"%s is not assignable to %s", impl, serviceType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f.base().assignID(r.nextID)
	services := r.services.Load()
	entry, _ := services.Get(serviceType)
	entry, stored, replaced, err := entry.add(f, key, policy)
	if err != nil {
		return nil, wrapError(DuplicateServiceKey, nil, err, "unable to register %s", serviceType)
	}
	r.services.Store(services.AddOrUpdate(serviceType, entry, nil))
	r.afterRegister(f, stored, replaced, serviceType.String(), key)
	return stored, nil
}

func (r *registry) registerOpenGeneric(f *openGenericFactory, key any, policy IfAlreadyRegistered) (Factory, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f.assignID(r.nextID)
	if f.kind == DecoratorFactory {
		decorators := r.genericDecorators.Load()
		existing, _ := decorators.Get(f.definition)
		r.genericDecorators.Store(decorators.AddOrUpdate(f.definition, append(existing[:len(existing):len(existing)], f), nil))
		r.afterRegister(f, f, true, string(f.definition), nil)
		return f, nil
	}

	openGenerics := r.openGenerics.Load()
	entry, _ := openGenerics.Get(f.definition)
	entry, stored, replaced, err := entry.add(f, key, policy)
	if err != nil {
		return nil, wrapError(DuplicateServiceKey, nil, err, "unable to register %s", f.definition)
	}
	r.openGenerics.Store(openGenerics.AddOrUpdate(f.definition, entry, nil))
	r.afterRegister(f, stored, replaced, string(f.definition), key)
	return stored, nil
}

// registerDecorator stores a decorator of serviceType. Decorators producing a
// func(T) T are kept apart from the ones taking the decorated T.
func (r *registry) registerDecorator(f Factory, serviceType reflect.Type) (Factory, error) {
	if err := bindDecorator(f, serviceType); err != nil {
		return nil, wrapError(InvalidRegistration, nil, err, "unable to register decorator")
	}
	key := serviceType
	if impl := f.ImplementationType(); impl == decoratorFuncType(serviceType) {
		key = impl
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f.base().assignID(r.nextID)
	decorators := r.decorators.Load()
	existing, _ := decorators.Get(key)
	r.decorators.Store(decorators.AddOrUpdate(key, append(existing[:len(existing):len(existing)], f), nil))
	r.afterRegister(f, f, true, serviceType.String(), nil)
	return f, nil
}

func (r *registry) registerWrapper(definition GenericDefinition, f *wrapperFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.assignID(r.nextID)
	r.wrappers.Store(r.wrappers.Load().AddOrUpdate(definition, Factory(f), nil))
}

// afterRegister runs under mu.
func (r *registry) afterRegister(f, stored Factory, invalidate bool, target string, key any) {
	if stored != f {
		r.logger.Debug().
			Str("service", target).
			Int("kept", stored.ID()).
			Msg("registration ignored, already registered")
		return
	}
	if f.Setup().Condition != nil {
		r.conditional.Add(1)
	}
	if invalidate {
		r.invalidate()
	} else {
		r.generation.Add(1)
	}
	r.logger.Debug().
		Str("service", target).
		Str("key", describeKey(key)).
		Int("factory", f.ID()).
		Stringer("kind", f.Setup().Kind).
		Msg("registered")
}

func (r *registry) unregister(serviceType reflect.Type, key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	services := r.services.Load()
	entry, found := services.Get(serviceType)
	if !found {
		return false
	}

	switch k := key.(type) {
	case nil:
		services = services.Without(serviceType)
	case DefaultKey:
		if _, exists := entry.defaults.Get(int(k)); !exists {
			return false
		}
		entry.defaults = entry.defaults.Remove(int(k))
		services = services.AddOrUpdate(serviceType, entry.withLastDefault(), nil)
	default:
		if _, exists := entry.named.Get(key); !exists {
			return false
		}
		entry.named = entry.named.Without(key)
		services = services.AddOrUpdate(serviceType, entry, nil)
	}
	r.services.Store(services)
	r.invalidate()

	r.logger.Debug().
		Str("service", serviceType.String()).
		Str("key", describeKey(key)).
		Msg("unregistered")
	return true
}

func (r *registry) isRegistered(serviceType reflect.Type, key any) bool {
	has := func(entry factoriesEntry) bool {
		if key == nil {
			return !entry.defaults.IsEmpty()
		}
		_, found := entry.get(key)
		return found
	}
	if entry, found := r.services.Load().Get(serviceType); found && has(entry) {
		return true
	}
	if def, ok := DefinitionOf(serviceType); ok {
		if entry, found := r.openGenerics.Load().Get(def); found && has(entry) {
			return true
		}
	}
	return false
}

func applicable(f Factory, req *Request) bool {
	cond := f.Setup().Condition
	return cond == nil || cond(req)
}

func (r *registry) findFactory(req *Request) (Factory, error) {
	entry, found := r.services.Load().Get(req.serviceType)
	if !found {
		return nil, nil
	}
	return r.selectFactory(req, entry)
}

// selectFactory picks the factory of entry serving req. Several applicable defaults
// are handed to the configured factory selector, or rejected.
func (r *registry) selectFactory(req *Request, entry factoriesEntry) (Factory, error) {
	if req.key != nil {
		f, found := entry.get(req.key)
		if !found || !applicable(f, req) {
			return nil, nil
		}
		return f, nil
	}

	if entry.defaults.Len() == 1 && r.conditional.Load() == 0 {
		return entry.lastDefault, nil
	}
	var candidates []Factory
	for _, f := range entry.defaults.All() {
		if applicable(f, req) {
			candidates = append(candidates, f)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	}
	if r.rules.FactorySelector != nil {
		return r.rules.FactorySelector(req, candidates)
	}
	return nil, newError(ExpectedSingleDefaultFactory, req,
		"%d default registrations, use a key or configure a factory selector", len(candidates))
}

// getOrAddFactory locates the factory of req: registered, specialized from an
// open generic, a wrapper, or provided by an unknown service resolver. A nil
// factory and no error means unresolved and not to be reported.
func (r *registry) getOrAddFactory(req *Request) (Factory, error) {
	f, err := r.findFactory(req)
	if err != nil || f != nil {
		return f, err
	}

	if def, ok := DefinitionOf(req.serviceType); ok {
		if f, err = r.specialize(req, def); err != nil || f != nil {
			return f, err
		}
		if w, found := r.wrappers.Load().Get(def); found {
			return w, nil
		}
	}

	for _, resolver := range r.rules.UnknownServiceResolvers {
		if !resolver.CanResolve(req) {
			continue
		}
		factory, opts, err := resolver.FactoryFor(req)
		if err != nil {
			return nil, wrapError(UnableToResolveUnknownService, req, err, "unknown service resolver %T failed", resolver)
		}
		options := option.Build(&RegisterOptions{}, opts...)
		if _, err := r.register(factory, req.serviceType, options.key, KeepExisting); err != nil {
			return nil, err
		}
		if f, err = r.findFactory(req); err != nil || f != nil {
			return f, err
		}
	}

	if req.ifUnresolved != Throw {
		return nil, nil
	}
	return nil, newError(UnableToResolveUnknownService, req, "%s is not registered", describeService(req.serviceType, req.key))
}

func describeService(serviceType reflect.Type, key any) string {
	if key == nil {
		return serviceType.String()
	}
	return fmt.Sprintf("%s with key %s", serviceType, describeKey(key))
}

// specialize closes the open generic registered for def and registers the result
// for the service type, so the next lookup finds it directly.
func (r *registry) specialize(req *Request, def GenericDefinition) (Factory, error) {
	entry, found := r.openGenerics.Load().Get(def)
	if !found {
		return nil, nil
	}
	open, err := r.selectFactory(req, entry)
	if err != nil || open == nil {
		return nil, err
	}
	return r.registerSpecialization(open.(*openGenericFactory), req.serviceType, req.key)
}

func (r *registry) registerSpecialization(open *openGenericFactory, serviceType reflect.Type, key any) (Factory, error) {
	closed, err := open.Specialize(serviceType)
	if err != nil {
		return nil, wrapError(InvalidRegistration, nil, err, "open generic %s", open.definition)
	}
	if closed == nil {
		return nil, nil
	}
	if _, isDefault := key.(DefaultKey); isDefault || key == nil {
		return r.register(closed, serviceType, nil, AppendNewImplementation)
	}
	return r.register(closed, serviceType, key, KeepExisting)
}

// ensureSpecialized registers the specializations of every open generic registration
// matching serviceType, so that they can be enumerated.
func (r *registry) ensureSpecialized(serviceType reflect.Type) {
	def, ok := DefinitionOf(serviceType)
	if !ok {
		return
	}
	entry, found := r.openGenerics.Load().Get(def)
	if !found {
		return
	}
	for _, f := range entry.defaults.All() {
		if _, err := r.registerSpecialization(f.(*openGenericFactory), serviceType, nil); err != nil {
			r.logger.Warn().Err(err).Str("service", serviceType.String()).Msg("unable to specialize open generic")
		}
	}
	for key, f := range entry.named.All() {
		if _, err := r.registerSpecialization(f.(*openGenericFactory), serviceType, key); err != nil {
			r.logger.Warn().Err(err).Str("service", serviceType.String()).Msg("unable to specialize open generic")
		}
	}
}

// getKeys lists the keys of serviceType, defaults first, keeping the ones whose
// factory matches predicate (nil keeps all).
func (r *registry) getKeys(serviceType reflect.Type, predicate func(Factory) bool) []any {
	r.ensureSpecialized(serviceType)
	entry, found := r.services.Load().Get(serviceType)
	if !found {
		return nil
	}
	keys := entry.keys()
	if predicate == nil {
		return keys
	}
	filtered := keys[:0]
	for _, k := range keys {
		if f, _ := entry.get(k); f != nil && predicate(f) {
			filtered = append(filtered, k)
		}
	}
	return filtered
}

// decoratorsFor gathers the decorators of serviceType: func(T) T decorators, then
// decorators of T, then specialized open generic decorators.
func (r *registry) decoratorsFor(serviceType reflect.Type) ([]Factory, error) {
	var found []Factory
	decorators := r.decorators.Load()
	if !decorators.IsEmpty() {
		if fs, ok := decorators.Get(decoratorFuncType(serviceType)); ok {
			found = append(found, fs...)
		}
		if fs, ok := decorators.Get(serviceType); ok {
			found = append(found, fs...)
		}
	}
	if def, ok := DefinitionOf(serviceType); ok {
		if generics, ok := r.genericDecorators.Load().Get(def); ok {
			for _, g := range generics {
				closed, err := g.(*openGenericFactory).Specialize(serviceType)
				if err != nil {
					return nil, wrapError(InvalidRegistration, nil, err, "open generic decorator %s", def)
				}
				if closed != nil {
					closed.base().assignID(r.nextID)
					found = append(found, closed)
				}
			}
		}
	}
	return found, nil
}

func (r *registry) hasDecorators() bool {
	return !r.decorators.Load().IsEmpty() || !r.genericDecorators.Load().IsEmpty()
}

// registrations lists the service registrations ordered by factory id.
func (r *registry) registrations() []registration {
	var regs []registration
	for serviceType, entry := range r.services.Load().All() {
		for _, key := range entry.keys() {
			f, _ := entry.get(key)
			regs = append(regs, registration{serviceType: serviceType, key: key, factory: f})
		}
	}
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].factory.ID() < regs[j].factory.ID() })
	return regs
}
