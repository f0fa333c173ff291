package plandi

import (
	"errors"
	"reflect"
	"time"

	"github.com/a-peyrard/plandi/fn"
	"github.com/a-peyrard/plandi/heap"
	"github.com/a-peyrard/plandi/immutable"
	"github.com/rs/zerolog"
)

// engine turns requests into plans and root resolutions into cached callables.
type engine struct {
	config   *Rules
	logger   *zerolog.Logger
	registry *registry

	unkeyed immutable.Ref[immutable.HashMap[reflect.Type, Callable]]
	keyed   immutable.Ref[immutable.HashMap[reflect.Type, immutable.HashMap[any, Callable]]]
}

func newEngine(rules *Rules, registry *registry) *engine {
	e := &engine{
		config:   rules,
		logger:   rules.Logger,
		registry: registry,
	}
	registry.onInvalidate = e.invalidate
	return e
}

func (e *engine) rules() *Rules {
	return e.config
}

// Rules implements PlanBuilder.
func (e *engine) Rules() *Rules {
	return e.config
}

// FactoryFor implements PlanBuilder.
func (e *engine) FactoryFor(req *Request) (Factory, error) {
	return e.registry.getOrAddFactory(req)
}

// Keys implements PlanBuilder.
func (e *engine) Keys(serviceType reflect.Type) []any {
	return e.registry.getKeys(serviceType, nil)
}

func (e *engine) invalidate() {
	e.unkeyed.Store(immutable.HashMap[reflect.Type, Callable]{})
	e.keyed.Store(immutable.HashMap[reflect.Type, immutable.HashMap[any, Callable]]{})
	e.logger.Debug().Msg("resolution caches invalidated")
}

func (e *engine) cached(serviceType reflect.Type, key any) (Callable, bool) {
	if key == nil {
		return e.unkeyed.Load().Get(serviceType)
	}
	byKey, found := e.keyed.Load().Get(serviceType)
	if !found {
		return nil, false
	}
	return byKey.Get(key)
}

func (e *engine) store(serviceType reflect.Type, key any, callable Callable) {
	if key == nil {
		e.unkeyed.Swap(func(current immutable.HashMap[reflect.Type, Callable]) immutable.HashMap[reflect.Type, Callable] {
			return current.AddOrUpdate(serviceType, callable, nil)
		})
		return
	}
	e.keyed.Swap(func(current immutable.HashMap[reflect.Type, immutable.HashMap[any, Callable]]) immutable.HashMap[reflect.Type, immutable.HashMap[any, Callable]] {
		byKey, _ := current.Get(serviceType)
		return current.AddOrUpdate(serviceType, byKey.AddOrUpdate(key, callable, nil), nil)
	})
}

func (e *engine) cacheSize() int {
	size := e.unkeyed.Load().Len()
	for _, byKey := range e.keyed.Load().All() {
		size += byKey.Len()
	}
	return size
}

// callable returns the compiled root resolution of serviceType and key. found is
// false when the service resolved to its zero value.
func (e *engine) callable(c *Container, creating *creation, serviceType reflect.Type, key any, ifUnresolved IfUnresolved) (Callable, bool, error) {
	if callable, found := e.cached(serviceType, key); found {
		return callable, true, nil
	}
	e.logger.Debug().
		Str("service", serviceType.String()).
		Str("key", describeKey(key)).
		Msg("cache miss")

	start := time.Now()
	state := &buildState{container: c, creating: creating}
	req := newRootRequest(serviceType, key, ifUnresolved, state)
	plan, err := e.Build(req)
	if err != nil {
		return nil, false, err
	}
	callable, err := e.config.Compiler.Compile(plan)
	if err != nil {
		return nil, false, wrapError(FactoryFailed, req, err, "unable to compile %s", plan)
	}

	_, unresolved := plan.(*DefaultPlan)
	e.logger.Debug().
		Str("service", serviceType.String()).
		Str("key", describeKey(key)).
		Stringer("plan", plan).
		Dur("duration", time.Since(start)).
		Msg("plan compiled")
	if !unresolved && !state.noCache {
		e.store(serviceType, key, callable)
	}
	return callable, !unresolved, nil
}

// evaluate runs a plan right away, used to fold singletons.
func (e *engine) evaluate(state *buildState, plan Plan) (reflect.Value, error) {
	callable, err := e.config.Compiler.Compile(plan)
	if err != nil {
		return reflect.Value{}, err
	}
	ctx := newResolveContext(state.container)
	ctx.creating = state.creating
	return callable(ctx)
}

// Build implements PlanBuilder.
func (e *engine) Build(req *Request) (Plan, error) {
	if i, ok := req.argIndex(); ok {
		return &ArgPlan{Typ: req.serviceType, Index: i}, nil
	}

	f, err := e.registry.getOrAddFactory(req)
	if err == nil {
		if f == nil {
			return &DefaultPlan{Typ: req.serviceType}, nil
		}
		var plan Plan
		if plan, err = e.buildFor(req, f); err == nil {
			return plan, nil
		}
	}
	if req.ifUnresolved == ReturnDefault && errors.Is(err, UnableToResolveUnknownService) {
		return &DefaultPlan{Typ: req.serviceType}, nil
	}
	return nil, err
}

func (e *engine) buildFor(req *Request, f Factory) (Plan, error) {
	setup := f.Setup()
	if setup.CachePolicy == NoCache {
		req.state.noCache = true
	}
	if setup.Kind == WrapperFactory {
		return f.BuildPlan(req.bindWrapper(f), e)
	}

	reuse := e.reuseOf(f)
	bound, err := req.resolveTo(f, reuse)
	if err != nil {
		return nil, err
	}
	if err := e.checkLifespan(bound); err != nil {
		return nil, err
	}
	if plan, found := e.cachedPlan(bound, f); found {
		return plan, nil
	}

	plan, err := f.BuildPlan(bound, e)
	if err != nil {
		return nil, err
	}
	if plan, err = reuse.apply(bound, e, plan); err != nil {
		return nil, err
	}
	if plan, err = e.decorate(bound, plan); err != nil {
		return nil, err
	}
	if setup.CachePolicy == CacheAll && len(bound.funcArgs) == 0 && !bound.state.noCache {
		f.base().storePlan(e.registry.generation.Load(), bound.serviceType, plan)
	}
	return plan, nil
}

func (e *engine) reuseOf(f Factory) Reuse {
	if reuse := f.Reuse(); reuse != nil {
		return reuse
	}
	if e.config.DefaultReuse != nil {
		return e.config.DefaultReuse
	}
	return Transient
}

func (e *engine) checkLifespan(req *Request) error {
	if !e.config.ThrowIfDependencyHasShorterReuseLifespan || !isReused(req.reuse) {
		return nil
	}
	if ancestor := req.nearestReusedAncestor(); ancestor != nil && req.reuse.Lifespan() < ancestor.reuse.Lifespan() {
		return reuseLifespanError(req, ancestor)
	}
	return nil
}

// cachedPlan returns the plan already built for f when reusing it cannot hide a
// cycle or a lifespan violation of the current request.
func (e *engine) cachedPlan(req *Request, f Factory) (Plan, bool) {
	if f.Setup().CachePolicy != CacheAll || len(req.funcArgs) > 0 || e.registry.conditional.Load() > 0 {
		return nil, false
	}
	cached, found := f.base().loadPlan(e.registry.generation.Load(), req.serviceType)
	if !found {
		return nil, false
	}
	for p := req.parent; p != nil; p = p.parent {
		if p.factory != nil && cached.ids.Contains(p.factory.ID()) {
			return nil, false
		}
	}
	if e.config.ThrowIfDependencyHasShorterReuseLifespan {
		ancestor := req
		if !isReused(req.reuse) {
			ancestor = req.nearestReusedAncestor()
		}
		if ancestor != nil && cached.minLifespan < ancestor.reuse.Lifespan() {
			return nil, false
		}
	}
	return cached.plan, true
}

var decoratorOrder = fn.ThenComparing(
	fn.ComparingInt(func(f Factory) int { return f.Setup().Order }),
	fn.ComparingInt(registrationOrder),
	fn.ComparingInt(Factory.ID),
)

// decorate layers the decorators of the service around plan, lowest order first.
func (e *engine) decorate(req *Request, plan Plan) (Plan, error) {
	if !e.registry.hasDecorators() {
		return plan, nil
	}
	decorators, err := e.registry.decoratorsFor(req.serviceType)
	if err != nil || len(decorators) == 0 {
		return plan, err
	}
	queue := heap.NewFrom(decoratorOrder, decorators...)
	for !queue.IsEmpty() {
		d := queue.Pop()
		if !applicable(d, req) {
			continue
		}
		if plan, err = e.decorateWith(req, d, plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// decorateWith builds decorator d around inner. The decorator request is a sibling
// of the decorated one, so a decorator needing its own service is a cycle.
func (e *engine) decorateWith(req *Request, d Factory, inner Plan) (Plan, error) {
	reuse := e.reuseOf(d)
	dreq, err := req.resolveTo(d, reuse)
	if err != nil {
		return nil, err
	}
	dreq.decorated = req.factory
	if err := e.checkLifespan(dreq); err != nil {
		return nil, err
	}

	if d.ImplementationType() == decoratorFuncType(req.serviceType) {
		decorator, err := d.BuildPlan(dreq, e)
		if err != nil {
			return nil, err
		}
		if decorator, err = reuse.apply(dreq, e, decorator); err != nil {
			return nil, err
		}
		return &DecoratePlan{FactoryID: d.ID(), Request: dreq, Decorator: decorator, Inner: inner}, nil
	}

	dreq.decoratee = inner
	plan, err := d.BuildPlan(dreq, e)
	if err != nil {
		return nil, err
	}
	return reuse.apply(dreq, e, plan)
}
