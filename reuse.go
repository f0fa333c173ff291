package plandi

import (
	"fmt"
	"strings"
)

// Reuse is a lifetime policy. It rewrites the plan of a service so that its value
// is read through a scope instead of being built on every use.
//
// Lifespan orders reuses: a reused service must not depend on a reused service
// having a shorter lifespan, see Rules.ThrowIfDependencyHasShorterReuseLifespan.
type Reuse interface {
	Lifespan() int
	Name() string
	apply(req *Request, e *engine, plan Plan) (Plan, error)
}

var (
	// Transient builds a new value every time.
	Transient Reuse = transientReuse{}
	// Scoped shares the value in the scope the resolution starts from.
	Scoped Reuse = scopedReuse{}
	// Singleton shares the value for the whole container, child scopes included.
	Singleton Reuse = singletonReuse{}
	// InResolutionScope shares the value within one top level resolve call.
	InResolutionScope Reuse = resolutionReuse{}
)

// ScopedTo shares the value in the nearest open scope whose name is one of names.
func ScopedTo(names ...any) Reuse {
	return namedScopeReuse{names: names}
}

// ReuseByName maps "transient", "scoped", "singleton" and "resolution" to a Reuse.
func ReuseByName(name string) (Reuse, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "transient":
		return Transient, nil
	case "scoped":
		return Scoped, nil
	case "singleton":
		return Singleton, nil
	case "resolution", "inresolutionscope":
		return InResolutionScope, nil
	default:
		return nil, fmt.Errorf("unknown reuse %q", name)
	}
}

type (
	transientReuse  struct{}
	scopedReuse     struct{}
	singletonReuse  struct{}
	resolutionReuse struct{}
	namedScopeReuse struct {
		names []any
	}
)

func (transientReuse) Lifespan() int { return 0 }
func (transientReuse) Name() string  { return "transient" }

func (transientReuse) apply(req *Request, e *engine, plan Plan) (Plan, error) {
	if !e.rules().TrackDisposableTransients || !isDisposable(req.ImplementationType()) {
		return plan, nil
	}
	return newScopePlan(req, TrackedTransient, 0, plan), nil
}

func (scopedReuse) Lifespan() int { return 100 }
func (scopedReuse) Name() string  { return "scoped" }

func (r scopedReuse) apply(req *Request, _ *engine, plan Plan) (Plan, error) {
	return newScopePlan(req, CurrentScope, r.Lifespan(), plan), nil
}

func (namedScopeReuse) Lifespan() int { return 100 }

func (r namedScopeReuse) Name() string {
	return fmt.Sprintf("scoped to %v", r.names)
}

func (r namedScopeReuse) apply(req *Request, _ *engine, plan Plan) (Plan, error) {
	scoped := newScopePlan(req, NamedScope, r.Lifespan(), plan)
	scoped.Names = r.names
	return scoped, nil
}

func (resolutionReuse) Lifespan() int { return 50 }
func (resolutionReuse) Name() string  { return "resolution" }

func (r resolutionReuse) apply(req *Request, _ *engine, plan Plan) (Plan, error) {
	return newScopePlan(req, ResolutionScope, r.Lifespan(), plan), nil
}

func (singletonReuse) Lifespan() int { return 1000 }
func (singletonReuse) Name() string  { return "singleton" }

// apply folds the singleton into a constant when nothing defers its creation:
// the value is built now and later uses skip the scope lookup.
func (r singletonReuse) apply(req *Request, e *engine, plan Plan) (Plan, error) {
	scoped := newScopePlan(req, SingletonScope, r.Lifespan(), plan)
	if !e.rules().EagerSingletonFolding || req.state.noFolding || req.IsDeferred() || len(req.funcArgs) > 0 {
		return scoped, nil
	}
	v, err := e.evaluate(req.state, scoped)
	if err != nil {
		return nil, wrapError(FactoryFailed, req, err, "unable to create singleton")
	}
	return &ConstantPlan{Typ: plan.Type(), Value: v}, nil
}

// newScopePlan reads plan through a scope. A decorator layer is kept apart for
// every factory it decorates.
func newScopePlan(req *Request, kind ScopeKind, lifespan int, plan Plan) *ScopePlan {
	scoped := &ScopePlan{FactoryID: req.factory.ID(), Request: req, Kind: kind, Lifespan: lifespan, Inner: plan}
	if req.decorated != nil {
		scoped.DecoratedID = req.decorated.ID()
	}
	return scoped
}

func reuseLifespanError(req *Request, ancestor *Request) error {
	return newError(DependencyHasShorterReuseLifespan, req,
		"%s reused as %s (lifespan %d) is a dependency of %s reused as %s (lifespan %d)",
		req.serviceType, req.reuse.Name(), req.reuse.Lifespan(),
		ancestor.serviceType, ancestor.reuse.Name(), ancestor.reuse.Lifespan(),
	)
}

func isReused(r Reuse) bool {
	return r != nil && r.Lifespan() > 0
}

