package plandi

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/a-peyrard/plandi/immutable"
	"github.com/a-peyrard/plandi/reflectutils"
	"github.com/a-peyrard/plandi/set"
)

// FactoryKind tells the registry where a factory goes.
type FactoryKind int

const (
	ServiceFactory FactoryKind = iota
	DecoratorFactory
	WrapperFactory
)

func (k FactoryKind) String() string {
	switch k {
	case ServiceFactory:
		return "service"
	case DecoratorFactory:
		return "decorator"
	case WrapperFactory:
		return "wrapper"
	default:
		return "unknown"
	}
}

// CachePolicy tells what may be cached of the plans of a factory.
type CachePolicy int

const (
	// CacheAll caches the plan on the factory and the compiled root resolution.
	CacheAll CachePolicy = iota
	// NoPlanCache rebuilds the plan for every dependent, root resolutions are still cached.
	NoPlanCache
	// NoCache never caches, every resolution involving the factory rebuilds its plan.
	NoCache
)

// Setup holds the composition metadata of a factory.
type Setup struct {
	Kind        FactoryKind
	CachePolicy CachePolicy
	Metadata    any
	// Condition restricts the requests a factory (service or decorator) applies to.
	Condition   func(*Request) bool
	Order       int
	Description string
}

type (
	// Factory is a registered recipe producing a service.
	//
	// Factories are built with NewConstructorFactory, NewDelegateFactory,
	// NewInstanceFactory, NewStructFactory, or by embedding FactoryBase.
	Factory interface {
		ID() int
		Reuse() Reuse
		Setup() Setup
		ImplementationType() reflect.Type
		BuildPlan(req *Request, b PlanBuilder) (Plan, error)
		base() *FactoryBase
	}

	// PlanBuilder is what a factory sees of the resolution engine.
	PlanBuilder interface {
		// Build returns the full plan (decorators and reuse included) of a request.
		Build(req *Request) (Plan, error)
		// FactoryFor locates the factory serving req without building it.
		FactoryFor(req *Request) (Factory, error)
		// Keys lists the keys registered for serviceType, defaults first.
		Keys(serviceType reflect.Type) []any
		Rules() *Rules
	}

	// FactoryBase carries the identity of a factory, embed it to write a custom factory.
	FactoryBase struct {
		id     atomic.Int64
		reuse  Reuse
		setup  Setup
		cached atomic.Pointer[cachedPlan]
		// origin is the open generic factory this one was specialized from.
		origin Factory
	}

	cachedPlan struct {
		generation  uint64
		serviceType reflect.Type
		plan        Plan
		ids         set.Set[int]
		minLifespan int
	}
)

// Configure sets the reuse and the setup, before the factory is registered.
func (b *FactoryBase) Configure(reuse Reuse, setup Setup) {
	b.reuse = reuse
	b.setup = setup
}

// ID returns the id assigned at registration, 0 before.
func (b *FactoryBase) ID() int         { return int(b.id.Load()) }
func (b *FactoryBase) Reuse() Reuse    { return b.reuse }
func (b *FactoryBase) Setup() Setup    { return b.setup }
func (b *FactoryBase) base() *FactoryBase { return b }

// registrationOrder is the id of the registration that brought the factory in:
// a specialized factory ranks where its open generic factory was registered.
func registrationOrder(f Factory) int {
	if origin := f.base().origin; origin != nil {
		return origin.ID()
	}
	return f.ID()
}

func (b *FactoryBase) assignID(next func() int64) {
	if b.id.Load() == 0 {
		b.id.CompareAndSwap(0, next())
	}
}

func (b *FactoryBase) loadPlan(generation uint64, serviceType reflect.Type) (*cachedPlan, bool) {
	cached := b.cached.Load()
	if cached == nil || cached.generation != generation || cached.serviceType != serviceType {
		return nil, false
	}
	return cached, true
}

func (b *FactoryBase) storePlan(generation uint64, serviceType reflect.Type, plan Plan) {
	ids, minLifespan := planFacts(plan)
	b.cached.Store(&cachedPlan{
		generation:  generation,
		serviceType: serviceType,
		plan:        plan,
		ids:         set.NewWithValues(ids...),
		minLifespan: minLifespan,
	})
}

type constructor struct {
	fn           reflect.Value
	typ          reflect.Type
	returnsError bool
}

func newConstructor(fn any) (constructor, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return constructor{}, fmt.Errorf("constructor must be a non nil function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return constructor{}, fmt.Errorf("constructor %s must not be variadic", reflectutils.FuncName(v))
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return constructor{}, errors.New("constructor must either return the instance and an error, or just the instance")
	}
	if t.NumOut() == 2 && t.Out(1) != errorType {
		return constructor{}, errors.New("if constructor returns two elements, it must return an error as the second element")
	}
	return constructor{fn: v, typ: t, returnsError: t.NumOut() == 2}, nil
}

func (c constructor) String() string {
	return fmt.Sprintf("%s %s", reflectutils.FuncName(c.fn), c.typ)
}

type constructorFactory struct {
	FactoryBase
	implType     reflect.Type
	ctors        []constructor
	selector     ConstructorSelector
	dependencies []Dependency
	fields       []fieldSpec
	// position of the decorated service in the parameters, -1 for services
	decorateeIndex int
}

// NewConstructorFactory creates the factory calling fn, fn returns the service and optionally an error.
func NewConstructorFactory(fn any, opts *RegisterOptions, kind FactoryKind) (Factory, error) {
	primary, err := newConstructor(fn)
	if err != nil {
		return nil, err
	}
	f := &constructorFactory{
		implType:       primary.typ.Out(0),
		ctors:          []constructor{primary},
		selector:       opts.selector,
		dependencies:   opts.dependencies,
		decorateeIndex: -1,
	}
	f.Configure(opts.reuse, opts.setup(kind))

	for _, alt := range opts.alternatives {
		ctor, err := newConstructor(alt)
		if err != nil {
			return nil, err
		}
		if ctor.typ.Out(0) != f.implType {
			return nil, fmt.Errorf("alternative constructor %s must return %s", ctor, f.implType)
		}
		f.ctors = append(f.ctors, ctor)
	}

	if len(opts.dependencies) > primary.typ.NumIn() {
		return nil, fmt.Errorf("%d dependencies given for %d parameters of %s", len(opts.dependencies), primary.typ.NumIn(), primary)
	}
	for i, dep := range opts.dependencies {
		if err := dep.validate(primary.typ.In(i)); err != nil {
			return nil, fmt.Errorf("invalid dependency for parameter #%d of %s:\n\t%w", i, primary, err)
		}
	}

	if opts.fieldInjection {
		if f.fields, err = parseInjectFields(f.implType); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *constructorFactory) ImplementationType() reflect.Type { return f.implType }

// bindDecoratee finds the parameter receiving the decorated serviceType.
func (f *constructorFactory) bindDecoratee(serviceType reflect.Type) error {
	t := f.ctors[0].typ
	for i := 0; i < t.NumIn(); i++ {
		if t.In(i) == serviceType {
			f.decorateeIndex = i
			return nil
		}
	}
	return fmt.Errorf("decorator %s must take the decorated %s as a parameter", f.ctors[0], serviceType)
}

func (f *constructorFactory) String() string {
	return f.ctors[0].String()
}

func (f *constructorFactory) BuildPlan(req *Request, b PlanBuilder) (Plan, error) {
	var (
		ctor constructor
		args []Plan
		err  error
	)
	if len(f.ctors) == 1 {
		ctor = f.ctors[0]
		args, err = f.paramPlans(req, b, 0)
	} else {
		selector := f.selector
		if selector == nil {
			selector = b.Rules().ConstructorSelector
		}
		if selector == nil {
			return nil, newError(UnableToSelectConstructor, req, "%d constructors for %s and no selector", len(f.ctors), f.implType)
		}
		var idx int
		idx, args, err = selector.selectConstructor(req, b, f)
		if err == nil {
			ctor = f.ctors[idx]
		}
	}
	if err != nil {
		return nil, err
	}

	fields, err := fieldPlans(req, b, f.fields)
	if err != nil {
		return nil, err
	}

	return &ConstructPlan{
		FactoryID:    f.ID(),
		Request:      req,
		Typ:          f.implType,
		Func:         ctor.fn,
		ReturnsError: ctor.returnsError,
		Args:         args,
		Fields:       fields,
	}, nil
}

func (f *constructorFactory) paramPlans(req *Request, b PlanBuilder, ctorIdx int) ([]Plan, error) {
	t := f.ctors[ctorIdx].typ
	plans := make([]Plan, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		if i == f.decorateeIndex && ctorIdx == 0 {
			if req.decoratee == nil {
				return nil, newError(InvalidRegistration, req, "decorator resolved without a decorated service")
			}
			plans[i] = req.decoratee
			continue
		}
		dep := Inject.Auto()
		if ctorIdx == 0 && i < len(f.dependencies) {
			dep = f.dependencies[i]
		}
		plan, err := dep.plan(req, b, t.In(i), DependencyInfo{Kind: ParameterDependency, Index: i})
		if err != nil {
			return nil, err
		}
		plans[i] = plan
	}
	return plans, nil
}

// ConstructorSelector picks one of the constructors of a factory and builds its arguments.
type ConstructorSelector interface {
	selectConstructor(req *Request, b PlanBuilder, f *constructorFactory) (int, []Plan, error)
}

type (
	signatureSelector    func(candidates []reflect.Type) int
	mostResolvableSelect struct{}
)

// SelectMostResolvable picks the constructor whose parameters are all resolvable,
// preferring the ones with more parameters, then the first registered.
var SelectMostResolvable ConstructorSelector = mostResolvableSelect{}

// SelectBySignature lets pick choose among the constructor types, by index. A
// negative index means none fits.
func SelectBySignature(pick func(candidates []reflect.Type) int) ConstructorSelector {
	return signatureSelector(pick)
}

func (s signatureSelector) selectConstructor(req *Request, b PlanBuilder, f *constructorFactory) (int, []Plan, error) {
	types := make([]reflect.Type, len(f.ctors))
	for i, c := range f.ctors {
		types[i] = c.typ
	}
	idx := s(types)
	if idx < 0 || idx >= len(f.ctors) {
		return 0, nil, newError(UnableToSelectConstructor, req, "no constructor selected among %v", types)
	}
	args, err := f.paramPlans(req, b, idx)
	return idx, args, err
}

func (mostResolvableSelect) selectConstructor(req *Request, b PlanBuilder, f *constructorFactory) (int, []Plan, error) {
	order := make([]int, len(f.ctors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return f.ctors[order[i]].typ.NumIn() > f.ctors[order[j]].typ.NumIn()
	})

	// probing must not instantiate the singletons of a rejected candidate
	folding := req.state.noFolding
	req.state.noFolding = true
	defer func() { req.state.noFolding = folding }()

	var lastErr error
	for _, idx := range order {
		args, err := f.paramPlans(req, b, idx)
		if err == nil {
			return idx, args, nil
		}
		if errors.Is(err, RecursiveDependencyDetected) {
			return 0, nil, err
		}
		lastErr = err
	}
	return 0, nil, wrapError(UnableToFindCtorWithAllResolvableArgs, req, lastErr, "none of the %d constructors of %s", len(f.ctors), f.implType)
}

type structFactory struct {
	FactoryBase
	implType reflect.Type
	fields   []fieldSpec
}

// NewStructFactory creates the factory allocating the struct pointed to by t and
// injecting its tagged fields.
func NewStructFactory(t reflect.Type, opts *RegisterOptions) (Factory, error) {
	fields, err := parseInjectFields(t)
	if err != nil {
		return nil, err
	}
	f := &structFactory{implType: t, fields: fields}
	f.Configure(opts.reuse, opts.setup(ServiceFactory))
	return f, nil
}

func (f *structFactory) ImplementationType() reflect.Type { return f.implType }

func (f *structFactory) String() string { return "&" + f.implType.Elem().String() + "{}" }

func (f *structFactory) BuildPlan(req *Request, b PlanBuilder) (Plan, error) {
	fields, err := fieldPlans(req, b, f.fields)
	if err != nil {
		return nil, err
	}
	return &ConstructPlan{FactoryID: f.ID(), Request: req, Typ: f.implType, Fields: fields}, nil
}

type delegateFactory struct {
	FactoryBase
	implType reflect.Type
	delegate func(Resolver) (any, error)
}

// NewDelegateFactory creates the factory calling delegate, which must return a value assignable to implType.
func NewDelegateFactory(implType reflect.Type, delegate func(Resolver) (any, error), opts *RegisterOptions) Factory {
	f := &delegateFactory{implType: implType, delegate: delegate}
	f.Configure(opts.reuse, opts.setup(ServiceFactory))
	return f
}

func (f *delegateFactory) ImplementationType() reflect.Type { return f.implType }

func (f *delegateFactory) String() string { return "delegate of " + f.implType.String() }

func (f *delegateFactory) BuildPlan(req *Request, _ PlanBuilder) (Plan, error) {
	return &InvokePlan{FactoryID: f.ID(), Request: req, Typ: f.implType, Delegate: f.delegate}, nil
}

type instanceFactory struct {
	FactoryBase
	value reflect.Value
}

// NewInstanceFactory creates the factory returning instance. Instances default to
// singleton reuse, so the container disposes them with its singletons.
func NewInstanceFactory(instance any, opts *RegisterOptions) (Factory, error) {
	v := reflect.ValueOf(instance)
	if !v.IsValid() {
		return nil, errors.New("instance must not be nil")
	}
	f := &instanceFactory{value: v}
	reuse := opts.reuse
	if reuse == nil {
		reuse = Singleton
	}
	f.Configure(reuse, opts.setup(ServiceFactory))
	return f, nil
}

func (f *instanceFactory) ImplementationType() reflect.Type { return f.value.Type() }

func (f *instanceFactory) String() string { return fmt.Sprintf("instance %v", f.value) }

func (f *instanceFactory) BuildPlan(*Request, PlanBuilder) (Plan, error) {
	return &ConstantPlan{Typ: f.value.Type(), Value: f.value}, nil
}

// Specializer returns the registrable (usually a generic constructor instantiation)
// serving a closed service type, ok is false when it cannot serve it.
type Specializer func(serviceType reflect.Type) (registrable any, ok bool)

// Instantiations serves each service type with the first of the given constructors
// returning a type assignable to it, e.g. Instantiations(NewRepo[User], NewRepo[Order]).
func Instantiations(constructors ...any) Specializer {
	return func(serviceType reflect.Type) (any, bool) {
		for _, c := range constructors {
			t := reflect.TypeOf(c)
			if t != nil && t.Kind() == reflect.Func && t.NumOut() > 0 && matchType(serviceType, t.Out(0)) {
				return c, true
			}
		}
		return nil, false
	}
}

// openGenericFactory stands for every instantiation of a generic service and
// creates one closed factory per service type.
type openGenericFactory struct {
	FactoryBase
	definition  GenericDefinition
	specialize  Specializer
	options     *RegisterOptions
	kind        FactoryKind
	specialized immutable.Ref[immutable.HashMap[reflect.Type, Factory]]
}

func newOpenGenericFactory(definition GenericDefinition, specialize Specializer, opts *RegisterOptions, kind FactoryKind) *openGenericFactory {
	f := &openGenericFactory{definition: definition, specialize: specialize, options: opts, kind: kind}
	f.Configure(opts.reuse, opts.setup(kind))
	return f
}

func (f *openGenericFactory) ImplementationType() reflect.Type { return nil }

func (f *openGenericFactory) String() string { return "open generic " + string(f.definition) }

func (f *openGenericFactory) BuildPlan(req *Request, _ PlanBuilder) (Plan, error) {
	return nil, newError(InvalidRegistration, req, "open generic %s must be specialized first", f.definition)
}

// Specialize returns the closed factory serving serviceType, nil when the
// specializer cannot serve it. The same factory is returned for the same type.
func (f *openGenericFactory) Specialize(serviceType reflect.Type) (Factory, error) {
	if closed, found := f.specialized.Load().Get(serviceType); found {
		return closed, nil
	}
	reg, ok := f.specialize(serviceType)
	if !ok {
		return nil, nil
	}
	closed, err := newFactory(reg, f.options, f.kind)
	if err == nil && f.kind == DecoratorFactory {
		err = bindDecorator(closed, serviceType)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to specialize %s for %s:\n\t%w", f.definition, serviceType, err)
	}
	closed.base().origin = f
	stored := f.specialized.Swap(func(current immutable.HashMap[reflect.Type, Factory]) immutable.HashMap[reflect.Type, Factory] {
		return current.AddOrKeep(serviceType, closed)
	})
	closed, _ = stored.Get(serviceType)
	return closed, nil
}

// WrapperFunc builds the plan of a wrapper request, see Container.RegisterWrapper.
type WrapperFunc func(req *Request, b PlanBuilder) (Plan, error)

type wrapperFactory struct {
	FactoryBase
	definition GenericDefinition
	build      WrapperFunc
}

func newWrapperFactory(definition GenericDefinition, build WrapperFunc, policy CachePolicy) *wrapperFactory {
	f := &wrapperFactory{definition: definition, build: build}
	f.Configure(nil, Setup{Kind: WrapperFactory, CachePolicy: policy})
	return f
}

func (f *wrapperFactory) ImplementationType() reflect.Type { return nil }

func (f *wrapperFactory) String() string { return "wrapper " + string(f.definition) }

func (f *wrapperFactory) BuildPlan(req *Request, b PlanBuilder) (Plan, error) {
	return f.build(req, b)
}

// bindDecorator checks that f can decorate serviceType: either f builds a
// func(serviceType) serviceType, or it takes a serviceType parameter and returns
// something assignable to it.
func bindDecorator(f Factory, serviceType reflect.Type) error {
	impl := f.ImplementationType()
	if impl == decoratorFuncType(serviceType) {
		return nil
	}
	if impl == nil || !impl.AssignableTo(serviceType) {
		return fmt.Errorf("decorator of %s returns %v", serviceType, impl)
	}
	if cf, ok := f.(*constructorFactory); ok {
		return cf.bindDecoratee(serviceType)
	}
	return nil
}

func decoratorFuncType(serviceType reflect.Type) reflect.Type {
	return reflect.FuncOf([]reflect.Type{serviceType}, []reflect.Type{serviceType}, false)
}

// newFactory turns a registrable into a factory: a constructor function, a Factory,
// or a nil struct pointer standing for its type.
func newFactory(reg any, opts *RegisterOptions, kind FactoryKind) (Factory, error) {
	if f, ok := reg.(Factory); ok {
		return f, nil
	}
	t := reflect.TypeOf(reg)
	switch {
	case t == nil:
		return nil, errors.New("registrable must not be nil")
	case t.Kind() == reflect.Func:
		return NewConstructorFactory(reg, opts, kind)
	case reflectutils.IsStructPointer(t) && reflect.ValueOf(reg).IsNil() && kind == ServiceFactory:
		return NewStructFactory(t, opts)
	default:
		return nil, fmt.Errorf("%T is neither a constructor, a Factory nor a nil struct pointer, use RegisterInstance for values", reg)
	}
}
