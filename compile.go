package plandi

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/a-peyrard/plandi/reflectutils"
	"github.com/a-peyrard/plandi/slices"
)

type (
	// Callable produces the value of a compiled plan.
	Callable func(ctx *ResolveContext) (reflect.Value, error)

	// Compiler turns a plan into a Callable. Plans are compiled once per service
	// and the result is cached by the container.
	Compiler interface {
		Compile(plan Plan) (Callable, error)
	}

	// Interpreter walks the plan on every call. It is the default compiler.
	Interpreter struct{}

	// ClosureCompiler lowers the plan into nested closures once, trading compile
	// time for cheaper calls.
	ClosureCompiler struct{}

	// ResolveContext carries what a running plan needs: the container (and so the
	// current scope) the resolution started from, the resolution scope shared by
	// the whole call, the arguments of the enclosing func wrapper and the scoped
	// values still being created.
	ResolveContext struct {
		container  *Container
		resolution *resolutionScope
		args       []reflect.Value
		creating   *creation
	}

	// creation is a scoped value being built. Lazy values keep the chain they were
	// made in, reading one while its own consumer is still being built is a cycle.
	creation struct {
		scope  *Scope
		key    ScopeKey
		parent *creation
		done   atomic.Bool
	}

	resolutionScope struct {
		once  sync.Once
		scope *Scope
		err   error
	}
)

func newResolveContext(c *Container) *ResolveContext {
	return &ResolveContext{
		container:  c,
		resolution: &resolutionScope{},
	}
}

// Resolver returns the resolver of the scope the resolution started from.
func (ctx *ResolveContext) Resolver() Resolver {
	return ctx.container
}

// withArgs appends the arguments of a func wrapper call to the ones of the
// enclosing funcs, matching the order of Request.funcArgs.
func (ctx *ResolveContext) withArgs(args []reflect.Value) *ResolveContext {
	return &ResolveContext{
		container:  ctx.container,
		resolution: ctx.resolution,
		args:       slices.Appended(ctx.args, args...),
		creating:   ctx.creating,
	}
}

// building returns a copy of ctx recording that c is in progress.
func (ctx *ResolveContext) building(c *creation) *ResolveContext {
	return &ResolveContext{
		container:  ctx.container,
		resolution: ctx.resolution,
		args:       ctx.args,
		creating:   c,
	}
}

func (c *creation) includes(scope *Scope, key ScopeKey) bool {
	for current := c; current != nil; current = current.parent {
		if current.scope == scope && current.key == key && !current.done.Load() {
			return true
		}
	}
	return false
}

// resolutionScope lazily opens the scope of this call. It is owned, and disposed,
// by the scope of the container.
func (ctx *ResolveContext) resolutionScope() (*Scope, error) {
	h := ctx.resolution
	h.once.Do(func() {
		owner := ctx.container.ownScope()
		h.scope = newScope(resolutionScopeName{}, owner, ctx.container.core.logger)
		h.err = owner.Track(reflect.ValueOf(h.scope))
	})
	return h.scope, h.err
}

type resolutionScopeName struct{}

func (resolutionScopeName) String() string { return "resolution" }

func (Interpreter) Compile(plan Plan) (Callable, error) {
	if err := checkSupported(plan); err != nil {
		return nil, err
	}
	return func(ctx *ResolveContext) (reflect.Value, error) {
		return interpret(ctx, plan)
	}, nil
}

func checkSupported(plan Plan) error {
	switch plan.(type) {
	case *ConstantPlan, *DefaultPlan, *ArgPlan, *ConstructPlan, *InvokePlan, *ScopePlan,
		*DecoratePlan, *FuncPlan, *LazyPlan, *CollectionPlan, *ManyPlan, *ConvertPlan:
	default:
		return fmt.Errorf("unsupported plan node %T", plan)
	}
	for _, c := range plan.children() {
		if err := checkSupported(c); err != nil {
			return err
		}
	}
	return nil
}

func interpreted(plan Plan) Callable {
	return func(ctx *ResolveContext) (reflect.Value, error) {
		return interpret(ctx, plan)
	}
}

func interpretedAll(plans []Plan) []Callable {
	callables := make([]Callable, len(plans))
	for i, p := range plans {
		callables[i] = interpreted(p)
	}
	return callables
}

func interpret(ctx *ResolveContext, plan Plan) (reflect.Value, error) {
	switch n := plan.(type) {
	case *ConstantPlan:
		return constantValue(n), nil
	case *DefaultPlan:
		return reflect.Zero(n.Typ), nil
	case *ArgPlan:
		return argValue(ctx, n)
	case *ConstructPlan:
		fields := make([]Callable, len(n.Fields))
		for i, f := range n.Fields {
			fields[i] = interpreted(f.Value)
		}
		return runConstruct(ctx, n, interpretedAll(n.Args), fields)
	case *InvokePlan:
		return runInvoke(ctx, n)
	case *ScopePlan:
		return runScope(ctx, n, interpreted(n.Inner))
	case *DecoratePlan:
		return runDecorate(ctx, n, interpreted(n.Decorator), interpreted(n.Inner))
	case *FuncPlan:
		return runFunc(ctx, n, interpreted(n.Body))
	case *LazyPlan:
		return runLazy(ctx, n)
	case *CollectionPlan:
		return runCollection(ctx, n, interpretedAll(n.Items))
	case *ManyPlan:
		return runMany(ctx, n)
	case *ConvertPlan:
		inner, err := interpret(ctx, n.Inner)
		if err != nil {
			return reflect.Value{}, err
		}
		return n.Convert(inner), nil
	default:
		return reflect.Value{}, fmt.Errorf("unsupported plan node %T", plan)
	}
}

func (ClosureCompiler) Compile(plan Plan) (Callable, error) {
	return compileNode(plan)
}

func compileAll(plans []Plan) ([]Callable, error) {
	callables := make([]Callable, len(plans))
	for i, p := range plans {
		c, err := compileNode(p)
		if err != nil {
			return nil, err
		}
		callables[i] = c
	}
	return callables, nil
}

func compileNode(plan Plan) (Callable, error) {
	switch n := plan.(type) {
	case *ConstantPlan:
		v := constantValue(n)
		return func(*ResolveContext) (reflect.Value, error) { return v, nil }, nil
	case *DefaultPlan:
		v := reflect.Zero(n.Typ)
		return func(*ResolveContext) (reflect.Value, error) { return v, nil }, nil
	case *ArgPlan:
		return func(ctx *ResolveContext) (reflect.Value, error) { return argValue(ctx, n) }, nil
	case *ConstructPlan:
		args, err := compileAll(n.Args)
		if err != nil {
			return nil, err
		}
		fields := make([]Callable, len(n.Fields))
		for i, f := range n.Fields {
			if fields[i], err = compileNode(f.Value); err != nil {
				return nil, err
			}
		}
		return func(ctx *ResolveContext) (reflect.Value, error) {
			return runConstruct(ctx, n, args, fields)
		}, nil
	case *InvokePlan:
		return func(ctx *ResolveContext) (reflect.Value, error) { return runInvoke(ctx, n) }, nil
	case *ScopePlan:
		inner, err := compileNode(n.Inner)
		if err != nil {
			return nil, err
		}
		return func(ctx *ResolveContext) (reflect.Value, error) { return runScope(ctx, n, inner) }, nil
	case *DecoratePlan:
		decorator, err := compileNode(n.Decorator)
		if err != nil {
			return nil, err
		}
		inner, err := compileNode(n.Inner)
		if err != nil {
			return nil, err
		}
		return func(ctx *ResolveContext) (reflect.Value, error) {
			return runDecorate(ctx, n, decorator, inner)
		}, nil
	case *FuncPlan:
		body, err := compileNode(n.Body)
		if err != nil {
			return nil, err
		}
		return func(ctx *ResolveContext) (reflect.Value, error) { return runFunc(ctx, n, body) }, nil
	case *LazyPlan:
		return func(ctx *ResolveContext) (reflect.Value, error) { return runLazy(ctx, n) }, nil
	case *CollectionPlan:
		items, err := compileAll(n.Items)
		if err != nil {
			return nil, err
		}
		return func(ctx *ResolveContext) (reflect.Value, error) { return runCollection(ctx, n, items) }, nil
	case *ManyPlan:
		return func(ctx *ResolveContext) (reflect.Value, error) { return runMany(ctx, n) }, nil
	case *ConvertPlan:
		inner, err := compileNode(n.Inner)
		if err != nil {
			return nil, err
		}
		return func(ctx *ResolveContext) (reflect.Value, error) {
			v, err := inner(ctx)
			if err != nil {
				return reflect.Value{}, err
			}
			return n.Convert(v), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported plan node %T", plan)
	}
}

func constantValue(n *ConstantPlan) reflect.Value {
	if !n.Value.IsValid() {
		return reflect.Zero(n.Typ)
	}
	return n.Value
}

func argValue(ctx *ResolveContext, n *ArgPlan) (reflect.Value, error) {
	if n.Index >= len(ctx.args) {
		return reflect.Value{}, fmt.Errorf("missing func argument #%d of type %s", n.Index, n.Typ)
	}
	return ctx.args[n.Index], nil
}

// assignable returns v typed as t, v must be assignable to t.
func assignable(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(t)
	}
	if v.Type() == t {
		return v
	}
	out := reflect.New(t).Elem()
	out.Set(v)
	return out
}

func callFunc(fn reflect.Value, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic calling %s: %v", reflectutils.FuncName(fn), r)
		}
	}()
	return fn.Call(args), nil
}

func runConstruct(ctx *ResolveContext, n *ConstructPlan, args []Callable, fields []Callable) (reflect.Value, error) {
	var v reflect.Value
	if n.Func.IsValid() {
		argValues := make([]reflect.Value, len(args))
		for i, arg := range args {
			argValue, err := arg(ctx)
			if err != nil {
				return reflect.Value{}, err
			}
			argValues[i] = argValue
		}
		out, err := callFunc(n.Func, argValues)
		if err != nil {
			return reflect.Value{}, wrapError(FactoryFailed, n.Request, err, "factory #%d of %s", n.FactoryID, n.Typ)
		}
		if n.ReturnsError && !out[1].IsNil() {
			return reflect.Value{}, wrapError(FactoryFailed, n.Request, out[1].Interface().(error),
				"%s returned an error", reflectutils.FuncName(n.Func))
		}
		v = out[0]
	} else {
		v = reflect.New(n.Typ.Elem())
	}

	if len(fields) == 0 {
		return v, nil
	}
	target := reflectutils.Deref(v)
	if target.Kind() != reflect.Struct || !target.CanSet() {
		return reflect.Value{}, newError(FactoryFailed, n.Request, "cannot inject fields into %s", v.Type())
	}
	for i, field := range fields {
		fieldValue, err := field(ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		dst := target.FieldByIndex(n.Fields[i].Index)
		dst.Set(assignable(fieldValue, dst.Type()))
	}
	return v, nil
}

func runInvoke(ctx *ResolveContext, n *InvokePlan) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(FactoryFailed, n.Request, "panic calling delegate #%d of %s: %v", n.FactoryID, n.Typ, r)
		}
	}()
	instance, err := n.Delegate(ctx.container)
	if err != nil {
		return reflect.Value{}, wrapError(FactoryFailed, n.Request, err, "delegate #%d of %s returned an error", n.FactoryID, n.Typ)
	}
	v = reflect.ValueOf(instance)
	if !v.IsValid() {
		return reflect.Zero(n.Typ), nil
	}
	if !v.Type().AssignableTo(n.Typ) {
		return reflect.Value{}, newError(FactoryFailed, n.Request, "delegate #%d returned %s, not assignable to %s", n.FactoryID, v.Type(), n.Typ)
	}
	return v, nil
}

func runScope(ctx *ResolveContext, n *ScopePlan, inner Callable) (reflect.Value, error) {
	var scope *Scope
	switch n.Kind {
	case SingletonScope:
		scope = ctx.container.core.singletons
	case CurrentScope:
		scope = ctx.container.scope
		if scope == nil {
			return reflect.Value{}, newError(NoCurrentScope, n.Request, "%s is scoped but no scope is open", n.Type())
		}
	case NamedScope:
		scope = ctx.container.scope.find(n.Names)
		if scope == nil {
			return reflect.Value{}, newError(NoMatchedScopeFound, n.Request, "%s is scoped to %v but no such scope is open", n.Type(), n.Names)
		}
	case ResolutionScope:
		var err error
		if scope, err = ctx.resolutionScope(); err != nil {
			return reflect.Value{}, err
		}
	case TrackedTransient:
		v, err := inner(ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		if err := ctx.container.ownScope().Track(v); err != nil {
			return reflect.Value{}, attachRequest(err, n.Request)
		}
		return v, nil
	}
	key := n.Key()
	if ctx.creating.includes(scope, key) {
		return reflect.Value{}, newError(RecursiveDependencyDetected, n.Request,
			"%s is needed while it is being created in scope %s", n.Type(), scope)
	}
	v, err := scope.GetOrAdd(key, func() (reflect.Value, error) {
		c := &creation{scope: scope, key: key, parent: ctx.creating}
		defer c.done.Store(true)
		return inner(ctx.building(c))
	})
	return v, attachRequest(err, n.Request)
}

// attachRequest sets req on a ResolutionError raised without one.
func attachRequest(err error, req *Request) error {
	var re *ResolutionError
	if errors.As(err, &re) && re.Request == nil {
		re.Request = req
	}
	return err
}

func runDecorate(ctx *ResolveContext, n *DecoratePlan, decorator, inner Callable) (reflect.Value, error) {
	d, err := decorator(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	if d.IsNil() {
		return reflect.Value{}, newError(FactoryFailed, n.Request, "decorator #%d is a nil function", n.FactoryID)
	}
	v, err := inner(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	out, err := callFunc(d, []reflect.Value{assignable(v, d.Type().In(0))})
	if err != nil {
		return reflect.Value{}, wrapError(FactoryFailed, n.Request, err, "decorator #%d", n.FactoryID)
	}
	return out[0], nil
}

// runFunc builds the function value. A func without error result panics with
// the resolution error, there is no other way to report it.
func runFunc(ctx *ResolveContext, n *FuncPlan, body Callable) (reflect.Value, error) {
	outType := n.Typ.Out(0)
	return reflect.MakeFunc(n.Typ, func(args []reflect.Value) []reflect.Value {
		v, err := body(ctx.withArgs(args))
		if n.ReturnsError {
			errValue := reflect.Zero(errorType)
			if err != nil {
				errValue = reflect.ValueOf(&err).Elem()
				v = reflect.Zero(outType)
			}
			return []reflect.Value{assignable(v, outType), errValue}
		}
		if err != nil {
			panic(err)
		}
		return []reflect.Value{assignable(v, outType)}
	}), nil
}

func runLazy(ctx *ResolveContext, n *LazyPlan) (reflect.Value, error) {
	c := ctx.container
	lazy := reflect.Zero(n.Typ).Interface().(lazyWrapper)
	creating := ctx.creating
	return reflect.ValueOf(lazy.newLazy(func() (reflect.Value, error) {
		v, _, err := c.tryResolveIn(creating, n.ServiceType, n.Key, n.IfUnresolved)
		return v, err
	})), nil
}

func runCollection(ctx *ResolveContext, n *CollectionPlan, items []Callable) (reflect.Value, error) {
	s := reflect.MakeSlice(n.Typ, 0, len(items))
	elemType := n.Typ.Elem()
	for _, item := range items {
		v, err := item(ctx)
		if err != nil {
			return reflect.Value{}, err
		}
		s = reflect.Append(s, assignable(v, elemType))
	}
	return s, nil
}

func runMany(ctx *ResolveContext, n *ManyPlan) (reflect.Value, error) {
	many := reflect.Zero(n.Typ).Interface().(manyWrapper)
	return reflect.ValueOf(many.newMany(ctx.container)), nil
}
