package plandi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/a-peyrard/plandi/reflectutils"
)

// Plan is a node of a construction plan. Plans are built once per service and
// turned into a Callable by a Compiler.
type Plan interface {
	// Type returns the type of the value produced by the plan.
	Type() reflect.Type
	String() string
	children() []Plan
}

// ScopeKind tells which scope a ScopePlan reads through.
type ScopeKind int

const (
	SingletonScope ScopeKind = iota
	CurrentScope
	NamedScope
	ResolutionScope
	// TrackedTransient runs the inner plan every time and hands disposable results
	// to the current scope.
	TrackedTransient
)

func (k ScopeKind) String() string {
	switch k {
	case SingletonScope:
		return "singleton"
	case CurrentScope:
		return "current"
	case NamedScope:
		return "named"
	case ResolutionScope:
		return "resolution"
	case TrackedTransient:
		return "tracked"
	default:
		return fmt.Sprintf("scope(%d)", int(k))
	}
}

type (
	// ConstantPlan yields an already built value.
	ConstantPlan struct {
		Typ   reflect.Type
		Value reflect.Value
	}

	// DefaultPlan yields the zero value of its type.
	DefaultPlan struct {
		Typ reflect.Type
	}

	// ArgPlan yields an argument of the enclosing FuncPlan.
	ArgPlan struct {
		Typ   reflect.Type
		Index int
	}

	// ConstructPlan calls a constructor, or allocates a struct when Func is not
	// valid, then sets the injected fields.
	ConstructPlan struct {
		FactoryID    int
		Request      *Request
		Typ          reflect.Type
		Func         reflect.Value
		ReturnsError bool
		Args         []Plan
		Fields       []FieldPlan
	}

	FieldPlan struct {
		Name  string
		Index []int
		Value Plan
	}

	// InvokePlan calls a delegate with the resolver of the current scope.
	InvokePlan struct {
		FactoryID int
		Request   *Request
		Typ       reflect.Type
		Delegate  func(Resolver) (any, error)
	}

	// ScopePlan reads the value of Inner through a scope, building it at most once per scope.
	// A decorator layer sets DecoratedID, the factory it decorates.
	ScopePlan struct {
		FactoryID   int
		DecoratedID int
		Request     *Request
		Kind        ScopeKind
		Names       []any
		Lifespan    int
		Inner       Plan
	}

	// ScopeKey identifies the value of a ScopePlan within a scope.
	ScopeKey struct {
		FactoryID   int
		DecoratedID int
	}

	// DecoratePlan applies the func(T) T produced by Decorator to the value of Inner.
	DecoratePlan struct {
		FactoryID int
		Request   *Request
		Decorator Plan
		Inner     Plan
	}

	// FuncPlan builds a function returning the value of Body, its arguments being
	// available to Body through ArgPlan nodes.
	FuncPlan struct {
		Typ          reflect.Type
		Body         Plan
		ReturnsError bool
	}

	// LazyPlan builds a Lazy resolving ServiceType on first access.
	LazyPlan struct {
		Typ          reflect.Type
		ServiceType  reflect.Type
		Key          any
		IfUnresolved IfUnresolved
	}

	// CollectionPlan builds a slice from its items.
	CollectionPlan struct {
		Typ   reflect.Type
		Items []Plan
	}

	// ManyPlan builds a Many enumerating the registrations when iterated.
	ManyPlan struct {
		Typ         reflect.Type
		ServiceType reflect.Type
	}

	// ConvertPlan maps the value of Inner, used by Meta and KeyValue wrappers.
	ConvertPlan struct {
		Typ     reflect.Type
		Inner   Plan
		Convert func(reflect.Value) reflect.Value
		Label   string
	}
)

func (p *ConstantPlan) Type() reflect.Type   { return p.Typ }
func (p *DefaultPlan) Type() reflect.Type    { return p.Typ }
func (p *ArgPlan) Type() reflect.Type        { return p.Typ }
func (p *ConstructPlan) Type() reflect.Type  { return p.Typ }
func (p *InvokePlan) Type() reflect.Type     { return p.Typ }
func (p *ScopePlan) Type() reflect.Type      { return p.Inner.Type() }
func (p *DecoratePlan) Type() reflect.Type   { return p.Inner.Type() }
func (p *FuncPlan) Type() reflect.Type       { return p.Typ }
func (p *LazyPlan) Type() reflect.Type       { return p.Typ }
func (p *CollectionPlan) Type() reflect.Type { return p.Typ }
func (p *ManyPlan) Type() reflect.Type       { return p.Typ }
func (p *ConvertPlan) Type() reflect.Type    { return p.Typ }

func (p *ConstantPlan) children() []Plan { return nil }
func (p *DefaultPlan) children() []Plan  { return nil }
func (p *ArgPlan) children() []Plan      { return nil }
func (p *InvokePlan) children() []Plan   { return nil }
func (p *LazyPlan) children() []Plan     { return nil }
func (p *ManyPlan) children() []Plan     { return nil }

func (p *ConstructPlan) children() []Plan {
	nodes := make([]Plan, 0, len(p.Args)+len(p.Fields))
	nodes = append(nodes, p.Args...)
	for _, f := range p.Fields {
		nodes = append(nodes, f.Value)
	}
	return nodes
}

func (p *ScopePlan) children() []Plan      { return []Plan{p.Inner} }
func (p *DecoratePlan) children() []Plan   { return []Plan{p.Decorator, p.Inner} }
func (p *FuncPlan) children() []Plan       { return []Plan{p.Body} }
func (p *CollectionPlan) children() []Plan { return p.Items }
func (p *ConvertPlan) children() []Plan    { return []Plan{p.Inner} }

func (p *ConstantPlan) String() string { return fmt.Sprintf("constant(%s)", p.Typ) }
func (p *DefaultPlan) String() string  { return fmt.Sprintf("default(%s)", p.Typ) }
func (p *ArgPlan) String() string      { return fmt.Sprintf("arg#%d(%s)", p.Index, p.Typ) }

func (p *ConstructPlan) String() string {
	parts := make([]string, 0, len(p.Args)+len(p.Fields))
	for _, a := range p.Args {
		parts = append(parts, a.String())
	}
	for _, f := range p.Fields {
		parts = append(parts, f.Name+"="+f.Value.String())
	}
	if p.Func.IsValid() {
		return fmt.Sprintf("%s(%s)", reflectutils.FuncName(p.Func), strings.Join(parts, ", "))
	}
	return fmt.Sprintf("&%s{%s}", p.Typ.Elem(), strings.Join(parts, ", "))
}

func (p *InvokePlan) String() string { return fmt.Sprintf("delegate#%d(%s)", p.FactoryID, p.Typ) }

func (p *ScopePlan) String() string {
	if p.DecoratedID != 0 {
		return fmt.Sprintf("%s#%d/%d{%s}", p.Kind, p.FactoryID, p.DecoratedID, p.Inner)
	}
	return fmt.Sprintf("%s#%d{%s}", p.Kind, p.FactoryID, p.Inner)
}

// Key returns the key of the value in its scope.
func (p *ScopePlan) Key() ScopeKey {
	return ScopeKey{FactoryID: p.FactoryID, DecoratedID: p.DecoratedID}
}

func (p *DecoratePlan) String() string {
	return fmt.Sprintf("%s(%s)", p.Decorator, p.Inner)
}

func (p *FuncPlan) String() string {
	return fmt.Sprintf("func{%s}", p.Body)
}

func (p *LazyPlan) String() string {
	return fmt.Sprintf("lazy(%s)", p.ServiceType)
}

func (p *CollectionPlan) String() string {
	parts := make([]string, len(p.Items))
	for i, item := range p.Items {
		parts[i] = item.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

func (p *ManyPlan) String() string {
	return fmt.Sprintf("many(%s)", p.ServiceType)
}

func (p *ConvertPlan) String() string {
	return fmt.Sprintf("%s(%s)", p.Label, p.Inner)
}

// planFacts walks a plan and returns the factory ids it uses and the shortest
// reuse lifespan read through a scope, MaxInt when none.
func planFacts(plan Plan) (ids []int, minLifespan int) {
	minLifespan = int(^uint(0) >> 1)
	var walk func(p Plan)
	walk = func(p Plan) {
		switch n := p.(type) {
		case *ConstructPlan:
			ids = append(ids, n.FactoryID)
		case *InvokePlan:
			ids = append(ids, n.FactoryID)
		case *ScopePlan:
			ids = append(ids, n.FactoryID)
			if n.Lifespan > 0 && n.Lifespan < minLifespan {
				minLifespan = n.Lifespan
			}
		case *DecoratePlan:
			ids = append(ids, n.FactoryID)
		}
		for _, c := range p.children() {
			walk(c)
		}
	}
	walk(plan)
	return ids, minLifespan
}
