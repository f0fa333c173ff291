package plandi

import (
	"fmt"
	"reflect"
	"strings"
)

// IfUnresolved tells what to do when a service cannot be resolved.
type IfUnresolved int

const (
	// Throw fails the resolution with UnableToResolveUnknownService.
	Throw IfUnresolved = iota
	// ReturnDefault substitutes the zero value when the service, or any required
	// dependency below it, is not resolvable.
	ReturnDefault
	// ReturnDefaultIfNotRegistered substitutes the zero value only when the service
	// itself is not registered, failures of its dependencies are still reported.
	ReturnDefaultIfNotRegistered
)

// DependencyKind tells how a request relates to its parent.
type DependencyKind int

const (
	RootDependency DependencyKind = iota
	ParameterDependency
	FieldDependency
	DecorateeDependency
	WrappedDependency
	CollectionItemDependency
)

// DependencyInfo describes the parameter or field a request fills.
type DependencyInfo struct {
	Kind  DependencyKind
	Index int
	Name  string
}

func (d DependencyInfo) String() string {
	switch d.Kind {
	case ParameterDependency:
		return fmt.Sprintf("parameter #%d", d.Index)
	case FieldDependency:
		return "field " + d.Name
	case DecorateeDependency:
		return "decoratee"
	case WrappedDependency:
		return "wrapped service"
	case CollectionItemDependency:
		return fmt.Sprintf("collection item #%d", d.Index)
	default:
		return "root"
	}
}

type requestFlags uint8

const (
	// set on the service wrapped by a lazy or func wrapper, inherited below it
	flagDeferred requestFlags = 1 << iota
	// set only on the wrapped service itself, where reuse lifespan checks stop
	flagDeferredRoot
	flagCollectionItem
)

// buildState is shared by all the requests of one build.
type buildState struct {
	container *Container
	creating  *creation
	noCache   bool
	noFolding bool
}

// Request is one node of an in-flight resolution. Requests are immutable, a child
// points to its parent up to the root request made by the caller.
type Request struct {
	parent       *Request
	serviceType  reflect.Type
	requiredType reflect.Type
	key          any
	dependency   DependencyInfo
	ifUnresolved IfUnresolved
	flags        requestFlags
	funcArgs     []reflect.Type
	depth        int
	state        *buildState

	factory   Factory
	reuse     Reuse
	decoratee Plan
	// decorated is the factory a decorator request decorates.
	decorated Factory
}

func newRootRequest(serviceType reflect.Type, key any, ifUnresolved IfUnresolved, state *buildState) *Request {
	return &Request{
		serviceType:  serviceType,
		requiredType: serviceType,
		key:          key,
		ifUnresolved: ifUnresolved,
		state:        state,
	}
}

// Parent returns the request depending on this one, nil for the root.
func (r *Request) Parent() *Request { return r.parent }

// ServiceType returns the looked up type.
func (r *Request) ServiceType() reflect.Type { return r.serviceType }

// RequiredType returns the type the consumer needs, the service type unless overridden with Inject.As.
func (r *Request) RequiredType() reflect.Type { return r.requiredType }

// Key returns the service key, nil when unkeyed.
func (r *Request) Key() any { return r.key }

func (r *Request) Dependency() DependencyInfo { return r.dependency }

func (r *Request) IfUnresolved() IfUnresolved { return r.ifUnresolved }

func (r *Request) Depth() int { return r.depth }

// Factory returns the factory this request is bound to, nil before binding.
func (r *Request) Factory() Factory { return r.factory }

// Reuse returns the effective reuse of the bound factory.
func (r *Request) Reuse() Reuse { return r.reuse }

// ImplementationType returns the implementation type of the bound factory.
func (r *Request) ImplementationType() reflect.Type {
	if r.factory == nil {
		return nil
	}
	return r.factory.ImplementationType()
}

// IsDeferred reports whether the request sits below a lazy or func wrapper.
func (r *Request) IsDeferred() bool { return r.flags&flagDeferred != 0 }

// IsCollectionItem reports whether the request resolves one item of a collection.
func (r *Request) IsCollectionItem() bool { return r.flags&flagCollectionItem != 0 }

// OpenGenericDefinition returns the generic definition of the service type if any.
func (r *Request) OpenGenericDefinition() (GenericDefinition, bool) {
	return DefinitionOf(r.serviceType)
}

// Push creates the request for a dependency of r.
func (r *Request) Push(serviceType reflect.Type, key any, dependency DependencyInfo, ifUnresolved IfUnresolved) *Request {
	return &Request{
		parent:       r,
		serviceType:  serviceType,
		requiredType: serviceType,
		key:          key,
		dependency:   dependency,
		ifUnresolved: ifUnresolved,
		flags:        r.flags &^ (flagDeferredRoot | flagCollectionItem),
		funcArgs:     r.funcArgs,
		depth:        r.depth + 1,
		state:        r.state,
	}
}

// PushWrapped creates the request of the service adapted by a wrapper. The key and
// the unresolved policy are inherited from the wrapper request.
func (r *Request) PushWrapped(serviceType reflect.Type, deferred bool, funcArgs ...reflect.Type) *Request {
	child := r.Push(serviceType, r.key, DependencyInfo{Kind: WrappedDependency}, r.ifUnresolved)
	child.flags |= r.flags & flagCollectionItem
	if deferred {
		child.flags |= flagDeferred | flagDeferredRoot
	}
	if len(funcArgs) > 0 {
		child.funcArgs = append(append([]reflect.Type{}, r.funcArgs...), funcArgs...)
	}
	return child
}

func (r *Request) pushItem(serviceType reflect.Type, key any, index int) *Request {
	child := r.Push(serviceType, key, DependencyInfo{Kind: CollectionItemDependency, Index: index}, ReturnDefaultIfNotRegistered)
	child.flags |= flagCollectionItem
	return child
}

func (r *Request) withRequiredType(t reflect.Type) *Request {
	c := *r
	c.requiredType = t
	return &c
}

// resolveTo binds a copy of r to f, failing when f is already being resolved by
// one of the ancestors.
func (r *Request) resolveTo(f Factory, reuse Reuse) (*Request, error) {
	for p := r.parent; p != nil; p = p.parent {
		if p.factory != nil && p.factory.ID() == f.ID() && p.factory.Setup().Kind != WrapperFactory {
			bound := *r
			bound.factory = f
			return nil, newError(RecursiveDependencyDetected, &bound,
				"%s depends on itself through %s", r.serviceType, p.serviceType)
		}
	}
	bound := *r
	bound.factory = f
	bound.reuse = reuse
	return &bound, nil
}

func (r *Request) bindWrapper(f Factory) *Request {
	bound := *r
	bound.factory = f
	return &bound
}

func (r *Request) argIndex() (int, bool) {
	for i := len(r.funcArgs) - 1; i >= 0; i-- {
		if r.funcArgs[i] == r.serviceType {
			return i, true
		}
	}
	return 0, false
}

// nearestReusedAncestor returns the closest ancestor having a non transient reuse,
// stopping at lazy and func wrappers.
func (r *Request) nearestReusedAncestor() *Request {
	for child, p := r, r.parent; p != nil; child, p = p, p.parent {
		if child.flags&flagDeferredRoot != 0 {
			return nil
		}
		if p.reuse != nil && p.reuse.Lifespan() > 0 {
			return p
		}
	}
	return nil
}

func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.serviceType.String())
	if r.requiredType != nil && r.requiredType != r.serviceType {
		fmt.Fprintf(&b, " as %s", r.requiredType)
	}
	if r.key != nil {
		fmt.Fprintf(&b, " with key %s", describeKey(r.key))
	}
	if r.dependency.Kind != RootDependency {
		fmt.Fprintf(&b, " (%s)", r.dependency)
	}
	if r.factory != nil {
		fmt.Fprintf(&b, " from factory #%d", r.factory.ID())
		if impl := r.factory.ImplementationType(); impl != nil && impl != r.serviceType {
			fmt.Fprintf(&b, " of %s", impl)
		}
		if r.reuse != nil {
			fmt.Fprintf(&b, " [%s]", r.reuse.Name())
		}
	}
	return b.String()
}

// Ancestry prints the request chain, innermost first.
func (r *Request) Ancestry() string {
	var b strings.Builder
	for i, p := 0, r; p != nil; i, p = i+1, p.parent {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("\t", i))
			b.WriteString("in ")
		} else {
			b.WriteString("resolving ")
		}
		b.WriteString(p.String())
	}
	return b.String()
}
