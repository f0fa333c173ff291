package plandi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/a-peyrard/plandi/option"
)

// IfAlreadyRegistered decides what happens when a registration meets an existing one.
type IfAlreadyRegistered int

const (
	// AppendNotKeyed appends unkeyed registrations and rejects duplicate keys.
	AppendNotKeyed IfAlreadyRegistered = iota
	// ThrowIfAlreadyRegistered rejects any second registration of a service type and key.
	ThrowIfAlreadyRegistered
	// KeepExisting silently ignores the new registration.
	KeepExisting
	// ReplaceExisting replaces the existing registration(s) and invalidates the caches.
	ReplaceExisting
	// AppendNewImplementation appends unless a default with the same implementation type exists.
	AppendNewImplementation
)

func (p IfAlreadyRegistered) String() string {
	switch p {
	case AppendNotKeyed:
		return "append-not-keyed"
	case ThrowIfAlreadyRegistered:
		return "throw"
	case KeepExisting:
		return "keep"
	case ReplaceExisting:
		return "replace"
	case AppendNewImplementation:
		return "append-new-implementation"
	default:
		return "unknown"
	}
}

// ParseIfAlreadyRegistered maps the names printed by IfAlreadyRegistered.String back to policies.
func ParseIfAlreadyRegistered(name string) (IfAlreadyRegistered, error) {
	for _, p := range []IfAlreadyRegistered{AppendNotKeyed, ThrowIfAlreadyRegistered, KeepExisting, ReplaceExisting, AppendNewImplementation} {
		if strings.EqualFold(strings.TrimSpace(name), p.String()) {
			return p, nil
		}
	}
	return AppendNotKeyed, fmt.Errorf("unknown registration policy %q", name)
}

type (
	// RegisterOptions configures a registration, built from option.Option values.
	RegisterOptions struct {
		key                 any
		serviceTypes        []reflect.Type
		reuse               Reuse
		dependencies        []Dependency
		description         string
		metadata            any
		condition           func(*Request) bool
		order               int
		ifAlreadyRegistered *IfAlreadyRegistered
		fieldInjection      bool
		alternatives        []any
		selector            ConstructorSelector
		cachePolicy         CachePolicy
		conditions          []condition
	}

	// Registration pairs a registrable with its options, see Container.RegisterMany.
	// Kind is ServiceFactory or DecoratorFactory.
	Registration struct {
		Registrable any
		Options     []option.Option[RegisterOptions]
		Kind        FactoryKind
	}
)

// Named registers the service under a string key.
func Named(name string) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.key = name
	}
}

// Keyed registers the service under any comparable key.
func Keyed(key any) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.key = key
	}
}

// Indexed registers the service as the default at index i, replacing any default already there.
func Indexed(i int) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.key = DefaultKey(i)
	}
}

// As registers the service under T instead of the constructor result type.
// Repeat it to register the same factory under several types.
func As[T any]() option.Option[RegisterOptions] {
	return AsType(TypeOf[T]())
}

func AsType(t reflect.Type) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.serviceTypes = append(opts.serviceTypes, t)
	}
}

func WithReuse(reuse Reuse) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.reuse = reuse
	}
}

// Dependencies overrides how constructor parameters are resolved, by position.
// Missing positions are resolved automatically.
func Dependencies(dependencies ...Dependency) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.dependencies = dependencies
	}
}

func Description(description string) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.description = description
	}
}

// Metadata attaches a value to the registration, readable through Meta wrappers.
func Metadata(metadata any) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.metadata = metadata
	}
}

// Condition makes the registration applicable only to requests matching predicate.
func Condition(predicate func(*Request) bool) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.condition = predicate
	}
}

// Order sorts decorators, lower first then by registration order. Defaults to 0.
func Order(order int) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.order = order
	}
}

func WhenAlreadyRegistered(policy IfAlreadyRegistered) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.ifAlreadyRegistered = &policy
	}
}

// WithFieldInjection injects the tagged fields of the constructed struct pointer.
func WithFieldInjection() option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.fieldInjection = true
	}
}

// AlternativeConstructors adds candidate constructors, all returning the same type.
func AlternativeConstructors(constructors ...any) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.alternatives = append(opts.alternatives, constructors...)
	}
}

// SelectConstructor sets how a constructor is chosen among several candidates.
func SelectConstructor(selector ConstructorSelector) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.selector = selector
	}
}

func WithCachePolicy(policy CachePolicy) option.Option[RegisterOptions] {
	return func(opts *RegisterOptions) {
		opts.cachePolicy = policy
	}
}

func (o *RegisterOptions) policy(rules *Rules) IfAlreadyRegistered {
	if o.ifAlreadyRegistered != nil {
		return *o.ifAlreadyRegistered
	}
	return rules.DefaultIfAlreadyRegistered
}

func (o *RegisterOptions) setup(kind FactoryKind) Setup {
	return Setup{
		Kind:        kind,
		CachePolicy: o.cachePolicy,
		Metadata:    o.metadata,
		Condition:   o.condition,
		Order:       o.order,
		Description: o.description,
	}
}
