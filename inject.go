package plandi

import (
	"fmt"
	"reflect"
	"strings"
)

// Inject is used as a namespace for dependency builders:
//
//	plandi.Dependencies(plandi.Inject.Named("primary"), plandi.Inject.Auto().Optional())
var Inject = &injectBuilder{}

type (
	injectBuilder struct{}

	// Dependency tells how a constructor parameter or a field is resolved.
	Dependency struct {
		key          any
		optional     bool
		hasDefault   bool
		defaultValue reflect.Value
		asType       reflect.Type
	}
)

// Auto resolves the dependency by its type.
func (i *injectBuilder) Auto() Dependency {
	return Dependency{}
}

// Named resolves the registration having the given name.
func (i *injectBuilder) Named(name string) Dependency {
	return Dependency{key: name}
}

// Keyed resolves the registration having the given key.
func (i *injectBuilder) Keyed(key any) Dependency {
	return Dependency{key: key}
}

// Optional injects the zero value when the dependency is not resolvable.
func (i *injectBuilder) Optional() Dependency {
	return Dependency{optional: true}
}

// Default injects value when the dependency is not resolvable.
func (i *injectBuilder) Default(value any) Dependency {
	return Dependency{}.Default(value)
}

func (d Dependency) Named(name string) Dependency {
	d.key = name
	return d
}

func (d Dependency) Keyed(key any) Dependency {
	d.key = key
	return d
}

func (d Dependency) Optional() Dependency {
	d.optional = true
	return d
}

func (d Dependency) Default(value any) Dependency {
	d.hasDefault = true
	d.defaultValue = reflect.ValueOf(value)
	return d
}

// As resolves t instead of the parameter type, t must be assignable to the parameter.
func (d Dependency) As(t reflect.Type) Dependency {
	d.asType = t
	return d
}

func (d Dependency) String() string {
	var parts []string
	if d.asType != nil {
		parts = append(parts, "as "+d.asType.String())
	}
	if d.key != nil {
		parts = append(parts, "key "+describeKey(d.key))
	}
	if d.optional {
		parts = append(parts, "optional")
	}
	if d.hasDefault {
		parts = append(parts, fmt.Sprintf("default %v", d.defaultValue))
	}
	if len(parts) == 0 {
		return "auto"
	}
	return strings.Join(parts, ", ")
}

func (d Dependency) validate(target reflect.Type) error {
	if d.asType != nil && !d.asType.AssignableTo(target) {
		return fmt.Errorf("%s is not assignable to %s", d.asType, target)
	}
	if d.hasDefault && d.defaultValue.IsValid() && !d.defaultValue.Type().AssignableTo(target) {
		return fmt.Errorf("default value of type %s is not assignable to %s", d.defaultValue.Type(), target)
	}
	if d.key != nil && !reflect.TypeOf(d.key).Comparable() {
		return fmt.Errorf("key of type %T is not comparable", d.key)
	}
	return nil
}

// plan builds the plan of the dependency filling target below parent.
func (d Dependency) plan(parent *Request, b PlanBuilder, target reflect.Type, info DependencyInfo) (Plan, error) {
	serviceType := target
	if d.asType != nil {
		serviceType = d.asType
	}
	ifUnresolved := Throw
	if d.optional || d.hasDefault {
		ifUnresolved = ReturnDefault
	}

	child := parent.Push(serviceType, d.key, info, ifUnresolved)
	if serviceType != target {
		child = child.withRequiredType(target)
	}
	plan, err := b.Build(child)
	if err != nil {
		return nil, err
	}
	if _, unresolved := plan.(*DefaultPlan); unresolved {
		if d.hasDefault {
			return &ConstantPlan{Typ: target, Value: d.defaultValue}, nil
		}
		return &DefaultPlan{Typ: target}, nil
	}
	return plan, nil
}

type fieldSpec struct {
	name  string
	index []int
	typ   reflect.Type
	dep   Dependency
}

// parseInjectFields reads the fields tagged `inject:"key,optional"` of the struct
// pointed to by t. An empty key resolves by type, "-" skips the field.
func parseInjectFields(t reflect.Type) ([]fieldSpec, error) {
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("field injection needs a struct pointer, got %s", t)
	}
	st := t.Elem()
	var specs []fieldSpec
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		tag, tagged := field.Tag.Lookup("inject")
		if !tagged || tag == "-" {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("field %s.%s is tagged for injection but is not exported", st.Name(), field.Name)
		}

		var dep Dependency
		name, flags, _ := strings.Cut(tag, ",")
		if name = strings.TrimSpace(name); name != "" {
			dep = dep.Named(name)
		}
		for _, flag := range strings.Split(flags, ",") {
			switch strings.TrimSpace(flag) {
			case "":
			case "optional":
				dep = dep.Optional()
			default:
				return nil, fmt.Errorf("unknown inject flag %q on field %s.%s", flag, st.Name(), field.Name)
			}
		}

		specs = append(specs, fieldSpec{
			name:  field.Name,
			index: field.Index,
			typ:   field.Type,
			dep:   dep,
		})
	}
	return specs, nil
}

func fieldPlans(req *Request, b PlanBuilder, specs []fieldSpec) ([]FieldPlan, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	plans := make([]FieldPlan, len(specs))
	for i, spec := range specs {
		plan, err := spec.dep.plan(req, b, spec.typ, DependencyInfo{Kind: FieldDependency, Index: i, Name: spec.name})
		if err != nil {
			return nil, err
		}
		plans[i] = FieldPlan{Name: spec.name, Index: spec.index, Value: plan}
	}
	return plans, nil
}
