package scanner

import (
	"errors"
	"fmt"

	"github.com/a-peyrard/plandi"
	"github.com/a-peyrard/plandi/option"
)

// Bind turns annotations into registrations for plandi.Container.RegisterMany.
//
// The scanner only sees sources, so the actual functions (and config constructors
// or instances) are given by lookup, indexed by Annotation.Implementation.
func Bind(annotations []Annotation, lookup map[string]any) ([]plandi.Registration, error) {
	var (
		registrations = make([]plandi.Registration, 0, len(annotations))
		errs          []error
	)
	for _, annotation := range annotations {
		registrable, found := lookup[annotation.Implementation]
		if !found {
			errs = append(errs, fmt.Errorf("no implementation given for %s (%s)", annotation.Implementation, annotation.Position))
			continue
		}
		registration, err := bind(annotation, registrable)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid annotation on %s (%s): %w", annotation.Implementation, annotation.Position, err))
			continue
		}
		registrations = append(registrations, registration)
	}
	return registrations, errors.Join(errs...)
}

func bind(annotation Annotation, registrable any) (plandi.Registration, error) {
	var opts []option.Option[plandi.RegisterOptions]

	if annotation.Reuse != "" {
		reuse, err := plandi.ReuseByName(annotation.Reuse)
		if err != nil {
			return plandi.Registration{}, err
		}
		opts = append(opts, plandi.WithReuse(reuse))
	}
	if annotation.Description != "" {
		opts = append(opts, plandi.Description(annotation.Description))
	}
	for _, when := range annotation.Conditions {
		switch when.Operator {
		case "equals":
			opts = append(opts, plandi.When(when.Named).Equals(when.Value))
		case "not_equals":
			opts = append(opts, plandi.When(when.Named).NotEquals(when.Value))
		default:
			return plandi.Registration{}, fmt.Errorf("unknown condition operator %q", when.Operator)
		}
	}

	switch annotation.Kind {
	case ProviderKind:
		opts = append(opts,
			option.If(annotation.Key != "", plandi.Named(annotation.Key)),
			option.If(hasInjections(annotation.Dependencies), plandi.Dependencies(dependencies(annotation.Dependencies)...)),
		)
		return plandi.Registration{Registrable: registrable, Options: opts, Kind: plandi.ServiceFactory}, nil

	case DecoratorKind:
		if key := annotation.Key; key != "" {
			opts = append(opts, plandi.Condition(func(req *plandi.Request) bool {
				return req.Key() == key
			}))
		}
		opts = append(opts,
			plandi.Order(annotation.Order),
			option.If(hasInjections(annotation.Dependencies), plandi.Dependencies(dependencies(annotation.Dependencies)...)),
		)
		return plandi.Registration{Registrable: registrable, Options: opts, Kind: plandi.DecoratorFactory}, nil

	case ConfigKind:
		if annotation.Reuse == "" {
			opts = append(opts, plandi.WithReuse(plandi.Singleton))
		}
		opts = append(opts, option.If(annotation.Key != "", plandi.Named(annotation.Key)))
		return plandi.Registration{Registrable: registrable, Options: opts, Kind: plandi.ServiceFactory}, nil

	default:
		return plandi.Registration{}, fmt.Errorf("unknown annotation kind %s", annotation.Kind)
	}
}

func hasInjections(injects []Inject) bool {
	for _, inject := range injects {
		if inject != (Inject{}) {
			return true
		}
	}
	return false
}

func dependencies(injects []Inject) []plandi.Dependency {
	deps := make([]plandi.Dependency, len(injects))
	for i, inject := range injects {
		dep := plandi.Inject.Auto()
		if inject.Named != "" {
			dep = dep.Named(inject.Named)
		}
		if inject.Optional {
			dep = dep.Optional()
		}
		deps[i] = dep
	}
	return deps
}
