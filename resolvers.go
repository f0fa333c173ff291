package plandi

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/a-peyrard/plandi/fn"
	"github.com/a-peyrard/plandi/option"
	"github.com/a-peyrard/plandi/reflectutils"
	"github.com/a-peyrard/plandi/structs"
)

type (
	// ConfigFieldResolver serves the fields of a registered *C config struct, keyed
	// by their path prefixed with the struct name: the field Port of ServerConfig
	// resolves with ResolveNamed[int](c, "ServerConfig.Port").
	ConfigFieldResolver[C any] struct {
		once          sync.Once
		prefix        string
		fieldWithType map[string]reflect.Type
	}

	// EnvResolver serves environment variables as strings keyed by their name.
	EnvResolver struct{}

	// ConcreteTypeResolver serves unregistered struct pointer types, allocated and
	// filled through their inject tagged fields, as transients.
	ConcreteTypeResolver struct{}
)

func (r *ConfigFieldResolver[C]) CanResolve(req *Request) bool {
	r.loadFieldsIfNeeded()

	name, ok := req.key.(string)
	if !ok {
		return false
	}
	fieldTyp, found := r.fieldWithType[name]
	return found && matchType(req.serviceType, fieldTyp)
}

func (r *ConfigFieldResolver[C]) FactoryFor(req *Request) (Factory, []option.Option[RegisterOptions], error) {
	path := strings.TrimPrefix(req.key.(string), r.prefix)
	serviceType := req.serviceType
	f := NewDelegateFactory(serviceType, func(resolver Resolver) (any, error) {
		cfg, err := Resolve[*C](resolver)
		if err != nil {
			return nil, err
		}
		value, err := structs.Lookup(cfg, path)
		if err != nil {
			return nil, err
		}
		if !value.Type().AssignableTo(serviceType) {
			// the value is not the expected type, return an error
			return nil, fmt.Errorf("field %s has type %v, expected %v", path, value.Type(), serviceType)
		}
		return value.Interface(), nil
	}, &RegisterOptions{reuse: Transient, description: "config field " + req.key.(string)})
	return f, []option.Option[RegisterOptions]{Keyed(req.key)}, nil
}

func (r *ConfigFieldResolver[C]) loadFieldsIfNeeded() {
	r.once.Do(func() {
		emptyConfig := new(C)
		// fields are prefixed by the config struct name, "TestConfig.Port" for the
		// field Port of the struct TestConfig
		r.prefix = reflect.TypeOf(emptyConfig).Elem().Name() + "."

		r.fieldWithType = make(map[string]reflect.Type)
		reflectutils.WalkStruct(
			emptyConfig,
			fn.AllTriConsumer(
				reflectutils.CreateNilStructs,
				func(_ reflect.Value, fieldTyp reflect.Type, path []string) {
					if len(path) > 0 {
						r.fieldWithType[r.prefix+strings.Join(path, ".")] = fieldTyp
					}
				},
			),
		)
	})
}

func (EnvResolver) CanResolve(req *Request) bool {
	name, ok := req.key.(string)
	if !ok || name == "" || req.serviceType != stringType {
		return false
	}
	_, found := os.LookupEnv(name)
	return found
}

func (EnvResolver) FactoryFor(req *Request) (Factory, []option.Option[RegisterOptions], error) {
	name := req.key.(string)
	f, err := NewInstanceFactory(os.Getenv(name), &RegisterOptions{description: "environment variable " + name})
	if err != nil {
		return nil, nil, err
	}
	return f, []option.Option[RegisterOptions]{Named(name)}, nil
}

func (ConcreteTypeResolver) CanResolve(req *Request) bool {
	return req.key == nil && reflectutils.IsStructPointer(req.serviceType)
}

func (ConcreteTypeResolver) FactoryFor(req *Request) (Factory, []option.Option[RegisterOptions], error) {
	f, err := NewStructFactory(req.serviceType, &RegisterOptions{reuse: Transient})
	if err != nil {
		return nil, nil, err
	}
	return f, nil, nil
}

// ConfigField returns a constructor of the value at path in the *C config, to
// register a single setting: c.Register(ConfigField[AppConfig, int]("Http.Port"), Named("port")).
func ConfigField[C any, T any](path string) func(cfg *C) (T, error) {
	return func(cfg *C) (v T, err error) {
		raw, err := structs.Get(cfg, path)
		if err != nil {
			return v, fmt.Errorf("unable to get value from config %T:\n\t%w", cfg, err)
		}
		value, ok := raw.(T)
		if !ok {
			return v, fmt.Errorf("config value at %s is %T, not %s", path, raw, TypeOf[T]())
		}
		return value, nil
	}
}
