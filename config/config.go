// Package config loads typed configuration structs from the environment, .env files
// and config files, using viper.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/a-peyrard/plandi/fn"
	"github.com/a-peyrard/plandi/option"
	"github.com/a-peyrard/plandi/reflectutils"
	"github.com/a-peyrard/plandi/str"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Options struct {
		prefix     string
		dotEnv     []string
		configFile string
	}

	// WithDefault is implemented by config structs (or nested structs) that fill
	// their own defaults once loaded.
	WithDefault interface {
		ApplyDefault()
	}
)

// WithEnvPrefix sets the prefix of every environment variable, e.g. "APP" reads APP_PORT.
func WithEnvPrefix(prefix string) option.Option[Options] {
	return func(opts *Options) {
		opts.prefix = prefix
	}
}

// WithDotEnv loads the given .env files into the environment before reading it.
// Variables already set in the environment are not overridden.
func WithDotEnv(files ...string) option.Option[Options] {
	return func(opts *Options) {
		opts.dotEnv = append(opts.dotEnv, files...)
	}
}

// WithConfigFile reads a config file (yaml, json, toml...) underneath the environment.
func WithConfigFile(path string) option.Option[Options] {
	return func(opts *Options) {
		opts.configFile = path
	}
}

// Load builds a T from the configured sources. Nested struct pointers are always
// allocated, and ApplyDefault is called on every part implementing WithDefault.
func Load[T any](opts ...option.Option[Options]) (*T, error) {
	options := option.Build(&Options{}, opts...)

	if len(options.dotEnv) > 0 {
		if err := godotenv.Load(options.dotEnv...); err != nil {
			return nil, fmt.Errorf("unable to load dot env files %v:\n\t%w", options.dotEnv, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(options.prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s:\n\t%w", options.configFile, err)
		}
	}

	var vT T
	bindEnvs(v, options.prefix, reflect.TypeOf(vT))

	if err := v.Unmarshal(&vT); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	withDefaultType := reflect.TypeOf((*WithDefault)(nil)).Elem()
	reflectutils.WalkStruct(
		&vT,
		fn.AllTriConsumer(
			reflectutils.CreateNilStructs,
			func(val reflect.Value, typ reflect.Type, _ []string) {
				if typ.Implements(withDefaultType) && val.IsValid() && !(typ.Kind() == reflect.Pointer && val.IsNil()) {
					val.Interface().(WithDefault).ApplyDefault()
				}
			},
		),
	)

	return &vT, nil
}

func bindEnvs(v *viper.Viper, envPrefix string, typ reflect.Type, parts ...string) {
	if typ.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, ok := field.Tag.Lookup("mapstructure")
		if !ok {
			tag = field.Name
		}

		fieldType := field.Type
		if fieldType.Kind() == reflect.Pointer && fieldType.Elem().Kind() == reflect.Struct {
			fieldType = fieldType.Elem()
		}
		if fieldType.Kind() == reflect.Struct {
			bindEnvs(v, envPrefix, fieldType, append(parts, tag)...)
			continue
		}

		key := strings.Join(append(parts, tag), ".")
		envParts := make([]string, 0, len(parts)+1)
		for _, part := range append(parts, tag) {
			envParts = append(envParts, str.ToScreamingSnakeCase(part))
		}
		_ = v.BindEnv(key, mergeWithEnvPrefix(envPrefix, strings.Join(envParts, "_")))
	}
}

func mergeWithEnvPrefix(envPrefix string, in string) string {
	if envPrefix != "" {
		return strings.ToUpper(envPrefix + "_" + in)
	}

	return strings.ToUpper(in)
}
