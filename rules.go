package plandi

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/a-peyrard/plandi/config"
	"github.com/a-peyrard/plandi/option"
	"github.com/rs/zerolog"
)

type (
	// Rules configure a container, they are fixed once the container is created.
	Rules struct {
		Logger *zerolog.Logger
		// DefaultReuse applies to factories registered without reuse, Transient when nil.
		DefaultReuse Reuse
		// FactorySelector picks among several default registrations of a service, when
		// nil the resolution fails with ExpectedSingleDefaultFactory.
		FactorySelector FactorySelector
		// UnknownServiceResolvers are asked, in order, for the services nothing is registered for.
		UnknownServiceResolvers []UnknownServiceResolver
		Compiler                Compiler
		// EagerSingletonFolding creates singletons while building the plans depending
		// on them, so later resolutions read a constant.
		EagerSingletonFolding                    bool
		ThrowIfDependencyHasShorterReuseLifespan bool
		// TrackDisposableTransients hands disposable transients to the resolving scope.
		TrackDisposableTransients  bool
		ConstructorSelector        ConstructorSelector
		DefaultIfAlreadyRegistered IfAlreadyRegistered
		// ValidationConcurrency bounds the plans Validate builds at once, 0 means unbounded.
		ValidationConcurrency int
	}

	// FactorySelector picks one of the candidate default factories of req.
	FactorySelector func(req *Request, candidates []Factory) (Factory, error)

	// UnknownServiceResolver provides factories for unregistered services. The
	// returned factory is registered, with the returned options, before being used.
	UnknownServiceResolver interface {
		CanResolve(req *Request) bool
		FactoryFor(req *Request) (Factory, []option.Option[RegisterOptions], error)
	}

	// RulesConfig is the part of Rules loadable from the environment or a config file.
	RulesConfig struct {
		LogLevel                  string `mapstructure:"log_level"`
		DefaultReuse              string `mapstructure:"default_reuse"`
		FactorySelector           string `mapstructure:"factory_selector"`
		Compiler                  string `mapstructure:"compiler"`
		DisableSingletonFolding   bool   `mapstructure:"disable_singleton_folding"`
		DisableLifespanCheck      bool   `mapstructure:"disable_lifespan_check"`
		TrackDisposableTransients bool   `mapstructure:"track_disposable_transients"`
		IfAlreadyRegistered       string `mapstructure:"if_already_registered"`
		ValidationConcurrency     int    `mapstructure:"validation_concurrency"`
	}
)

// PickLastDefault selects the latest default registration.
func PickLastDefault(_ *Request, candidates []Factory) (Factory, error) {
	return candidates[len(candidates)-1], nil
}

// PickFirstDefault selects the earliest default registration.
func PickFirstDefault(_ *Request, candidates []Factory) (Factory, error) {
	return candidates[0], nil
}

func defaultRules() *Rules {
	nop := zerolog.Nop()
	return &Rules{
		Logger:                                   &nop,
		Compiler:                                 Interpreter{},
		EagerSingletonFolding:                    true,
		ThrowIfDependencyHasShorterReuseLifespan: true,
		DefaultIfAlreadyRegistered:               AppendNotKeyed,
	}
}

func WithLogger(logger *zerolog.Logger) option.Option[Rules] {
	return func(r *Rules) {
		r.Logger = logger
	}
}

func WithDefaultReuse(reuse Reuse) option.Option[Rules] {
	return func(r *Rules) {
		r.DefaultReuse = reuse
	}
}

func WithFactorySelector(selector FactorySelector) option.Option[Rules] {
	return func(r *Rules) {
		r.FactorySelector = selector
	}
}

// WithUnknownServiceResolvers appends resolvers to the ones already configured.
func WithUnknownServiceResolvers(resolvers ...UnknownServiceResolver) option.Option[Rules] {
	return func(r *Rules) {
		r.UnknownServiceResolvers = append(r.UnknownServiceResolvers, resolvers...)
	}
}

func WithCompiler(compiler Compiler) option.Option[Rules] {
	return func(r *Rules) {
		r.Compiler = compiler
	}
}

func WithoutSingletonFolding() option.Option[Rules] {
	return func(r *Rules) {
		r.EagerSingletonFolding = false
	}
}

func WithoutLifespanCheck() option.Option[Rules] {
	return func(r *Rules) {
		r.ThrowIfDependencyHasShorterReuseLifespan = false
	}
}

func WithTrackDisposableTransients() option.Option[Rules] {
	return func(r *Rules) {
		r.TrackDisposableTransients = true
	}
}

// WithConstructorSelector sets the selector of factories having several constructors
// and none of their own.
func WithConstructorSelector(selector ConstructorSelector) option.Option[Rules] {
	return func(r *Rules) {
		r.ConstructorSelector = selector
	}
}

func WithDefaultIfAlreadyRegistered(policy IfAlreadyRegistered) option.Option[Rules] {
	return func(r *Rules) {
		r.DefaultIfAlreadyRegistered = policy
	}
}

func WithValidationConcurrency(limit int) option.Option[Rules] {
	return func(r *Rules) {
		r.ValidationConcurrency = limit
	}
}

func buildRules(opts ...option.Option[Rules]) *Rules {
	rules := option.Build(defaultRules(), opts...)
	if rules.Logger == nil {
		nop := zerolog.Nop()
		rules.Logger = &nop
	}
	if rules.Compiler == nil {
		rules.Compiler = Interpreter{}
	}
	return rules
}

func (c *RulesConfig) ApplyDefault() {
	if c.LogLevel == "" {
		c.LogLevel = zerolog.InfoLevel.String()
	}
	if c.FactorySelector == "" {
		c.FactorySelector = "throw"
	}
	if c.Compiler == "" {
		c.Compiler = "interpreter"
	}
	if c.IfAlreadyRegistered == "" {
		c.IfAlreadyRegistered = AppendNotKeyed.String()
	}
}

// LoadRules reads a RulesConfig from the PLANDI_ prefixed environment (plus the
// given sources) and converts it, see RulesFromConfig.
func LoadRules(opts ...option.Option[config.Options]) ([]option.Option[Rules], error) {
	cfg, err := config.Load[RulesConfig](append([]option.Option[config.Options]{config.WithEnvPrefix("PLANDI")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("unable to load container rules:\n\t%w", err)
	}
	return RulesFromConfig(cfg)
}

// RulesFromConfig converts cfg into rule options. A console logger is created at
// the configured level, unless the level is "disabled".
func RulesFromConfig(cfg *RulesConfig) ([]option.Option[Rules], error) {
	var opts []option.Option[Rules]

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}
	if level != zerolog.Disabled {
		opts = append(opts, WithLogger(NewConsoleLogger(level)))
	}

	if cfg.DefaultReuse != "" {
		reuse, err := ReuseByName(cfg.DefaultReuse)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDefaultReuse(reuse))
	}

	switch strings.ToLower(cfg.FactorySelector) {
	case "", "throw":
	case "last":
		opts = append(opts, WithFactorySelector(PickLastDefault))
	case "first":
		opts = append(opts, WithFactorySelector(PickFirstDefault))
	default:
		return nil, fmt.Errorf("unknown factory selector %q", cfg.FactorySelector)
	}

	switch strings.ToLower(cfg.Compiler) {
	case "", "interpreter":
	case "closure":
		opts = append(opts, WithCompiler(ClosureCompiler{}))
	default:
		return nil, fmt.Errorf("unknown compiler %q", cfg.Compiler)
	}

	if cfg.IfAlreadyRegistered != "" {
		policy, err := ParseIfAlreadyRegistered(cfg.IfAlreadyRegistered)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithDefaultIfAlreadyRegistered(policy))
	}

	opts = append(opts,
		option.If(cfg.DisableSingletonFolding, WithoutSingletonFolding()),
		option.If(cfg.DisableLifespanCheck, WithoutLifespanCheck()),
		option.If(cfg.TrackDisposableTransients, WithTrackDisposableTransients()),
		WithValidationConcurrency(cfg.ValidationConcurrency),
	)
	return opts, nil
}

// LogLevelFromEnv reads the LOG_LEVEL environment variable, info when unset.
func LogLevelFromEnv() (zerolog.Level, error) {
	levelFromEnv := os.Getenv("LOG_LEVEL")
	if levelFromEnv == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelFromEnv))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %s: %w", levelFromEnv, err)
	}
	return level, nil
}

// NewConsoleLogger creates a human-readable logger writing to stderr.
func NewConsoleLogger(level zerolog.Level) *zerolog.Logger {
	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
	return &logger
}
