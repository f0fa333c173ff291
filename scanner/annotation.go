package scanner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/a-peyrard/plandi/slices"
	"github.com/rs/zerolog"
)

const (
	providerAnnotationTag  = "@provider"
	decoratorAnnotationTag = "@decorator"
	whenAnnotationTag      = "@when"
	injectAnnotationTag    = "@inject"
	configAnnotationTag    = "@config"
)

// Kind tells what an annotation registers.
type Kind int

const (
	ProviderKind Kind = iota
	DecoratorKind
	ConfigKind
)

func (k Kind) String() string {
	switch k {
	case ProviderKind:
		return "provider"
	case DecoratorKind:
		return "decorator"
	case ConfigKind:
		return "config"
	default:
		return "unknown"
	}
}

type (
	// Annotation is one registration found in the sources: a function annotated
	// with @provider or @decorator, or a struct annotated with @config.
	Annotation struct {
		Kind Kind
		// Implementation is the qualified name of the function or struct,
		// "github.com/acme/app/services.NewCache".
		Implementation string
		// ServiceType is the first result type of the function as written in the
		// sources, the struct name for configs.
		ServiceType string
		Key         string
		Reuse       string
		Order       int
		Description string
		// Dependencies has one entry per parameter of the function.
		Dependencies []Inject
		Conditions   []When
		Position     string
	}

	// Inject is the @inject annotation of a parameter.
	Inject struct {
		Named    string
		Optional bool
	}

	// When is a @when annotation: the registration holds when the string named
	// Named equals (or not) Value.
	When struct {
		Named    string
		Operator string
		Value    string
	}

	docAnnotation struct {
		logger      *zerolog.Logger
		description string
		properties  map[string]string
		conditions  []When
	}
)

func (a Annotation) String() string {
	return fmt.Sprintf(
		`%s: %s
Service: %s
Key: %s
Reuse: %s
Order: %d
Description: %s
Dependencies: [%s]`,
		a.Kind,
		a.Implementation,
		a.ServiceType,
		a.Key,
		a.Reuse,
		a.Order,
		a.Description,
		strings.Join(slices.Map(a.Dependencies, Inject.String), ", "),
	)
}

func (i Inject) String() string {
	return fmt.Sprintf("Inject(named=%q optional=%t)", i.Named, i.Optional)
}

func (d docAnnotation) named() string {
	return d.properties["named"]
}

func (d docAnnotation) reuse() string {
	return d.properties["reuse"]
}

func (d docAnnotation) order() int {
	raw, exists := d.properties["priority"]
	if !exists {
		raw, exists = d.properties["order"]
	}
	if !exists {
		return 0
	}
	order, err := strconv.Atoi(raw)
	if err != nil {
		d.logger.Warn().Msgf("Error parsing priority property: %s, skipping it", raw)
		return 0
	}
	return order
}

var knownProperties = []string{"named", "priority", "order", "reuse", "prefix"}

func (d docAnnotation) unknownProperties() []string {
	return slices.Filter(mapKeys(d.properties), func(key string) bool {
		return !contains(knownProperties, key)
	})
}

// parseDocAnnotation reads the doc of a declaration: the tag line, the @when
// lines, and the remaining lines as description.
func parseDocAnnotation(logger *zerolog.Logger, docText string, tag string) docAnnotation {
	var (
		descriptionLines []string
		tagLine          string
		conditions       []When
	)
	for _, line := range strings.Split(docText, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, tag):
			tagLine = line
		case strings.HasPrefix(line, whenAnnotationTag):
			when, err := parseWhenAnnotation(logger, line)
			if err != nil {
				logger.Warn().Err(err).Msg("Skipping invalid condition")
				continue
			}
			conditions = append(conditions, when)
		case line != "" && !strings.HasPrefix(line, "@"):
			descriptionLines = append(descriptionLines, line)
		}
	}

	annotation := docAnnotation{
		logger:      logger,
		description: strings.TrimSpace(strings.Join(descriptionLines, "\n")),
		properties:  parseProperties(tagLine, tag),
		conditions:  conditions,
	}
	if unknown := annotation.unknownProperties(); len(unknown) > 0 {
		logger.Warn().Strs("properties", unknown).Msg("Ignoring unknown properties")
	}
	return annotation
}

// key=value or key="value"
var propertyPattern = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|(\w+))`)

func parseProperties(line string, tag string) map[string]string {
	properties := make(map[string]string)

	content := strings.TrimSpace(strings.TrimPrefix(line, tag))
	if content == "" {
		return properties
	}

	for _, match := range propertyPattern.FindAllStringSubmatch(content, -1) {
		// match[2] is quoted value, match[3] is unquoted value
		value := match[2]
		if value == "" {
			value = match[3]
		}
		properties[match[1]] = value
	}
	return properties
}

func parseWhenAnnotation(_ *zerolog.Logger, line string) (When, error) {
	properties := parseProperties(line, whenAnnotationTag)

	named, found := properties["named"]
	if !found || named == "" {
		return When{}, fmt.Errorf("invalid condition %q: missing 'named' property", line)
	}
	for _, operator := range []string{"equals", "not_equals"} {
		if value, found := properties[operator]; found {
			return When{Named: named, Operator: operator, Value: value}, nil
		}
	}
	return When{}, fmt.Errorf("invalid condition %q: missing 'equals' or 'not_equals' property", line)
}

func parseInjectAnnotation(logger *zerolog.Logger, comment string) Inject {
	content := strings.TrimSpace(strings.TrimPrefix(comment, "//"))
	if !strings.HasPrefix(content, injectAnnotationTag) {
		return Inject{}
	}

	properties := parseProperties(content, injectAnnotationTag)
	inject := Inject{Named: properties["named"]}
	if raw, found := properties["optional"]; found {
		optional, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("Error parsing optional, not a correct bool")
		}
		inject.Optional = optional
	}
	return inject
}

func mapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
