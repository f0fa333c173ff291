package scanner

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func Test_parseProperties(t *testing.T) {
	t.Run("it should parse simple key=value properties", func(t *testing.T) {
		// GIVEN
		line := "@provider named=foo priority=10"

		// WHEN
		result := parseProperties(line, providerAnnotationTag)

		// THEN
		assert.Equal(t, "foo", result["named"])
		assert.Equal(t, "10", result["priority"])
	})

	t.Run("it should parse quoted values", func(t *testing.T) {
		// GIVEN
		line := `@provider named="hello world" reuse=singleton`

		// WHEN
		result := parseProperties(line, providerAnnotationTag)

		// THEN
		assert.Equal(t, "hello world", result["named"])
		assert.Equal(t, "singleton", result["reuse"])
	})

	t.Run("it should return empty map for empty content", func(t *testing.T) {
		// WHEN
		result := parseProperties("@provider", providerAnnotationTag)

		// THEN
		assert.Empty(t, result)
	})
}

func Test_parseWhenAnnotation(t *testing.T) {
	t.Run("it should parse equals condition", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()
		line := `@when named="ENV" equals="production"`

		// WHEN
		result, err := parseWhenAnnotation(&logger, line)

		// THEN
		assert.NoError(t, err)
		assert.Equal(t, When{Named: "ENV", Operator: "equals", Value: "production"}, result)
	})

	t.Run("it should parse not_equals condition", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()
		line := `@when named="DEBUG" not_equals="true"`

		// WHEN
		result, err := parseWhenAnnotation(&logger, line)

		// THEN
		assert.NoError(t, err)
		assert.Equal(t, When{Named: "DEBUG", Operator: "not_equals", Value: "true"}, result)
	})

	t.Run("it should return error for missing named property", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()

		// WHEN
		_, err := parseWhenAnnotation(&logger, `@when equals="production"`)

		// THEN
		assert.ErrorContains(t, err, "missing 'named' property")
	})

	t.Run("it should return error for missing operator", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()

		// WHEN
		_, err := parseWhenAnnotation(&logger, `@when named="ENV"`)

		// THEN
		assert.ErrorContains(t, err, "missing 'equals' or 'not_equals'")
	})
}

func Test_parseDocAnnotation(t *testing.T) {
	t.Run("it should separate description, properties and conditions", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()
		doc := `NewCache builds the cache.
It is shared.
@provider named="cache" priority=3
@when named="CACHE" equals="on"
@when named="broken"
`

		// WHEN
		annotation := parseDocAnnotation(&logger, doc, providerAnnotationTag)

		// THEN
		assert.Equal(t, "NewCache builds the cache.\nIt is shared.", annotation.description)
		assert.Equal(t, "cache", annotation.named())
		assert.Equal(t, 3, annotation.order())
		assert.Equal(t, []When{{Named: "CACHE", Operator: "equals", Value: "on"}}, annotation.conditions)
	})

	t.Run("it should ignore an invalid priority", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()

		// WHEN
		annotation := parseDocAnnotation(&logger, "@decorator priority=high", decoratorAnnotationTag)

		// THEN
		assert.Equal(t, 0, annotation.order())
	})
}

func Test_parseInjectAnnotation(t *testing.T) {
	t.Run("it should parse named and optional", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()

		// WHEN
		inject := parseInjectAnnotation(&logger, `// @inject named="primary" optional=true`)

		// THEN
		assert.Equal(t, Inject{Named: "primary", Optional: true}, inject)
	})

	t.Run("it should return an empty injection for a plain comment", func(t *testing.T) {
		// GIVEN
		logger := zerolog.Nop()

		// WHEN
		inject := parseInjectAnnotation(&logger, "// the store")

		// THEN
		assert.Equal(t, Inject{}, inject)
	})
}
