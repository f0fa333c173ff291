package reflectutils

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	rootConfig struct {
		Database *databaseConfig
		Name     string
		hidden   *databaseConfig
	}
	databaseConfig struct {
		Host string
		Port int
	}
)

func NewSampleFunction() {}

func TestWalkStruct(t *testing.T) {
	t.Run("it should visit every exported field with its path", func(t *testing.T) {
		// GIVEN
		cfg := &rootConfig{}
		var paths []string

		// WHEN
		WalkStruct(cfg, func(val reflect.Value, typ reflect.Type, path []string) {
			CreateNilStructs(val, typ, path)
			paths = append(paths, strings.Join(path, "."))
		})

		// THEN
		assert.Equal(t, []string{"", "Database", "Database.Host", "Database.Port", "Name"}, paths)
		require.NotNil(t, cfg.Database)
		assert.Nil(t, cfg.hidden)
	})
}

func TestDeref(t *testing.T) {
	t.Run("it should unwrap pointers and interfaces", func(t *testing.T) {
		// GIVEN
		value := 42
		ptr := &value
		var boxed any = &ptr

		// WHEN
		res := Deref(reflect.ValueOf(boxed))

		// THEN
		assert.Equal(t, reflect.Int, res.Kind())
		assert.Equal(t, 42, int(res.Int()))
	})
}

func TestTypePredicates(t *testing.T) {
	t.Run("it should detect struct pointers", func(t *testing.T) {
		assert.True(t, IsStructPointer(reflect.TypeOf(&rootConfig{})))
		assert.False(t, IsStructPointer(reflect.TypeOf(rootConfig{})))
		assert.False(t, IsStructPointer(nil))
	})

	t.Run("it should detect nilable kinds", func(t *testing.T) {
		assert.True(t, IsNilable(reflect.TypeOf([]int{})))
		assert.True(t, IsNilable(reflect.TypeOf((*error)(nil)).Elem()))
		assert.False(t, IsNilable(reflect.TypeOf(1)))
	})
}

func TestFuncName(t *testing.T) {
	t.Run("it should return the package qualified short name", func(t *testing.T) {
		// GIVEN / WHEN
		name := FuncName(reflect.ValueOf(NewSampleFunction))

		// THEN
		assert.Equal(t, "reflectutils.NewSampleFunction", name)
	})

	t.Run("it should handle non functions", func(t *testing.T) {
		assert.Equal(t, "<nil>", FuncName(reflect.ValueOf(1)))
	})
}
