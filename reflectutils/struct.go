// Package reflectutils gathers reflection helpers.
package reflectutils

import (
	"path/filepath"
	"reflect"
	"runtime"

	"github.com/a-peyrard/plandi/fn"
)

// WalkStruct applies a tri-consumer on all fields and nested fields of a given object.
func WalkStruct[T any](element T, consumer fn.TriConsumer[reflect.Value, reflect.Type, []string]) {
	walkStructInternal(reflect.ValueOf(element), []string{}, consumer)
}

func walkStructInternal(val reflect.Value, path []string, consumer fn.TriConsumer[reflect.Value, reflect.Type, []string]) {
	consumer(val, val.Type(), path)

	val = Deref(val)
	if !val.IsValid() || val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		structField := typ.Field(i)
		if !structField.IsExported() {
			continue
		}
		nested := append(append(make([]string, 0, len(path)+1), path...), structField.Name)
		walkStructInternal(val.Field(i), nested, consumer)
	}
}

// Deref dereferences recursively a reflect.Value until it reaches a non-pointer or non-interface value
func Deref(value reflect.Value) reflect.Value {
	if value.Kind() == reflect.Pointer || value.Kind() == reflect.Interface {
		return Deref(value.Elem())
	}
	return value
}

// CreateNilStructs creates new struct instances for nil struct pointers
func CreateNilStructs(val reflect.Value, typ reflect.Type, _ []string) {
	if typ.Kind() == reflect.Pointer &&
		val.IsNil() &&
		val.CanSet() &&
		typ.Elem().Kind() == reflect.Struct {

		val.Set(reflect.New(typ.Elem()))
	}
}

// IsStructPointer reports whether t is a pointer to a struct.
func IsStructPointer(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct
}

// IsNilable reports whether values of t can be nil.
func IsNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

// FuncName returns the short name of the function held by fnValue, e.g. "pkg.NewService".
func FuncName(fnValue reflect.Value) string {
	if fnValue.Kind() != reflect.Func || fnValue.IsNil() {
		return "<nil>"
	}
	f := runtime.FuncForPC(fnValue.Pointer())
	if f == nil {
		return fnValue.Type().String()
	}
	return filepath.Base(f.Name())
}
