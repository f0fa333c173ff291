// Package structs reads nested values out of structs and maps.
package structs

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/a-peyrard/plandi/reflectutils"
)

// Lookup retrieves the value at the dotted path from the provided struct or map,
// e.g. "Database.Primary.Host". Pointers and interfaces are followed transparently.
func Lookup(origin any, path string) (reflect.Value, error) {
	if origin == nil {
		return reflect.Value{}, fmt.Errorf("cannot get field %s from nil origin", path)
	}
	if path == "" {
		return reflect.Value{}, fmt.Errorf("field path cannot be empty")
	}

	current := reflect.ValueOf(origin)
	for i, token := range strings.Split(path, ".") {
		if token == "" {
			return reflect.Value{}, fmt.Errorf("empty token at position %d in field path %s", i, path)
		}

		valueOf := reflectutils.Deref(current)
		if !valueOf.IsValid() {
			return reflect.Value{}, fmt.Errorf("encountered nil value at token %s (position %d) in field path %s", token, i, path)
		}

		switch valueOf.Kind() {
		case reflect.Map:
			if valueOf.Type().Key().Kind() != reflect.String {
				return reflect.Value{}, fmt.Errorf("map at position %d in field path %s is not keyed by string", i, path)
			}
			mapValue := valueOf.MapIndex(reflect.ValueOf(token).Convert(valueOf.Type().Key()))
			if !mapValue.IsValid() {
				return reflect.Value{}, fmt.Errorf("key %s not found in map at position %d in field path %s", token, i, path)
			}
			current = mapValue

		case reflect.Struct:
			field, found := valueOf.Type().FieldByName(token)
			if !found {
				return reflect.Value{}, fmt.Errorf("field %s not found in struct %s at position %d in field path %s", token, valueOf.Type().Name(), i, path)
			}
			if !field.IsExported() {
				return reflect.Value{}, fmt.Errorf("field %s in struct %s is not exported at position %d in field path %s", token, valueOf.Type().Name(), i, path)
			}
			current = valueOf.FieldByIndex(field.Index)

		default:
			return reflect.Value{}, fmt.Errorf("cannot traverse field %s: expected struct or map but got %s at position %d in field path %s", token, valueOf.Kind(), i, path)
		}
	}

	return current, nil
}

// Get is Lookup returning the value as an interface.
func Get(origin any, path string) (any, error) {
	value, err := Lookup(origin, path)
	if err != nil {
		return nil, err
	}
	return value.Interface(), nil
}
