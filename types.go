package plandi

import (
	"fmt"
	"io"
	"reflect"
	"strings"
)

type (
	// Disposable is implemented by services owning resources released when their scope is disposed.
	//
	// io.Closer is honored the same way.
	Disposable interface {
		Dispose() error
	}

	// GenericDefinition identifies a generic type regardless of its type arguments,
	// e.g. "github.com/acme/repo.Repository" for Repository[User] and Repository[Order].
	GenericDefinition string
)

const (
	sliceDefinition GenericDefinition = "[]"
	funcDefinition  GenericDefinition = "func"
)

var (
	errorType      = TypeOf[error]()
	stringType     = TypeOf[string]()
	closerType     = TypeOf[io.Closer]()
	disposableType = TypeOf[Disposable]()
	stringerType   = TypeOf[fmt.Stringer]()
	resolverType   = TypeOf[Resolver]()
)

// TypeOf returns the reflect.Type of I, including interface types.
func TypeOf[I any]() reflect.Type {
	var i I
	t := reflect.TypeOf(i)
	if t == nil {
		t = reflect.TypeOf((*I)(nil)).Elem()
	}
	return t
}

// DefinitionOf returns the generic definition of t. Pointers keep their star so
// *Repo[T] and Repo[T] stay distinct. Slices and functions get a pseudo definition
// so wrappers can be registered for them.
func DefinitionOf(t reflect.Type) (GenericDefinition, bool) {
	if t == nil {
		return "", false
	}
	switch t.Kind() {
	case reflect.Pointer:
		def, ok := DefinitionOf(t.Elem())
		if !ok {
			return "", false
		}
		return "*" + def, true
	case reflect.Slice:
		if t.Name() == "" {
			return sliceDefinition, true
		}
	case reflect.Func:
		if t.Name() == "" {
			return funcDefinition, true
		}
	}

	name := t.Name()
	idx := strings.IndexByte(name, '[')
	if idx < 0 {
		return "", false
	}
	return GenericDefinition(t.PkgPath() + "." + name[:idx]), true
}

// GenericDefinitionOf returns the generic definition of any instantiation of a generic type,
// GenericDefinitionOf[Repository[any]]() matches every Repository[T].
func GenericDefinitionOf[I any]() GenericDefinition {
	def, ok := DefinitionOf(TypeOf[I]())
	if !ok {
		panic(fmt.Sprintf("%s is not a generic type", TypeOf[I]()))
	}
	return def
}

func isDisposable(t reflect.Type) bool {
	return t != nil && (t.Implements(disposableType) || t.Implements(closerType))
}

func matchType(serviceType, providedType reflect.Type) bool {
	if serviceType == providedType {
		return true
	}
	if serviceType.Kind() == reflect.Interface && providedType.Implements(serviceType) {
		return true
	}
	return false
}

func describeKey(key any) string {
	switch k := key.(type) {
	case nil:
		return ""
	case string:
		return fmt.Sprintf("%q", k)
	default:
		return fmt.Sprintf("%v", k)
	}
}
