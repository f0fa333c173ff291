package plandi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies resolution and registration failures.
//
// Kinds are errors themselves so they can be matched with errors.Is:
//
//	if errors.Is(err, plandi.RecursiveDependencyDetected) { ... }
type ErrorKind int

const (
	UnableToResolveUnknownService ErrorKind = iota + 1
	RecursiveDependencyDetected
	DuplicateServiceKey
	ExpectedSingleDefaultFactory
	UnableToSelectConstructor
	UnableToFindCtorWithAllResolvableArgs
	RegisteredImplementationNotAssignableToServiceType
	ScopeIsDisposed
	ContainerIsDisposed
	DependencyHasShorterReuseLifespan
	NoMatchedScopeFound
	NoCurrentScope
	InvalidRegistration
	FactoryFailed
)

var errorKindNames = map[ErrorKind]string{
	UnableToResolveUnknownService:                      "unable to resolve unknown service",
	RecursiveDependencyDetected:                        "recursive dependency detected",
	DuplicateServiceKey:                                "duplicate service key",
	ExpectedSingleDefaultFactory:                       "expected single default factory",
	UnableToSelectConstructor:                          "unable to select constructor",
	UnableToFindCtorWithAllResolvableArgs:              "unable to find constructor with all resolvable args",
	RegisteredImplementationNotAssignableToServiceType: "registered implementation not assignable to service type",
	ScopeIsDisposed:                                    "scope is disposed",
	ContainerIsDisposed:                                "container is disposed",
	DependencyHasShorterReuseLifespan:                  "dependency has shorter reuse lifespan",
	NoMatchedScopeFound:                                "no matched scope found",
	NoCurrentScope:                                     "no current scope",
	InvalidRegistration:                                "invalid registration",
	FactoryFailed:                                      "factory failed",
}

func (k ErrorKind) String() string {
	if name, found := errorKindNames[k]; found {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

func (k ErrorKind) Error() string {
	return k.String()
}

// ResolutionError is returned by every failing registration or resolution.
type ResolutionError struct {
	Kind    ErrorKind
	Message string
	// Request is the request being resolved when the failure happened, nil for
	// registration failures and runtime failures.
	Request *Request
	Cause   error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Request != nil {
		b.WriteString("\n")
		b.WriteString(e.Request.Ancestry())
	}
	if e.Cause != nil {
		b.WriteString("\n\t")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

func (e *ResolutionError) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

// KindOf returns the kind of the outermost ResolutionError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

func newError(kind ErrorKind, req *Request, format string, args ...any) *ResolutionError {
	return &ResolutionError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Request: req,
	}
}

func wrapError(kind ErrorKind, req *Request, cause error, format string, args ...any) *ResolutionError {
	return &ResolutionError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Request: req,
		Cause:   cause,
	}
}
