// Package errors classifies the failures of the named-query engine.
//
// Every error returned by the engine carries one Kind. Callers test for a
// kind with the standard library:
//
//	if errors.Is(err, qerrors.ErrConversion) {
//	    // bad caller input
//	}
//
// Definition errors happen while the registry loads and leave the engine
// unusable. Compilation, conversion and execution errors abort only the call
// that produced them. Hint failures are never surfaced.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a query failure
type Kind int

const (
	// Definition is a load-time failure: duplicate names, dangling or cyclic fetch references
	Definition Kind = iota
	// NotFound means no definition exists for the requested name
	NotFound
	// Compilation is a template parse failure
	Compilation
	// Conversion means a parameter or result value could not be converted to its declared type
	Conversion
	// Execution covers rendering and driver failures
	Execution
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case Definition:
		return "definition"
	case NotFound:
		return "not_found"
	case Compilation:
		return "compilation"
	case Conversion:
		return "conversion"
	case Execution:
		return "execution"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrDefinition  = errors.New("query definition error")
	ErrNotFound    = errors.New("query not found")
	ErrCompilation = errors.New("query compilation error")
	ErrConversion  = errors.New("query parameter conversion error")
	ErrExecution   = errors.New("query execution error")
)

func (k Kind) sentinel() error {
	switch k {
	case Definition:
		return ErrDefinition
	case NotFound:
		return ErrNotFound
	case Compilation:
		return ErrCompilation
	case Conversion:
		return ErrConversion
	default:
		return ErrExecution
	}
}

// Error is a classified query failure
type Error struct {
	Kind  Kind
	Query string // versioned query name, empty when not tied to one query
	Op    string // operation that failed, e.g. "compile", "fetch"
	Err   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Query != "" {
		msg += fmt.Sprintf(" [%s]", e.Query)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New builds a classified error from a formatted message
func New(kind Kind, query, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Query: query, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. An err that is already
// classified keeps its kind so failures deep in a fetch graph surface
// with their original meaning.
func Wrap(err error, kind Kind, query, op string) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		return err
	}
	return &Error{Kind: kind, Query: query, Op: op, Err: err}
}

// KindOf returns the kind of err and whether err is classified at all
func KindOf(err error) (Kind, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind, true
	}
	return Execution, false
}
