// Package errtypes defines the error kinds surfaced by the model builder,
// the weight loader and the inference engine.
package errtypes

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind int

const (
	// Config covers malformed or missing fields in a model configuration
	Config Kind = iota + 1
	// Validation covers input tensors whose shape does not match the model
	Validation
	// State covers operations invoked in the wrong engine state
	State
	// IO covers unreadable or undecodable config and weight sources
	IO
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "configuration error"
	case Validation:
		return "validation error"
	case State:
		return "state error"
	case IO:
		return "io error"
	default:
		return "unknown error"
	}
}

var (
	ErrModelNotLoaded          = New(State, "", errors.New("model not loaded"))
	ErrNoModelToSave           = New(State, "", errors.New("no model to save"))
	ErrNoClassNames            = New(State, "", errors.New("no class names defined"))
	ErrUnsupportedWeightFormat = errors.New("unsupported weight format")
)

// Error is a failure tagged with its Kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and operation name
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf formats a message and wraps it with a kind and operation name
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and message so that errors.Is works on
// the copies produced by WithOp.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && t.Op == "" && e.Err.Error() == t.Err.Error()
}

// WithOp returns a copy of a sentinel carrying the operation name
func WithOp(e *Error, op string) *Error {
	return &Error{Kind: e.Kind, Op: op, Err: e.Err}
}

// Is reports whether any error in err's chain has the given kind
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost typed error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
