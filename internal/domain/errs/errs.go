// Package errs defines the error kinds shared by the scheduling and rating
// engine. Kinds are sentinel values matched with errors.Is; the Error type
// adds the failing operation for context.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSession    = errors.New("invalid session")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidSession, "invalid_session"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrValidation, "validation"},
	{ErrConflict, "conflict"},
}

// Error carries the operation that failed, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of the given kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Newf returns an error of the given kind with a formatted detail message.
func Newf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with op. Nil in, nil out.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind annotates err with op and kind. Nil in, nil out.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the snake_case name of the outermost kind in err's chain,
// or "internal" when none matches.
func KindOf(err error) string {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != nil {
			return kindName(e.Kind)
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return kindName(err)
}

func kindName(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
