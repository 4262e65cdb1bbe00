package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the engine matches exactly one of these
// with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrAmbiguousID       = errors.New("ambiguous identifier")
	ErrConflict          = errors.New("concurrent modification")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError is returned when an event is not legal in the current state.
type TransitionError struct {
	From  ChangeStatus
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AmbiguousIDError lists the records matched by a partial identifier.
type AmbiguousIDError struct {
	Fragment   string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("ambiguous identifier %q matches %s", e.Fragment, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousIDError) Is(target error) bool { return target == ErrAmbiguousID }

// ErrorKind names the kind of err for metrics and logs. Errors that match no
// kind are "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrAmbiguousID):
		return "ambiguous_id"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}
