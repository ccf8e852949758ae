// Package apperr defines the failure kinds returned by the archive stores and
// the result shape returned to callers of mutating operations.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind classifies an expected business failure
type Kind int

const (
	KindUnknown Kind = iota
	NotFound
	DuplicateConflict
	InUseConflict
	ValidationFailure
	TransientStoreFailure
	ConcurrencyConflict
	InvalidStateTransition
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	NotFound:               "not_found",
	DuplicateConflict:      "duplicate_conflict",
	InUseConflict:          "in_use_conflict",
	ValidationFailure:      "validation_failure",
	TransientStoreFailure:  "transient_store_failure",
	ConcurrencyConflict:    "concurrency_conflict",
	InvalidStateTransition: "invalid_state_transition",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure safe to show to the caller. The wrapped cause is kept
// for logging and errors.Is but never rendered by Error().
type Error struct {
	Kind          Kind
	Message       string
	Fields        map[string]string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &apperr.Error{Kind: apperr.NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return newf(NotFound, format, args...)
}

func Duplicatef(format string, args ...any) *Error {
	return newf(DuplicateConflict, format, args...)
}

func InUsef(format string, args ...any) *Error {
	return newf(InUseConflict, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newf(ConcurrencyConflict, format, args...)
}

func InvalidTransitionf(format string, args ...any) *Error {
	return newf(InvalidStateTransition, format, args...)
}

// Invalid builds a validation failure from field errors
func Invalid(fields map[string]string) *Error {
	return &Error{
		Kind:    ValidationFailure,
		Message: "One or more fields are invalid.",
		Fields:  fields,
	}
}

// Internal logs an unexpected failure under a fresh correlation id and
// returns a TransientStoreFailure carrying only the safe message. Errors that
// are already *Error pass through untouched.
func Internal(log *zap.Logger, err error, message string, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}

	id := uuid.NewString()
	log.Error(message,
		append(fields, zap.String("correlation_id", id), zap.Error(err))...,
	)

	return &Error{
		Kind:          TransientStoreFailure,
		Message:       message + ". Please try again later.",
		CorrelationID: id,
		cause:         err,
	}
}
