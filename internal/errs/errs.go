package errs

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so the HTTP layer can map them to status
// codes without string matching.
type Kind string

const (
	KindInvalidDate            Kind = "INVALID_DATE"
	KindInvalidDuration        Kind = "INVALID_DURATION"
	KindMissingField           Kind = "MISSING_FIELD"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindNotFound               Kind = "NOT_FOUND"
	KindStoreConflictExhausted Kind = "STORE_CONFLICT_EXHAUSTED"
	KindStoreUnavailable       Kind = "STORE_UNAVAILABLE"
)

type Error struct {
	Kind  Kind
	Field string
	Msg   string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, keeping the cause chain.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// MissingField reports the first required field found blank.
func MissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field, Msg: "missing required field: " + field}
}

func InvalidDate(value string) *Error {
	return &Error{Kind: KindInvalidDate, Msg: fmt.Sprintf("invalid date %q: want YYYY-MM-DD or DD/MM/YYYY", value)}
}

// KindOf returns the kind carried anywhere in the chain. Errors without a
// kind are treated as store failures, the only unstructured errors that can
// cross the engine boundary.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
