package core

import "github.com/pkg/errors"

// Kind classifies business errors so that callers can react to them without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidReference
	KindAttemptDenied
	KindItemUnavailable
	KindDuplicateRequest
	KindInvalidStateTransition
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNotFound:               "not_found",
	KindForbidden:              "forbidden",
	KindInvalidReference:       "invalid_reference",
	KindAttemptDenied:          "attempt_denied",
	KindItemUnavailable:        "item_unavailable",
	KindDuplicateRequest:       "duplicate_request",
	KindInvalidStateTransition: "invalid_state_transition",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a business rule violation with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func (err *Error) Error() string {
	return err.Message
}

// KindOf returns the Kind of the (possibly wrapped) error; KindUnknown if it is not a core.Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a core.Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
