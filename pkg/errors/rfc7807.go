// Package errors provides kind-tagged wallet errors and their RFC 7807 Problem Details rendering
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kinds of failures surfaced by the wallet core
const (
	KindNotFound         = "NotFound"
	KindConflict         = "Conflict"
	KindInvalidArgument  = "InvalidArgument"
	KindLimitExceeded    = "LimitExceeded"
	KindStateConflict    = "StateConflict"
	KindInternal         = "Internal"
	KindTransportFailure = "TransportFailure"
)

// Sentinel errors, one per kind. Compare with errors.Is.
var (
	NotFound         = NewWithKind(KindNotFound)
	Conflict         = NewWithKind(KindConflict)
	InvalidArgument  = NewWithKind(KindInvalidArgument)
	LimitExceeded    = NewWithKind(KindLimitExceeded)
	StateConflict    = NewWithKind(KindStateConflict)
	Internal         = NewWithKind(KindInternal)
	TransportFailure = NewWithKind(KindTransportFailure)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := e.Message
	if str == "" {
		str = e.Kind
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Problem type URIs
const (
	TypeNotFound         = "https://wallet.example/problems/not-found"
	TypeConflict         = "https://wallet.example/problems/conflict"
	TypeValidationError  = "https://wallet.example/problems/validation-error"
	TypeLimitExceeded    = "https://wallet.example/problems/limit-exceeded"
	TypeStateConflict    = "https://wallet.example/problems/state-conflict"
	TypeInternalError    = "https://wallet.example/problems/internal-error"
	TypeTransportFailure = "https://wallet.example/problems/transport-failure"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// ToProblemDetails converts any error into problem details for the given instance path.
// Errors without a kind are reported as internal errors without leaking their text.
func ToProblemDetails(err error, instance string) *ProblemDetails {
	var e *Error
	if !As(err, &e) {
		return &ProblemDetails{
			Type:     TypeInternalError,
			Title:    "Internal Server Error",
			Status:   http.StatusInternalServerError,
			Detail:   "internal error",
			Instance: instance,
		}
	}

	pd := &ProblemDetails{Detail: e.Message, Instance: instance}
	switch e.Kind {
	case KindNotFound:
		pd.Type, pd.Title, pd.Status = TypeNotFound, "Not Found", http.StatusNotFound
	case KindConflict:
		pd.Type, pd.Title, pd.Status = TypeConflict, "Conflict", http.StatusConflict
	case KindInvalidArgument:
		pd.Type, pd.Title, pd.Status = TypeValidationError, "Validation Error", http.StatusBadRequest
	case KindLimitExceeded:
		pd.Type, pd.Title, pd.Status = TypeLimitExceeded, "Limit Exceeded", http.StatusUnprocessableEntity
	case KindStateConflict:
		pd.Type, pd.Title, pd.Status = TypeStateConflict, "State Conflict", http.StatusConflict
	case KindTransportFailure:
		pd.Type, pd.Title, pd.Status = TypeTransportFailure, "Bad Gateway", http.StatusBadGateway
	default:
		pd.Type, pd.Title, pd.Status = TypeInternalError, "Internal Server Error", http.StatusInternalServerError
	}
	if pd.Detail == "" {
		pd.Detail = pd.Title
	}
	return pd
}
