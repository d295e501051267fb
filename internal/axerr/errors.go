// Package axerr provides the uniform error type returned by every AxiomMe
// operation, mirroring the wire envelope in spec.md §6.
package axerr

import (
	"errors"
)

// Code is a closed-set error classifier matching spec.md §6/§7.
type Code string

// The closed set of wire error codes.
const (
	CodeInvalidURI        Code = "INVALID_URI"
	CodeNotFound          Code = "NOT_FOUND"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeConflict          Code = "CONFLICT"
	CodeLocked            Code = "LOCKED"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeSecurityViolation Code = "SECURITY_VIOLATION"
	CodeTimeout           Code = "TIMEOUT"
	CodeForbiddenTarget   Code = "FORBIDDEN_TARGET"
)

// Error is the uniform error type returned by all public AxiomMe APIs.
//
// It carries the fields required by the wire envelope (spec.md §6):
// Code, Operation, an optional URI, and TraceID, plus the wrapped cause.
// Modeled on the teacher's mddb.Error (cause + structured suffix).
type Error struct {
	Code      Code
	Operation string
	URI       string
	TraceID   string
	Err       error
}

// Error formats as "<operation>: <cause> (code=X uri=Y trace_id=Z)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Operation
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}

	suffix := e.suffix()
	if suffix == "" {
		return msg
	}

	if msg == "" {
		return suffix
	}

	return msg + " " + suffix
}

func (e *Error) suffix() string {
	parts := make([]string, 0, 3)

	if e.Code != "" {
		parts = append(parts, "code="+string(e.Code))
	}

	if e.URI != "" {
		parts = append(parts, "uri="+e.URI)
	}

	if e.TraceID != "" {
		parts = append(parts, "trace_id="+e.TraceID)
	}

	if len(parts) == 0 {
		return ""
	}

	s := "("
	for i, p := range parts {
		if i > 0 {
			s += " "
		}
		s += p
	}

	return s + ")"
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Opt configures an Error during construction via New.
type Opt func(*Error)

// WithURI attaches the URI the operation targeted.
func WithURI(uri string) Opt {
	return func(e *Error) { e.URI = uri }
}

// WithTraceID attaches the request trace identifier.
func WithTraceID(id string) Opt {
	return func(e *Error) { e.TraceID = id }
}

// New builds an *Error for the given code, operation and cause.
func New(code Code, operation string, err error, opts ...Opt) *Error {
	e := &Error{Code: code, Operation: operation, Err: err}

	var existing *Error
	if errors.As(err, &existing) {
		if e.URI == "" {
			e.URI = existing.URI
		}

		if e.TraceID == "" {
			e.TraceID = existing.TraceID
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Code == code
}

