package domain

import (
	"errors"
	"strings"
)

// Error is a classified failure. Code identifies the failure and is
// stable across releases; Close is what the peer observes when the
// failure ends its connection.
type Error struct {
	Code    string
	Close   CloseKind
	Message string
	Details string
	Cause   error

	// escalate marks failures of the hosting environment, which are
	// reported beyond the connection they ended.
	escalate bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy carrying details.
func (e *Error) WithDetails(details string) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

func define(code string, kind CloseKind, msg string) *Error {
	return &Error{Code: code, Close: kind, Message: msg}
}

func escalated(e *Error) *Error {
	e.escalate = true
	return e
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the code of the *Error wrapped by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Requests.
var (
	ErrInvalidRequest    = define("IM-REQ-4000", CloseBadRequest, "invalid request")
	ErrInvalidSessionKey = define("IM-REQ-4001", CloseBadRequest, "invalid session key")

	// ErrBadRequest is a well-formed request the server refuses, such as
	// page zero or an unknown action.
	ErrBadRequest = define("IM-REQ-4002", CloseBadRequest, "bad request")
)

// Sessions.
var (
	ErrInvalidMetadata  = define("IM-SESS-4001", CloseBadRequest, "invalid metadata")
	ErrMissingMasterKey = define("IM-SESS-4040", CloseBadRequest, "missing master key")
	ErrMissingMetadata  = define("IM-SESS-4041", CloseBadRequest, "missing metadata")
)

// Partitions.
var (
	ErrAuditFailed       = define("IM-PART-4220", CloseAuditFailed, "audit failed")
	ErrBlockVerification = define("IM-PART-4221", CloseAuditFailed, "block verification failed")
	ErrSinkWrite         = define("IM-PART-5020", CloseInternalError, "sink write failed")
)

// Server side.
var (
	ErrInternal    = escalated(define("IM-SYS-5000", CloseInternalError, "internal server error"))
	ErrPersistence = escalated(define("IM-SYS-5001", CloseInternalError, "persistence failure"))
	ErrCollection  = define("IM-GC-5000", CloseInternalError, "collection failure")
)

// IsEscalated reports whether err must be surfaced beyond the connection
// it ended. Errors without a classification count as escalated.
func IsEscalated(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.escalate
}
