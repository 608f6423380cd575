package domain

import "errors"

// CloseKind classifies how a connection ends, independent of the
// transport's numeric codes.
type CloseKind int

const (
	CloseNormal CloseKind = iota
	CloseBadRequest
	CloseInternalError
	CloseAuditFailed
)

// String returns the metric label for the close kind.
func (k CloseKind) String() string {
	switch k {
	case CloseNormal:
		return "normal"
	case CloseBadRequest:
		return "bad_request"
	case CloseInternalError:
		return "internal_error"
	case CloseAuditFailed:
		return "audit_failed"
	default:
		return "unknown"
	}
}

// CloseReason is what a client observes when its connection ends.
type CloseReason struct {
	Kind   CloseKind
	Reason string
}

// CloseReasonFor maps a handler error to the close reason reported to the
// peer. A nil error is a normal closure and an unclassified error an
// internal one.
func CloseReasonFor(err error) CloseReason {
	if err == nil {
		return CloseReason{Kind: CloseNormal}
	}
	var e *Error
	if !errors.As(err, &e) {
		return CloseReason{Kind: CloseInternalError, Reason: truncate(err.Error())}
	}
	if e.Close == CloseAuditFailed {
		// The peer learns that its data was refused, not which check failed.
		return CloseReason{Kind: CloseAuditFailed, Reason: "audit failed"}
	}
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return CloseReason{Kind: e.Close, Reason: truncate(msg)}
}

// maxReasonLen keeps close reasons inside a WebSocket control frame
// (125 bytes minus the 2-byte code).
const maxReasonLen = 123

func truncate(msg string) string {
	if len(msg) > maxReasonLen {
		return msg[:maxReasonLen]
	}
	return msg
}
