package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/yndnr/ingestmesh/internal/core/domain"
)

// WebSocket close codes.
const (
	CodeNormal      = 1000
	CodeGoingAway   = 1001
	CodeBadRequest  = 1007
	CodeInternal    = 1011
	CodeAuditFailed = 4022
)

// CodeFor returns the close code of a close kind.
func CodeFor(k domain.CloseKind) int {
	switch k {
	case domain.CloseNormal:
		return CodeNormal
	case domain.CloseBadRequest:
		return CodeBadRequest
	case domain.CloseAuditFailed:
		return CodeAuditFailed
	default:
		return CodeInternal
	}
}

// ErrClosed is returned by operations on a connection closed locally.
var ErrClosed = errors.New("protocol: connection closed")

// CloseError is returned by ReadFrame when the peer closed the connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("protocol: closed by peer (%d %s)", e.Code, e.Reason)
}

// Conn is a framed, bidirectional connection.
type Conn interface {
	// ReadFrame blocks until a frame arrives, the peer closes, or ctx ends.
	ReadFrame(ctx context.Context) (*Frame, error)

	// WriteFrame sends f. Safe for concurrent use.
	WriteFrame(ctx context.Context, f *Frame) error

	// Close sends a close message with code and reason and releases the
	// connection. Only the first call has effect.
	Close(code int, reason string) error

	// RemoteAddr returns the peer address.
	RemoteAddr() string
}

// IsClosed reports whether err means the connection is gone, either side.
// Such errors are part of normal operation and are not escalated.
func IsClosed(err error) bool {
	var ce *CloseError
	return errors.Is(err, ErrClosed) || errors.As(err, &ce)
}
