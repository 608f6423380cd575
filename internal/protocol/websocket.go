package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/ingestmesh/internal/core/domain"
)

// closeWait bounds how long Close waits to deliver the close message.
const closeWait = time.Second

type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketConn adapts an upgraded WebSocket. maxPayload limits the
// size of a single incoming message; zero keeps gorilla's default.
func NewWebSocketConn(conn *websocket.Conn, maxPayload int64) Conn {
	if maxPayload > 0 {
		conn.SetReadLimit(maxPayload)
	}
	return &wsConn{conn: conn, closed: make(chan struct{})}
}

func (c *wsConn) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.readError(ctx, err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return Unmarshal(data)
	}
}

func (c *wsConn) readError(ctx context.Context, err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return domain.ErrInvalidRequest.WithDetails("message exceeds size limit").WithCause(err)
	}
	return fmt.Errorf("protocol: read: %w", err)
}

func (c *wsConn) WriteFrame(ctx context.Context, f *Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("protocol: encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		c.writeMu.Unlock()

		err = c.conn.Close()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
			err = werr
		}
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
