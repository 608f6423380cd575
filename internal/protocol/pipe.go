package protocol

import (
	"context"
	"sync"
)

// pipeEnd is one side of an in-memory connection.
type pipeEnd struct {
	name string
	in   <-chan *Frame
	out  chan<- *Frame

	state *pipeState
	// self is this end's index into state.
	self int
}

type pipeState struct {
	mu     sync.Mutex
	done   [2]chan struct{}
	closed [2]*CloseError
}

// Pipe returns two connected in-memory Conns. Frames written to one are
// read from the other in order. Closing one end makes reads on the other
// return a *CloseError carrying the code and reason.
func Pipe() (Conn, Conn) {
	ab := make(chan *Frame, 64)
	ba := make(chan *Frame, 64)
	st := &pipeState{done: [2]chan struct{}{make(chan struct{}), make(chan struct{})}}

	a := &pipeEnd{name: "pipe-a", in: ba, out: ab, state: st, self: 0}
	b := &pipeEnd{name: "pipe-b", in: ab, out: ba, state: st, self: 1}
	return a, b
}

func (p *pipeEnd) peer() int { return 1 - p.self }

func (p *pipeEnd) ReadFrame(ctx context.Context) (*Frame, error) {
	// Frames sent before a close are still delivered.
	select {
	case f := <-p.in:
		return f, nil
	default:
	}

	select {
	case f := <-p.in:
		return f, nil
	case <-p.state.done[p.self]:
		return nil, ErrClosed
	case <-p.state.done[p.peer()]:
		select {
		case f := <-p.in:
			return f, nil
		default:
		}
		p.state.mu.Lock()
		ce := p.state.closed[p.peer()]
		p.state.mu.Unlock()
		return nil, ce
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) WriteFrame(ctx context.Context, f *Frame) error {
	// Round-trip through the codec so tests exercise the wire format.
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	cp, err := Unmarshal(data)
	if err != nil {
		return err
	}

	select {
	case <-p.state.done[p.self]:
		return ErrClosed
	case <-p.state.done[p.peer()]:
		return ErrClosed
	default:
	}

	select {
	case p.out <- cp:
		return nil
	case <-p.state.done[p.self]:
		return ErrClosed
	case <-p.state.done[p.peer()]:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Close(code int, reason string) error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	if p.state.closed[p.self] != nil {
		return nil
	}
	p.state.closed[p.self] = &CloseError{Code: code, Reason: reason}
	close(p.state.done[p.self])
	return nil
}

func (p *pipeEnd) RemoteAddr() string {
	return p.name
}
