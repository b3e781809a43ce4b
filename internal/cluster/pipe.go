package cluster

import (
	"context"
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

type link struct {
	once   sync.Once
	closed chan struct{}
}

func (l *link) close() {
	l.once.Do(func() { close(l.closed) })
}

type pipeConn struct {
	link *link
	in   <-chan *Message
	out  chan<- *Message
}

// Pipe returns two connected in-process ends. Closing either end closes
// the link; messages already queued can still be received.
func Pipe() (Conn, Conn) {
	l := &link{closed: make(chan struct{})}
	ab := make(chan *Message, 16)
	ba := make(chan *Message, 16)
	return &pipeConn{link: l, in: ba, out: ab}, &pipeConn{link: l, in: ab, out: ba}
}

func (p *pipeConn) Send(ctx context.Context, m *Message) error {
	select {
	case <-p.link.closed:
		return errors.New(errors.ErrorTypeTransport, "pipe closed")
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.link.closed:
		return errors.New(errors.ErrorTypeTransport, "pipe closed")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTransport, "send canceled")
	}
}

func (p *pipeConn) Recv(ctx context.Context) (*Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	default:
	}
	select {
	case m := <-p.in:
		return m, nil
	case <-p.link.closed:
		return nil, errors.New(errors.ErrorTypeTransport, "pipe closed")
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTransport, "receive canceled")
	}
}

func (p *pipeConn) Close() error {
	p.link.close()
	return nil
}
