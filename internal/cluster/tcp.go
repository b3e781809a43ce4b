package cluster

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cluster: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cluster: CBOR decoder initialization failed: " + err.Error())
	}
}

type tcpConn struct {
	conn   net.Conn
	sendMu sync.Mutex
	enc    *cbor.Encoder
	dec    *cbor.Decoder
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{conn: c, enc: encMode.NewEncoder(c), dec: decMode.NewDecoder(c)}
}

func (t *tcpConn) Send(ctx context.Context, m *Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(d)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { t.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if err := t.enc.Encode(m); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeTransport, "failed to send %s", m.Kind).
			WithDetail("remote", t.conn.RemoteAddr().String())
	}
	return nil
}

func (t *tcpConn) Recv(ctx context.Context) (*Message, error) {
	if d, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(d)
		defer t.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { t.conn.SetReadDeadline(time.Now()) })
	defer stop()

	m := &Message{}
	if err := t.dec.Decode(m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to receive message").
			WithDetail("remote", t.conn.RemoteAddr().String())
	}
	return m, nil
}

func (t *tcpConn) Close() error {
	return t.conn.Close()
}

// Listener accepts worker connections.
type Listener struct {
	ln  *net.TCPListener
	log *zap.Logger
}

// Listen opens a TCP listener on addr.
func Listen(addr string, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeTransport, "failed to listen on %s", addr)
	}
	log.Info("coordinator listening", zap.String("addr", ln.Addr().String()))
	return &Listener{ln: ln.(*net.TCPListener), log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next worker until ctx is done.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	if d, ok := ctx.Deadline(); ok {
		l.ln.SetDeadline(d)
		defer l.ln.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { l.ln.SetDeadline(time.Now()) })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to accept worker")
	}
	l.log.Debug("worker connected", zap.String("remote", c.RemoteAddr().String()))
	return newTCPConn(c), nil
}

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial connects a worker to the coordinator at addr.
func Dial(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeTransport, "failed to dial %s", addr)
	}
	return newTCPConn(c), nil
}
