package httpio

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// Timeouts bound the blocking points of one exchange. Connect limits
// dialing (and the TLS handshake). Send limits every socket write. Receive
// limits how long the connection may sit idle while a read is pending,
// which covers waiting for response headers and for each body chunk.
type Timeouts struct {
	Connect time.Duration `koanf:"connect"`
	Send    time.Duration `koanf:"send"`
	Receive time.Duration `koanf:"receive"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: time.Second,
		Send:    1800 * time.Second,
		Receive: 1800 * time.Second,
	}
}

func (t Timeouts) IsZero() bool { return t == Timeouts{} }

// withDefaults fills every unset field from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Send <= 0 {
		t.Send = d.Send
	}
	if t.Receive <= 0 {
		t.Receive = d.Receive
	}
	return t
}

type dialer struct {
	net.Dialer
	t Timeouts
}

func newDialer(t Timeouts) *dialer {
	return &dialer{Dialer: net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}, t: t}
}

func (d *dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	c := &deadlineConn{Conn: conn, read: d.t.Receive, write: d.t.Send}
	c.touch()
	return c, nil
}

// deadlineConn arms a fresh deadline before every Read and Write. A read
// that times out is retried while the connection has seen other traffic
// within the receive window, so a long upload is not cut short by the
// transport's background reader waiting for the response.
type deadlineConn struct {
	net.Conn
	read, write time.Duration
	last        atomic.Int64
}

func (c *deadlineConn) touch() { c.last.Store(time.Now().UnixNano()) }

func (c *deadlineConn) idle() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.last.Load())
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	for {
		if c.read > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(c.read))
		}
		n, err := c.Conn.Read(b)
		if n > 0 {
			c.touch()
		}
		if err != nil && errors.Is(err, os.ErrDeadlineExceeded) && n == 0 && c.idle() < c.read {
			continue
		}
		return n, err
	}
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	}
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.touch()
	}
	return n, err
}
