package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// TCPSource reads from a serial-over-TCP bridge (ser2net, ESP-Link, a
// socat relay, or scripts/fake_device --listen).
type TCPSource struct {
	Address     string
	DialTimeout time.Duration
}

// Name implements Source.
func (s *TCPSource) Name() string { return "tcp:" + s.Address }

// Open implements Source.
func (s *TCPSource) Open(ctx context.Context) (Conn, error) {
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", s.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.Address, err)
	}
	return &tcpConn{conn: conn, buf: make([]byte, 4096)}, nil
}

type tcpConn struct {
	conn net.Conn
	buf  []byte
	once sync.Once
	err  error
}

// ReadChunk interrupts a pending read by moving the socket's read
// deadline into the past when ctx is cancelled.
func (c *tcpConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := c.conn.Read(c.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, err
}

func (c *tcpConn) Close() error {
	c.once.Do(func() { c.err = c.conn.Close() })
	return c.err
}
