package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate   = 9600
	serialPollTimeout = 100 * time.Millisecond
)

// SerialSource reads from a local serial device such as an Arduino on
// /dev/ttyACM0.
type SerialSource struct {
	Port     string
	BaudRate int
}

// NewSerialSource creates a serial source. baud <= 0 selects 9600.
func NewSerialSource(port string, baud int) *SerialSource {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &SerialSource{Port: port, BaudRate: baud}
}

// Name implements Source.
func (s *SerialSource) Name() string { return "serial:" + s.Port }

// Open implements Source.
func (s *SerialSource) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := serial.Open(s.Port, &serial.Mode{BaudRate: s.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Port, err)
	}
	// A bounded read timeout lets ReadChunk notice cancellation.
	if err := port.SetReadTimeout(serialPollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", s.Port, err)
	}
	return &serialConn{port: port, buf: make([]byte, 4096)}, nil
}

// ListSerialPorts returns the serial device names present on this host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

type serialConn struct {
	port serial.Port
	buf  []byte
	once sync.Once
	err  error
}

func (c *serialConn) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.port.Read(c.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if n > 0 {
			out := make([]byte, n)
			copy(out, c.buf[:n])
			return out, nil
		}
		// n == 0: the read timeout elapsed without data.
	}
}

func (c *serialConn) Close() error {
	c.once.Do(func() { c.err = c.port.Close() })
	return c.err
}
