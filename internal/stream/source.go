package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Byte source contract
// ---------------------------------------------------------------------------

// Source opens connections to a device. Real and simulated transports
// satisfy the same contract so the session never knows which is in use.
type Source interface {
	// Open acquires the transport. The returned Conn is owned by the
	// caller until closed.
	Open(ctx context.Context) (Conn, error)

	// Name identifies the source in logs and status output.
	Name() string
}

// Conn is an open byte stream.
type Conn interface {
	// ReadChunk blocks until bytes arrive. It returns io.EOF when the
	// stream ends and ctx.Err() promptly once ctx is done.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close releases the transport. It must be safe to call more than once.
	Close() error
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrAlreadyConnected is returned by Connect when the session is not idle.
var ErrAlreadyConnected = errors.New("stream: session already connected")

// ConnectionError reports a failure to acquire the byte source.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream: connect %s: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a read failure on an open byte source.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream: read %s: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// onceConn guarantees the underlying Close runs exactly once no matter
// how many exit paths try to release the connection.
// ---------------------------------------------------------------------------

type onceConn struct {
	Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() { c.err = c.Conn.Close() })
	return c.err
}
