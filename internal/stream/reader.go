package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ReaderSource adapts anything that opens an io.ReadCloser: stdin, a
// named pipe, a capture file, or an in-memory pipe in tests.
type ReaderSource struct {
	name string
	open func() (io.ReadCloser, error)
}

// NewReaderSource creates a source that calls open on every Open.
func NewReaderSource(name string, open func() (io.ReadCloser, error)) *ReaderSource {
	return &ReaderSource{name: name, open: open}
}

// StdinSource reads the process's standard input. Stdin cannot be
// reopened, so every session shares one reader goroutine.
func StdinSource() *SharedReaderSource {
	return NewSharedReaderSource("stdin", os.Stdin)
}

// FileSource reads a file or named pipe from the beginning.
func FileSource(path string) *ReaderSource {
	return NewReaderSource("file:"+path, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

// Name implements Source.
func (s *ReaderSource) Name() string { return s.name }

// Open implements Source.
func (s *ReaderSource) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.name, err)
	}
	return newReaderConn(rc), nil
}

type readResult struct {
	data []byte
	err  error
}

// readerConn moves the blocking Read onto its own goroutine so
// ReadChunk can select on cancellation.
type readerConn struct {
	rc     io.ReadCloser
	chunks chan readResult
	done   chan struct{}
	once   sync.Once
	err    error
}

func newReaderConn(rc io.ReadCloser) *readerConn {
	c := &readerConn{
		rc:     rc,
		chunks: make(chan readResult),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *readerConn) pump() {
	defer close(c.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := c.rc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.chunks <- readResult{data: data}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.chunks <- readResult{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

func (c *readerConn) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-c.chunks:
		if !ok {
			return nil, io.EOF
		}
		return r.data, r.err
	}
}

func (c *readerConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.err = c.rc.Close()
	})
	return c.err
}

// ---------------------------------------------------------------------------
// SharedReaderSource
// ---------------------------------------------------------------------------

// SharedReaderSource reads a stream that outlives any one session. A
// single goroutine reads r for the life of the source and hands each
// chunk to whichever Conn is attached; closing a Conn only detaches it.
type SharedReaderSource struct {
	name   string
	r      io.Reader
	start  sync.Once
	chunks chan readResult
}

// NewSharedReaderSource creates a source over r. Reading starts on the
// first Open.
func NewSharedReaderSource(name string, r io.Reader) *SharedReaderSource {
	return &SharedReaderSource{name: name, r: r, chunks: make(chan readResult)}
}

// Name implements Source.
func (s *SharedReaderSource) Name() string { return s.name }

// Open implements Source.
func (s *SharedReaderSource) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.start.Do(func() { go s.pump() })
	return &sharedConn{chunks: s.chunks, done: make(chan struct{})}, nil
}

// pump blocks on send until a reader takes the chunk, so nothing is read
// while no session is attached.
func (s *SharedReaderSource) pump() {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.chunks <- readResult{data: data}
		}
		if err != nil {
			s.chunks <- readResult{err: err}
			return
		}
	}
}

type sharedConn struct {
	chunks <-chan readResult
	done   chan struct{}
	once   sync.Once
}

func (c *sharedConn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, io.ErrClosedPipe
	case r, ok := <-c.chunks:
		if !ok {
			return nil, io.EOF
		}
		return r.data, r.err
	}
}

func (c *sharedConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
