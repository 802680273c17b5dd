package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vyuha/sensorfeed/internal/clock"
)

const defaultPollInterval = 100 * time.Millisecond

// ---------------------------------------------------------------------------
// FollowSource tails a growing capture file (for example one written by
// `cat /dev/ttyACM0 >> capture.log`), starting at its end and polling for
// new bytes. Unlike FileSource it never reaches end of stream.
// ---------------------------------------------------------------------------

type FollowSource struct {
	Path         string
	PollInterval time.Duration
	FromStart    bool // replay existing content before following
	Clock        clock.Clock
}

// Name implements Source.
func (s *FollowSource) Name() string { return "follow:" + s.Path }

// Open implements Source.
func (s *FollowSource) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	// Only new bytes unless asked to replay.
	if !s.FromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek to end of %s: %w", s.Path, err)
		}
	}

	poll := s.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &followConn{
		file:   f,
		buf:    make([]byte, 4096),
		ticker: clk.NewTicker(poll),
	}, nil
}

type followConn struct {
	file   *os.File
	buf    []byte
	ticker *clock.Ticker
	once   sync.Once
	err    error
}

// ReadChunk returns whatever has been appended since the last read,
// waiting one poll interval at a time while the file is idle.
func (c *followConn) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.file.Read(c.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, c.buf[:n])
			return out, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ticker.C:
		}
	}
}

func (c *followConn) Close() error {
	c.once.Do(func() {
		c.ticker.Stop()
		c.err = c.file.Close()
	})
	return c.err
}
