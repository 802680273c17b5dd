package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/sensorfeed/internal/clock"
	"github.com/vyuha/sensorfeed/internal/ring"
	"github.com/vyuha/sensorfeed/internal/sample"
)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is a session's position in its connection lifecycle:
// Idle → Connecting → Streaming → Closing → Idle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateClosing; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("stream: unknown session state %q", text)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Hooks receive lifecycle notifications. Every field is optional. Hooks
// run on the session's goroutines and must not call Connect or Disconnect.
type Hooks struct {
	// OnState fires after every transition. err is the TransportError
	// that caused a return to Idle, if any.
	OnState func(state State, err error)

	// OnDecodeError fires for every line that is not a JSON object.
	OnDecodeError func(err *sample.DecodeError)

	// OnRead fires for every non-empty chunk with its length.
	OnRead func(n int)
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Capacity     int // window size, default ring.DefaultCapacity
	MaxLineBytes int // default DefaultMaxLineBytes
	Clock        clock.Clock
	Handler      SampleHandler
	Hooks        Hooks
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session pumps one byte source into its own bounded window. A session
// owns its window for its whole life; samples pushed before a disconnect
// or transport error stay readable.
type Session struct {
	id       string
	source   Source
	ingestor *Ingestor
	clock    clock.Clock
	hooks    Hooks
	maxLine  int

	// lifecycle serialises Connect and Disconnect.
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	lastErr     error
	connectedAt time.Time

	lastTS int64 // touched only by the read loop

	// stats
	chunks      atomic.Int64
	bytesRead   atomic.Int64
	linesRead   atomic.Int64
	malformed   atomic.Int64
	badShape    atomic.Int64
	overflows   atomic.Int64
	dropped     atomic.Int64
	transportEr atomic.Int64
}

// NewSession creates an idle session for source.
func NewSession(source Source, opts SessionOptions) *Session {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	window := ring.New[sample.Sample](opts.Capacity)
	return &Session{
		id:       uuid.New().String(),
		source:   source,
		ingestor: NewIngestor(window, opts.Handler),
		clock:    clk,
		hooks:    opts.Hooks,
		maxLine:  opts.MaxLineBytes,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Source returns the byte source this session reads.
func (s *Session) Source() Source { return s.source }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the read loop is streaming.
func (s *Session) Connected() bool { return s.State() == StateStreaming }

// Err returns the most recent connection or transport error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns the window contents, oldest first.
func (s *Session) Snapshot() []sample.Sample { return s.ingestor.Window().Snapshot() }

// Len returns the number of samples in the window.
func (s *Session) Len() int { return s.ingestor.Window().Len() }

// Connect acquires the byte source and starts streaming. It is only valid
// from Idle; in any other state it returns ErrAlreadyConnected and
// changes nothing. A failure to open the source is returned as a
// *ConnectionError and leaves the session Idle.
//
// The read loop outlives ctx's cancellation; stop it with Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify(StateConnecting, nil)

	conn, err := s.source.Open(ctx)
	if err != nil {
		cerr := &ConnectionError{Source: s.source.Name(), Err: err}
		s.mu.Lock()
		s.lastErr = cerr
		s.mu.Unlock()
		slog.Warn("session connect failed", "session", s.id, "source", s.source.Name(), "error", err)
		s.transition(StateIdle, nil)
		return cerr
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.lastErr = nil
	s.connectedAt = s.clock.Now().UTC()
	s.mu.Unlock()

	s.transition(StateStreaming, nil)
	slog.Info("session streaming", "session", s.id, "source", s.source.Name())

	go s.readLoop(loopCtx, cancel, &onceConn{Conn: conn}, done)
	return nil
}

// Disconnect cancels any pending read, waits for the loop to release the
// byte source and return to Idle. It is idempotent and never fails.
func (s *Session) Disconnect() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// readLoop is the session's only writer. ReadChunk is its sole blocking
// point.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc, conn *onceConn, done chan struct{}) {
	defer close(done)
	defer cancel()

	framer := NewLineFramer(s.maxLine)
	var overflowSeen int
	var cause error

	for {
		chunk, err := conn.ReadChunk(ctx)
		if len(chunk) > 0 {
			s.chunks.Add(1)
			s.bytesRead.Add(int64(len(chunk)))
			if s.hooks.OnRead != nil {
				s.hooks.OnRead(len(chunk))
			}
			framer.Feed(chunk)
			if o := framer.Overflows(); o > overflowSeen {
				s.overflows.Add(int64(o - overflowSeen))
				overflowSeen = o
				slog.Warn("dropping overlong unterminated line", "session", s.id)
			}
			for {
				line, ok := framer.Next()
				if !ok {
					break
				}
				s.processLine(ctx, line)
			}
		}
		if err != nil {
			cause = err
			break
		}
	}

	s.transition(StateClosing, nil)

	// An unterminated final fragment cannot be trusted.
	if n := framer.Reset(); n > 0 {
		s.dropped.Add(int64(n))
		slog.Debug("discarded unterminated fragment", "session", s.id, "bytes", n)
	}
	if err := conn.Close(); err != nil {
		slog.Debug("byte source close error", "session", s.id, "error", err)
	}

	var terr error
	switch {
	case errors.Is(cause, io.EOF):
		slog.Info("end of stream", "session", s.id, "source", s.source.Name())
	case ctx.Err() != nil, errors.Is(cause, context.Canceled):
		slog.Info("session disconnected", "session", s.id, "lines_read", s.linesRead.Load())
	default:
		terr = &TransportError{Source: s.source.Name(), Err: cause}
		s.transportEr.Add(1)
		s.mu.Lock()
		s.lastErr = terr
		s.mu.Unlock()
		slog.Warn("transport error", "session", s.id, "source", s.source.Name(), "error", cause)
	}

	s.transition(StateIdle, terr)
}

// processLine decodes one framed line and submits it. Decode failures
// never stop the stream.
func (s *Session) processLine(ctx context.Context, line string) {
	s.linesRead.Add(1)

	smp, err := sample.Decode(line, s.captureTime())
	if err != nil {
		var de *sample.DecodeError
		if !errors.As(err, &de) {
			return
		}
		var n int64
		if de.Kind == sample.UnexpectedShape {
			n = s.badShape.Add(1)
		} else {
			n = s.malformed.Add(1)
		}
		// Log only occasionally to avoid spam on a noisy line.
		if n%100 == 1 {
			slog.Debug("dropping undecodable line",
				"session", s.id,
				"kind", de.Kind.String(),
				"error", err,
				"sample", truncate(line, 120),
			)
		}
		if s.hooks.OnDecodeError != nil {
			s.hooks.OnDecodeError(de)
		}
		return
	}

	s.ingestor.Submit(ctx, smp)
}

// captureTime returns the current time in ms, never earlier than the
// previous capture so timestamps stay non-decreasing if the wall clock
// steps back.
func (s *Session) captureTime() int64 {
	ts := s.clock.Now().UnixMilli()
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	return ts
}

func (s *Session) transition(to State, err error) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.notify(to, err)
}

func (s *Session) notify(to State, err error) {
	if s.hooks.OnState != nil {
		s.hooks.OnState(to, err)
	}
}

// truncate returns the first n bytes of s (for log messages).
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status returns a snapshot of the session's current state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	st := SessionStatus{
		ID:     s.id,
		Source: s.source.Name(),
		State:  s.state,
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		st.ConnectedAt = &at
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	window := s.ingestor.Window()
	st.Connected = st.State == StateStreaming
	st.ChunksRead = s.chunks.Load()
	st.BytesRead = s.bytesRead.Load()
	st.LinesRead = s.linesRead.Load()
	st.SamplesPushed = s.ingestor.SampleCount()
	st.MalformedLines = s.malformed.Load()
	st.UnexpectedShapes = s.badShape.Load()
	st.LineOverflows = s.overflows.Load()
	st.DroppedBytes = s.dropped.Load()
	st.TransportErrors = s.transportEr.Load()
	st.WindowLen = window.Len()
	st.WindowCap = window.Cap()
	return st
}

// SessionStatus is a JSON-friendly snapshot of session state.
type SessionStatus struct {
	ID               string     `json:"id"`
	Source           string     `json:"source"`
	State            State      `json:"state"`
	Connected        bool       `json:"connected"`
	ConnectedAt      *time.Time `json:"connected_at,omitempty"`
	ChunksRead       int64      `json:"chunks_read"`
	BytesRead        int64      `json:"bytes_read"`
	LinesRead        int64      `json:"lines_read"`
	SamplesPushed    int64      `json:"samples_pushed"`
	MalformedLines   int64      `json:"malformed_lines"`
	UnexpectedShapes int64      `json:"unexpected_shapes"`
	LineOverflows    int64      `json:"line_overflows"`
	DroppedBytes     int64      `json:"dropped_bytes"`
	TransportErrors  int64      `json:"transport_errors"`
	WindowLen        int        `json:"window_len"`
	WindowCap        int        `json:"window_cap"`
	LastError        string     `json:"last_error,omitempty"`
}
