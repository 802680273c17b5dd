// Package monitor owns the device connection for the server: one live
// session at a time, the summary scheduler bound to it, and the fan-out
// of samples, summaries and state changes to events, metrics and
// history.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vyuha/sensorfeed/internal/clock"
	"github.com/vyuha/sensorfeed/internal/metrics"
	"github.com/vyuha/sensorfeed/internal/sample"
	"github.com/vyuha/sensorfeed/internal/storage"
	"github.com/vyuha/sensorfeed/internal/stream"
	"github.com/vyuha/sensorfeed/internal/summary"
)

// Event names pushed to Broadcaster.
const (
	EventSample  = "sample"
	EventSummary = "summary"
	EventState   = "state"
)

// Event is one notification for connected clients.
type Event struct {
	Name string
	Data any
}

// Broadcaster fans events out to clients. The api SSE hub satisfies it
// through an adapter.
type Broadcaster interface {
	Broadcast(event Event)
}

// History persists summaries and session records. *storage.Storage
// satisfies it.
type History interface {
	SaveSummary(ctx context.Context, s summary.Summary) error
	RecentSummaries(ctx context.Context, limit int) ([]summary.Summary, error)
	StartSession(ctx context.Context, id, source string, startedAt time.Time) error
	EndSession(ctx context.Context, rec storage.SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
}

// ErrNoHistory is returned by history queries when storage is disabled.
var ErrNoHistory = errors.New("monitor: summary history is not enabled")

// Options configures a Monitor.
type Options struct {
	Source       stream.Source
	Capacity     int
	MaxLineBytes int

	Threshold      int
	Period         time.Duration
	SummaryTimeout time.Duration
	Summarizer     summary.Summarizer // nil: local fallback summaries only

	Clock   clock.Clock
	Metrics *metrics.Metrics
	History History     // optional
	Events  Broadcaster // optional
}

// StateEvent is the payload of a state event.
type StateEvent struct {
	SessionID string       `json:"session_id"`
	Source    string       `json:"source"`
	State     stream.State `json:"state"`
	Error     string       `json:"error,omitempty"`
}

// Status is the monitor's JSON status.
type Status struct {
	Session     *stream.SessionStatus `json:"session,omitempty"`
	Connected   bool                  `json:"connected"`
	Summary     *summary.Stats        `json:"summary,omitempty"`
	SummaryText string                `json:"summary_text"`
}

// run pairs one session with its scheduler.
type run struct {
	session   *stream.Session
	scheduler *summary.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the scheduler loop exits
	decodeErr int64
	mu        sync.Mutex
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

type Monitor struct {
	opts Options

	// connectMu serialises Connect.
	connectMu sync.Mutex

	mu      sync.RWMutex
	current *run
	latest  *summary.Summary
}

// New creates an idle monitor.
func New(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Monitor{opts: opts}
}

// SourceName names the configured byte source.
func (m *Monitor) SourceName() string { return m.opts.Source.Name() }

// Connect opens a new session with a fresh window. It fails with
// stream.ErrAlreadyConnected while a session is active and with a
// *stream.ConnectionError when the source cannot be opened.
func (m *Monitor) Connect(ctx context.Context) (stream.SessionStatus, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != nil && cur.session.State() != stream.StateIdle {
		return cur.session.Status(), stream.ErrAlreadyConnected
	}

	r := &run{done: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	sess := stream.NewSession(m.opts.Source, stream.SessionOptions{
		Capacity:     m.opts.Capacity,
		MaxLineBytes: m.opts.MaxLineBytes,
		Clock:        m.opts.Clock,
		Handler: func(_ context.Context, s sample.Sample) {
			m.onSample(r, s)
		},
		Hooks: stream.Hooks{
			OnState: func(st stream.State, err error) {
				m.onState(r, st, err)
			},
			OnDecodeError: func(de *sample.DecodeError) {
				r.mu.Lock()
				r.decodeErr++
				r.mu.Unlock()
				m.opts.Metrics.IncDecodeError(de.Kind.String())
			},
			OnRead: m.opts.Metrics.AddBytes,
		},
	})
	r.session = sess
	r.scheduler = summary.NewScheduler(sess, m.opts.Summarizer, summary.Options{
		Threshold: m.opts.Threshold,
		Period:    m.opts.Period,
		Timeout:   m.opts.SummaryTimeout,
		Clock:     m.opts.Clock,
		SessionID: sess.ID(),
		OnSummary: m.onSummary,
	})

	if err := sess.Connect(ctx); err != nil {
		r.cancel()
		close(r.done)
		return sess.Status(), err
	}

	m.mu.Lock()
	m.current = r
	m.mu.Unlock()
	m.opts.Metrics.SetWindowLen(sess.Len())

	go func() {
		defer close(r.done)
		r.scheduler.Run(r.ctx)
	}()
	return sess.Status(), nil
}

// Disconnect ends the active session, if any. Samples already in its
// window stay readable until the next Connect.
func (m *Monitor) Disconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.RLock()
	r := m.current
	m.mu.RUnlock()
	if r == nil {
		return
	}
	r.session.Disconnect()
	r.cancel()
	<-r.done
}

// Close disconnects and waits for any summarizer call to return.
func (m *Monitor) Close() {
	m.Disconnect()
	m.mu.RLock()
	r := m.current
	m.mu.RUnlock()
	if r != nil {
		r.scheduler.Wait()
	}
}

// Connected reports whether a session is streaming.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.session.Connected()
}

// Window returns the current (or most recent) session's samples, oldest
// first. It is empty before the first connect.
func (m *Monitor) Window() []sample.Sample {
	m.mu.RLock()
	r := m.current
	m.mu.RUnlock()
	if r == nil {
		return []sample.Sample{}
	}
	return r.session.Snapshot()
}

// Latest returns the most recent summary across sessions, or nil.
func (m *Monitor) Latest() *summary.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil
	}
	cp := *m.latest
	return &cp
}

// Status reports the session, scheduler and summary card state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	r := m.current
	m.mu.RUnlock()

	var st Status
	if r != nil {
		ss := r.session.Status()
		stats := r.scheduler.Stats()
		st.Session = &ss
		st.Summary = &stats
		st.Connected = ss.Connected
	}
	st.SummaryText = summary.StatusText(st.Connected, m.Latest())
	return st
}

// SummaryHistory returns stored summaries, newest first.
func (m *Monitor) SummaryHistory(ctx context.Context, limit int) ([]summary.Summary, error) {
	if m.opts.History == nil {
		return nil, ErrNoHistory
	}
	return m.opts.History.RecentSummaries(ctx, limit)
}

// SessionHistory returns stored session records, newest first.
func (m *Monitor) SessionHistory(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	if m.opts.History == nil {
		return nil, ErrNoHistory
	}
	return m.opts.History.RecentSessions(ctx, limit)
}

// ---------------------------------------------------------------------------
// Session callbacks
// ---------------------------------------------------------------------------

func (m *Monitor) onSample(r *run, s sample.Sample) {
	m.opts.Metrics.ObserveSample(r.session.Len())
	m.broadcast(EventSample, s)
	r.scheduler.Observe(r.ctx)
}

func (m *Monitor) onState(r *run, st stream.State, err error) {
	ev := StateEvent{
		SessionID: r.session.ID(),
		Source:    m.opts.Source.Name(),
		State:     st,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	m.broadcast(EventState, ev)
	m.opts.Metrics.SetConnected(st == stream.StateStreaming)

	switch st {
	case stream.StateStreaming:
		m.recordSessionStart(r)
		return
	case stream.StateIdle:
	default:
		return
	}
	if err != nil {
		m.opts.Metrics.IncTransportError()
	}

	// Back to idle: stop the scheduler and drop any in-flight result.
	r.cancel()
	m.opts.Metrics.AddSummarySkipped(r.scheduler.Stats().Skipped)
	m.recordSessionEnd(r, err)
}

func (m *Monitor) recordSessionStart(r *run) {
	h := m.opts.History
	if h == nil {
		return
	}
	status := r.session.Status()
	started := m.opts.Clock.Now()
	if status.ConnectedAt != nil {
		started = *status.ConnectedAt
	}
	if err := h.StartSession(context.Background(), status.ID, status.Source, started); err != nil {
		slog.Warn("failed to record session start", "session", status.ID, "error", err)
	}
}

func (m *Monitor) recordSessionEnd(r *run, err error) {
	h := m.opts.History
	if h == nil {
		return
	}
	status := r.session.Status()
	if status.ConnectedAt == nil {
		// Connect failed; nothing was recorded.
		return
	}
	r.mu.Lock()
	decodeErrs := r.decodeErr
	r.mu.Unlock()

	ended := m.opts.Clock.Now()
	rec := storage.SessionRecord{
		ID:            status.ID,
		EndedAt:       &ended,
		EndReason:     "closed",
		SamplesPushed: status.SamplesPushed,
		DecodeErrors:  decodeErrs,
	}
	if err != nil {
		rec.EndReason = "transport_error"
		rec.LastError = err.Error()
	}
	// The session's own context is already cancelled here.
	if err := h.EndSession(context.Background(), rec); err != nil {
		slog.Warn("failed to record session end", "session", status.ID, "error", err)
	}
}

func (m *Monitor) onSummary(s summary.Summary) {
	m.mu.Lock()
	m.latest = &s
	m.mu.Unlock()

	m.opts.Metrics.ObserveSummary(string(s.Origin), time.Duration(s.LatencyMS)*time.Millisecond)
	m.broadcast(EventSummary, s)

	if h := m.opts.History; h != nil {
		if err := h.SaveSummary(context.Background(), s); err != nil {
			slog.Warn("failed to save summary", "summary", s.ID, "error", err)
		}
	}
}

func (m *Monitor) broadcast(name string, data any) {
	if m.opts.Events != nil {
		m.opts.Events.Broadcast(Event{Name: name, Data: data})
	}
}
