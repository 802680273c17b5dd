package summary

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/sensorfeed/internal/clock"
	"github.com/vyuha/sensorfeed/internal/sample"
)

const (
	DefaultThreshold = 10
	DefaultPeriod    = 60 * time.Second
	DefaultTimeout   = 30 * time.Second
)

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Threshold int
	Period    time.Duration
	Timeout   time.Duration // per summarizer call
	Clock     clock.Clock
	SessionID string

	// OnSummary receives every published summary.
	OnSummary func(Summary)
}

// Stats counts scheduler activity.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Skipped    int64 `json:"skipped"`
	Failures   int64 `json:"failures"`
	Discarded  int64 `json:"discarded"`
	InFlight   bool  `json:"in_flight"`
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler dispatches window snapshots to a Summarizer. One Scheduler
// serves one session: create it on connect, Run it until disconnect.
type Scheduler struct {
	window     Window
	summarizer Summarizer
	clock      clock.Clock
	threshold  int
	period     time.Duration
	timeout    time.Duration
	sessionID  string
	onSummary  func(Summary)

	primed   atomic.Bool // first threshold crossing handled
	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu     sync.RWMutex
	latest *Summary

	dispatched atomic.Int64
	skipped    atomic.Int64
	failures   atomic.Int64
	discarded  atomic.Int64
}

// NewScheduler creates a scheduler over window. A nil summarizer makes
// every summary a local fallback.
func NewScheduler(window Window, summarizer Summarizer, opts Options) *Scheduler {
	s := &Scheduler{
		window:     window,
		summarizer: summarizer,
		clock:      opts.Clock,
		threshold:  opts.Threshold,
		period:     opts.Period,
		timeout:    opts.Timeout,
		sessionID:  opts.SessionID,
		onSummary:  opts.OnSummary,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.period <= 0 {
		s.period = DefaultPeriod
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// Observe is called after every push. The first time the window holds
// at least threshold samples it dispatches a summary; afterwards it does
// nothing and the periodic tick takes over.
func (s *Scheduler) Observe(ctx context.Context) {
	if s.primed.Load() || s.window.Len() < s.threshold {
		return
	}
	if s.primed.CompareAndSwap(false, true) {
		s.dispatch(ctx, "threshold")
	}
}

// Run ticks every period until ctx is done, dispatching whenever the
// window holds at least threshold samples. It stops its ticker on
// return. In-flight calls are not waited for; use Wait.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.window.Len() >= s.threshold {
				s.dispatch(ctx, "tick")
			}
		}
	}
}

// Wait blocks until no summarizer call is running.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Latest returns the most recent summary, or nil.
func (s *Scheduler) Latest() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

// Stats returns the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
		Failures:   s.failures.Load(),
		Discarded:  s.discarded.Load(),
		InFlight:   s.inFlight.Load(),
	}
}

// dispatch starts one summarizer call unless one is already running. It
// reports whether a call was started.
func (s *Scheduler) dispatch(ctx context.Context, reason string) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		slog.Debug("summary skipped, previous call still running", "session", s.sessionID, "reason", reason)
		return false
	}
	snapshot := s.window.Snapshot()
	s.dispatched.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.summarize(ctx, snapshot)
	}()
	return true
}

// summarize runs one call. The call outlives ctx; its result is dropped
// if ctx ended meanwhile.
func (s *Scheduler) summarize(ctx context.Context, snapshot []sample.Sample) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	started := s.clock.Now()
	var text string
	var err error
	if s.summarizer != nil {
		text, err = s.summarizer.Summarize(callCtx, snapshot)
	}

	if ctx.Err() != nil {
		s.discarded.Add(1)
		slog.Debug("summary discarded after disconnect", "session", s.sessionID)
		return
	}

	start, end := span(snapshot)
	sum := Summary{
		ID:          uuid.New().String(),
		SessionID:   s.sessionID,
		Text:        strings.TrimSpace(text),
		Origin:      OriginAI,
		SampleCount: len(snapshot),
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: s.clock.Now().UTC(),
	}
	sum.LatencyMS = sum.GeneratedAt.Sub(started).Milliseconds()
	if err != nil || sum.Text == "" {
		switch {
		case err != nil:
			s.failures.Add(1)
			sum.Error = err.Error()
			slog.Warn("summarizer failed, using fallback", "session", s.sessionID, "error", err)
		case s.summarizer != nil:
			s.failures.Add(1)
			slog.Warn("summarizer returned no text, using fallback", "session", s.sessionID)
		}
		sum.Text = Fallback(snapshot)
		sum.Origin = OriginFallback
	}

	s.mu.Lock()
	s.latest = &sum
	s.mu.Unlock()

	slog.Info("summary published",
		"session", s.sessionID,
		"source", sum.Origin,
		"samples", sum.SampleCount,
		"latency_ms", sum.LatencyMS,
	)
	if s.onSummary != nil {
		s.onSummary(sum)
	}
}
