package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vyuha/sensorfeed/internal/summary"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sensorfeed.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorfeed.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, v)
	}
	s.Close()

	// Reopening must not re-apply migrations.
	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()
}

func TestSummaryHistory(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		err := s.SaveSummary(ctx, summary.Summary{
			ID:          text,
			SessionID:   "sess",
			Text:        text,
			Origin:      summary.OriginAI,
			SampleCount: 10 + i,
			WindowStart: 1,
			WindowEnd:   int64(100 + i),
			GeneratedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save %s: %v", text, err)
		}
	}
	// Duplicate IDs are ignored.
	if err := s.SaveSummary(ctx, summary.Summary{ID: "first", Text: "dup", Origin: summary.OriginFallback, GeneratedAt: base}); err != nil {
		t.Fatalf("save duplicate: %v", err)
	}

	got, err := s.RecentSummaries(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "third" || got[1].Text != "second" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if got[0].Origin != summary.OriginAI || got[0].SampleCount != 12 || got[0].WindowEnd != 102 {
		t.Fatalf("fields not round-tripped: %+v", got[0])
	}
	if !got[0].GeneratedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected generated_at %s", got[0].GeneratedAt)
	}

	all, _ := s.RecentSummaries(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(all))
	}
}

func TestSessionHistory(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.StartSession(ctx, "a", "serial:/dev/ttyUSB0", start); err != nil {
		t.Fatalf("start: %v", err)
	}
	ended := start.Add(time.Hour)
	err := s.EndSession(ctx, SessionRecord{
		ID:            "a",
		EndedAt:       &ended,
		EndReason:     "transport_error",
		SamplesPushed: 3600,
		DecodeErrors:  2,
		LastError:     "device unplugged",
	})
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.StartSession(ctx, "b", "simulated", start.Add(2*time.Hour)); err != nil {
		t.Fatalf("start b: %v", err)
	}

	recs, err := s.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "b" || recs[0].EndedAt != nil {
		t.Fatalf("unexpected sessions %+v", recs)
	}
	a := recs[1]
	if a.EndedAt == nil || !a.EndedAt.Equal(ended) || a.SamplesPushed != 3600 || a.LastError != "device unplugged" {
		t.Fatalf("unexpected record %+v", a)
	}

	if err := s.EndSession(ctx, SessionRecord{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
