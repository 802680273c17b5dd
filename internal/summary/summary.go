// Package summary turns the rolling sample window into short
// natural-language summaries: on the first crossing of a sample
// threshold and then on a fixed period, with at most one request in
// flight and a locally computed fallback when the summarizer fails.
package summary

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/vyuha/sensorfeed/internal/sample"
)

// Placeholder texts shown before the first summary exists.
const (
	TextDisconnected = "Connect to device to start generating summaries."
	TextCollecting   = "Collecting data for first summary..."

	textNoData    = "No data available for analysis."
	textNoNumeric = "No numeric data available for analysis."
)

// TextUnusable answers a summary request whose samples array holds
// elements that are not samples.
const TextUnusable = "Unable to generate summary from the available data."

// Window is the read side of the sample ring.
type Window interface {
	Len() int
	Snapshot() []sample.Sample
}

// Summarizer is the external collaborator that writes the summary text.
type Summarizer interface {
	Summarize(ctx context.Context, samples []sample.Sample) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, samples []sample.Sample) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, samples []sample.Sample) (string, error) {
	return f(ctx, samples)
}

// Origin says who wrote a summary.
type Origin string

const (
	OriginAI       Origin = "ai"
	OriginFallback Origin = "fallback"
)

// Summary is one generated summary of a window snapshot.
type Summary struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Text        string    `json:"text"`
	Origin      Origin    `json:"source"`
	SampleCount int       `json:"sample_count"`
	WindowStart int64     `json:"window_start,omitempty"`
	WindowEnd   int64     `json:"window_end,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	LatencyMS   int64     `json:"latency_ms"`
	Error       string    `json:"error,omitempty"`
}

// StatusText is what a summary card shows: the latest text if there is
// one, otherwise a placeholder for the connection state.
func StatusText(connected bool, latest *Summary) string {
	if latest != nil {
		return latest.Text
	}
	if connected {
		return TextCollecting
	}
	return TextDisconnected
}

// ---------------------------------------------------------------------------
// Fallback
// ---------------------------------------------------------------------------

type fieldStats struct {
	sum, min, max float64
	n             int
}

// Fallback builds a summary locally. The fields reported are the numeric
// fields of the first sample, in key order; each is averaged over the
// samples where it is numeric.
func Fallback(samples []sample.Sample) string {
	if len(samples) == 0 {
		return textNoData
	}

	var keys []string
	samples[0].Data.Range(func(key string, v sample.Value) bool {
		if _, ok := v.Float(); ok {
			keys = append(keys, key)
		}
		return true
	})
	if len(keys) == 0 {
		return textNoNumeric
	}

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		st := fieldStats{min: math.Inf(1), max: math.Inf(-1)}
		for _, s := range samples {
			v, ok := s.Numeric(key)
			if !ok {
				continue
			}
			st.sum += v
			st.min = math.Min(st.min, v)
			st.max = math.Max(st.max, v)
			st.n++
		}
		if st.n == 0 {
			continue
		}
		parts = append(parts, capitalize(key)+": avg "+fixed1(st.sum/float64(st.n))+
			", range "+fixed1(st.min)+"-"+fixed1(st.max))
	}

	if len(parts) == 0 {
		return textNoNumeric
	}
	return "Data summary: " + strings.Join(parts, ". ") + "."
}

func fixed1(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// span returns the first and last timestamps of a snapshot.
func span(samples []sample.Sample) (start, end int64) {
	if len(samples) == 0 {
		return 0, 0
	}
	return samples[0].Timestamp, samples[len(samples)-1].Timestamp
}
