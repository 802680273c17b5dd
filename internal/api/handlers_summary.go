package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vyuha/sensorfeed/internal/monitor"
	"github.com/vyuha/sensorfeed/internal/sample"
	"github.com/vyuha/sensorfeed/internal/summary"
)

const maxSummaryBody = 1 << 20

// ---------------------------------------------------------------------------
// POST /api/summary: summarize a batch of samples
// ---------------------------------------------------------------------------

// handleSummarize speaks the summary wire contract: {"text"} on success,
// {"message"} when samples is not an array. A provider failure still
// answers 200 with the local fallback text.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Samples json.RawMessage `json:"samples"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSummaryBody))
	if err := dec.Decode(&body); err != nil || !isJSONArray(body.Samples) {
		writeJSON(w, http.StatusBadRequest, summary.ErrorResponse{Message: "Invalid samples data"})
		return
	}
	var samples []sample.Sample
	if err := json.Unmarshal(body.Samples, &samples); err != nil {
		// The array itself is valid; only its elements are not samples.
		slog.Debug("summary request with unusable samples", "error", err)
		writeJSON(w, http.StatusOK, summary.Response{Text: summary.TextUnusable})
		return
	}

	var text string
	if s.summarizer != nil {
		out, err := s.summarizer.Summarize(r.Context(), samples)
		if err != nil {
			slog.Warn("summary provider failed, answering with fallback", "samples", len(samples), "error", err)
		}
		text = strings.TrimSpace(out)
	}
	if text == "" {
		text = summary.Fallback(samples)
	}
	writeJSON(w, http.StatusOK, summary.Response{Text: text})
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ---------------------------------------------------------------------------
// GET /api/summary?limit=N: latest summary and history
// ---------------------------------------------------------------------------

func (s *Server) handleLatestSummary(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	data := map[string]any{
		"text":      status.SummaryText,
		"connected": status.Connected,
		"latest":    s.monitor.Latest(),
	}

	history, err := s.monitor.SummaryHistory(r.Context(), queryLimit(r, 10, 100))
	switch {
	case err == nil:
		data["history"] = history
	case errors.Is(err, monitor.ErrNoHistory):
	default:
		writeError(w, http.StatusInternalServerError, "QUERY_ERROR",
			"failed to load summary history: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
	})
}
