package api

import (
	"errors"
	"net/http"

	"github.com/vyuha/sensorfeed/internal/monitor"
	"github.com/vyuha/sensorfeed/internal/stream"
)

// ---------------------------------------------------------------------------
// POST /api/session: connect to the device
// ---------------------------------------------------------------------------

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	status, err := s.monitor.Connect(r.Context())
	if err != nil {
		var cerr *stream.ConnectionError
		switch {
		case errors.Is(err, stream.ErrAlreadyConnected):
			writeError(w, http.StatusConflict, "ALREADY_CONNECTED",
				"a device session is already active")
		case errors.As(err, &cerr):
			writeError(w, http.StatusBadGateway, "CONNECT_FAILED", cerr.Error())
		default:
			writeError(w, http.StatusInternalServerError, "CONNECT_ERROR", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data": status,
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/session: disconnect
// ---------------------------------------------------------------------------

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.monitor.Disconnect()
	writeJSON(w, http.StatusOK, map[string]any{
		"data": s.monitor.Status(),
	})
}

// ---------------------------------------------------------------------------
// GET /api/session: session status
// ---------------------------------------------------------------------------

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": s.monitor.Status(),
	})
}

// ---------------------------------------------------------------------------
// GET /api/window: current window snapshot
// ---------------------------------------------------------------------------

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	samples := s.monitor.Window()
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"samples": samples,
			"count":   len(samples),
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/sessions?limit=N: session history
// ---------------------------------------------------------------------------

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20, 200)
	records, err := s.monitor.SessionHistory(r.Context(), limit)
	if err != nil {
		if errors.Is(err, monitor.ErrNoHistory) {
			writeError(w, http.StatusServiceUnavailable, "HISTORY_DISABLED",
				"session history is not enabled (no storage path configured)")
			return
		}
		writeError(w, http.StatusInternalServerError, "QUERY_ERROR",
			"failed to load sessions: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"count": len(records),
	})
}
