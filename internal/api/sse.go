package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/sensorfeed/internal/metrics"
	"github.com/vyuha/sensorfeed/internal/monitor"
)

const heartbeatInterval = 30 * time.Second

// ---------------------------------------------------------------------------
// SSE Types
// ---------------------------------------------------------------------------

// SSEEvent is a single server-sent event.
type SSEEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ---------------------------------------------------------------------------
// SSEBroadcaster
// ---------------------------------------------------------------------------

// SSEBroadcaster fans out SSE events to all connected HTTP clients.
// Each client is identified by a unique string ID and receives events
// through a buffered channel.
type SSEBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan SSEEvent
	closed  bool
	metrics *metrics.Metrics
}

// NewSSEBroadcaster creates a ready-to-use broadcaster. m may be nil.
func NewSSEBroadcaster(m *metrics.Metrics) *SSEBroadcaster {
	return &SSEBroadcaster{
		clients: make(map[string]chan SSEEvent),
		metrics: m,
	}
}

// Subscribe registers a new client and returns its event channel.
// The channel is buffered (64) so slow consumers don't block the
// broadcaster. After Close the returned channel is already closed.
func (b *SSEBroadcaster) Subscribe(clientID string) chan SSEEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SSEEvent, 64)
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[clientID] = ch
	b.metrics.SetSSEClients(len(b.clients))
	slog.Debug("sse client subscribed", "client", clientID, "total", len(b.clients))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *SSEBroadcaster) Unsubscribe(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[clientID]; ok {
		close(ch)
		delete(b.clients, clientID)
		b.metrics.SetSSEClients(len(b.clients))
		slog.Debug("sse client unsubscribed", "client", clientID, "remaining", len(b.clients))
	}
}

// Broadcast sends an event to every connected client. If a client's channel
// is full the event is dropped for that client (non-blocking send).
func (b *SSEBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.clients {
		select {
		case ch <- event:
		default:
			slog.Debug("sse dropping event for slow client", "event", event.Event, "client", id)
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *SSEBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close ends every client stream and rejects new subscribers.
func (b *SSEBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.metrics.SetSSEClients(0)
}

// ---------------------------------------------------------------------------
// SSE → monitor.Broadcaster adapter
// ---------------------------------------------------------------------------

type monitorBroadcaster struct {
	inner *SSEBroadcaster
}

func (a monitorBroadcaster) Broadcast(event monitor.Event) {
	a.inner.Broadcast(SSEEvent{Event: event.Name, Data: event.Data})
}

// NewMonitorBroadcaster returns a monitor.Broadcaster backed by the given
// SSE hub. Use it when the monitor is built before the Server.
func NewMonitorBroadcaster(sse *SSEBroadcaster) monitor.Broadcaster {
	return monitorBroadcaster{inner: sse}
}

// ---------------------------------------------------------------------------
// HTTP handler: GET /api/events
// ---------------------------------------------------------------------------

// handleSSE streams sample, summary and state events. Each stream opens
// with a hello event carrying the monitor status.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE_NOT_SUPPORTED",
			"streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)

	clientID := uuid.New().String()
	ch := s.sse.Subscribe(clientID)
	defer s.sse.Unsubscribe(clientID)

	if err := writeSSEEvent(w, flusher, SSEEvent{Event: "hello", Data: s.monitor.Status()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-ch:
			if !ok {
				return // broadcaster closed
			}
			if err := writeSSEEvent(w, flusher, evt); err != nil {
				return
			}

		case t := <-heartbeat.C:
			hb := SSEEvent{
				Event: "heartbeat",
				Data:  map[string]int64{"t": t.Unix()},
			}
			if err := writeSSEEvent(w, flusher, hb); err != nil {
				return
			}
		}
	}
}

// writeSSEEvent formats and writes a single SSE frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt SSEEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
