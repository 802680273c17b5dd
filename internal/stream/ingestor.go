package stream

import (
	"context"
	"sync/atomic"

	"github.com/vyuha/sensorfeed/internal/ring"
	"github.com/vyuha/sensorfeed/internal/sample"
)

// SampleHandler observes a sample after it has entered the window. The
// server supplies one that feeds SSE clients, metrics and the summary
// scheduler.
type SampleHandler func(ctx context.Context, s sample.Sample)

// ---------------------------------------------------------------------------
// Ingestor is the single writer of a session's window.
// ---------------------------------------------------------------------------

type Ingestor struct {
	window  *ring.Ring[sample.Sample]
	handler SampleHandler
	count   atomic.Int64
}

// NewIngestor creates an Ingestor pushing into window. handler may be nil.
func NewIngestor(window *ring.Ring[sample.Sample], handler SampleHandler) *Ingestor {
	return &Ingestor{window: window, handler: handler}
}

// Submit pushes s into the window and then notifies the handler.
func (ing *Ingestor) Submit(ctx context.Context, s sample.Sample) {
	ing.window.Push(s)
	ing.count.Add(1)
	if ing.handler != nil {
		ing.handler(ctx, s)
	}
}

// SampleCount returns the total number of samples pushed, including
// those since evicted.
func (ing *Ingestor) SampleCount() int64 { return ing.count.Load() }

// Window returns the ring the ingestor writes to.
func (ing *Ingestor) Window() *ring.Ring[sample.Sample] { return ing.window }
