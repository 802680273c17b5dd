package ring

import "sync"

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 60

// ---------------------------------------------------------------------------
// Ring is a fixed-capacity circular buffer that keeps the most recent
// values in arrival order. Once full, every Push evicts exactly the
// oldest value.
// ---------------------------------------------------------------------------

// Ring is safe for one writer and any number of concurrent readers.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // next write position
	tail  int // oldest element
	count int
}

// New creates a ring holding at most capacity values. The capacity is
// fixed for the lifetime of the ring.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full. It
// always succeeds in O(1).
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.tail = (r.tail + 1) % len(r.buf)
}

// Snapshot returns a copy of the held values, oldest first. The returned
// slice never aliases the ring's storage, so later pushes cannot change it.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.tail+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of values currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// IsFull reports whether the next Push will evict a value.
func (r *Ring[T]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count == len(r.buf)
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }
