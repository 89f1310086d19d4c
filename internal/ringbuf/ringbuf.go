// Package ringbuf provides a lock-free single-producer single-consumer
// ring buffer for model.Tick, sitting between the feed reader and the
// aggregator so a slow consumer never blocks the socket read loop.
package ringbuf

import (
	"sync/atomic"

	"ta-enginev1/internal/model"
)

// cacheLine pads producer and consumer indices onto separate lines.
const cacheLine = 64

// Ring is a lock-free SPSC ring of ticks. Capacity is a power of two so
// the index wrap is a bitwise AND.
type Ring struct {
	buf  []model.Tick
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring with capacity rounded up to the next power of two,
// minimum 2.
func New(capacity int) *Ring {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring{
		buf:  make([]model.Tick, n),
		mask: uint64(n - 1),
	}
}

// Push appends a tick without blocking. A full ring drops the tick,
// counts the overflow and returns false.
func (r *Ring) Push(t model.Tick) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest tick without blocking. Returns false when the
// ring is empty.
func (r *Ring) Pop() (model.Tick, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return model.Tick{}, false
	}

	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

// Len returns the number of buffered ticks.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total pushes dropped against a full ring.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
