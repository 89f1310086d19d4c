package gateway

import "sync"

// replayEntry holds a single broadcast envelope for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer is a fixed-size ring of recent WS envelopes for one channel.
// Clients that detect a channel_seq gap fetch the missed range over REST.
// Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring []replayEntry
	size int
	next int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{
		ring: make([]replayEntry, capacity),
		size: capacity,
	}
}

// Push appends an envelope, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Copy so the caller's slice can be reused.
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.ring[rb.next] = replayEntry{Seq: seq, Data: cp}
	rb.next = (rb.next + 1) % rb.size
	if rb.next == 0 && !rb.full {
		rb.full = true
	}
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []replayEntry
	n := rb.count()
	for i := 0; i < n; i++ {
		e := rb.ring[rb.physIndex(i)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently buffered.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count()
}

func (rb *ReplayBuffer) count() int {
	if rb.full {
		return rb.size
	}
	return rb.next
}

// physIndex maps a logical index (0 = oldest) to a ring position.
func (rb *ReplayBuffer) physIndex(logical int) int {
	if rb.full {
		return (rb.next + logical) % rb.size
	}
	return logical
}
