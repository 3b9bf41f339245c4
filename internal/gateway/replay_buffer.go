package gateway

import "sync"

// replayEntry is one broadcast envelope retained for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer retains the most recent envelopes of a channel so a
// client that detects a sequence gap can refetch them via /api/missed.
// Seqs are pushed in increasing order; Range exploits that to stop
// scanning past the requested window. Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	next    int  // slot the next Push lands in
	wrapped bool // true once the ring has lapped itself
}

// NewReplayBuffer retains up to capacity envelopes (default 500).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push retains an envelope, evicting the oldest when full. The payload
// is copied; broadcast reuses its buffers.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	held := append([]byte(nil), data...)

	rb.mu.Lock()
	rb.entries[rb.next] = replayEntry{Seq: seq, Data: held}
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.wrapped = true
	}
	rb.mu.Unlock()
}

// Range returns the retained entries with fromSeq <= Seq <= toSeq, oldest
// first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	n := rb.held()
	for i := 0; i < n; i++ {
		e := rb.entries[rb.physical(i)]
		if e.Seq > toSeq {
			break
		}
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many envelopes are retained.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.held()
}

func (rb *ReplayBuffer) held() int {
	if rb.wrapped {
		return len(rb.entries)
	}
	return rb.next
}

// physical maps a logical index (0 = oldest retained) to a ring slot.
func (rb *ReplayBuffer) physical(logical int) int {
	if !rb.wrapped {
		return logical
	}
	return (rb.next + logical) % len(rb.entries)
}
