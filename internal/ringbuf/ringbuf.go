// Package ringbuf implements a lock-free single-producer single-consumer
// queue of indicator results. The engine goroutine pushes, the flush
// goroutine pops; with exactly one of each, two atomic counters are all
// the synchronization needed.
package ringbuf

import (
	"math/bits"
	"sync/atomic"

	"ta-systemv1/internal/model"
)

// pad keeps the producer and consumer counters on separate cache lines
// so neither core invalidates the other's line on every operation.
type pad [64]byte

// Ring is the SPSC queue. The slice length is always a power of two, so
// index wrapping is a single AND with mask.
type Ring struct {
	slots []model.IndicatorResult
	mask  uint64

	_  pad
	wr atomic.Uint64 // next write position, producer-owned
	_  pad
	rd atomic.Uint64 // next read position, consumer-owned
	_  pad

	dropped atomic.Uint64
}

// New allocates a ring holding at least capacity items (rounded up to a
// power of two, minimum 2).
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := 1 << bits.Len(uint(capacity-1))
	return &Ring{
		slots: make([]model.IndicatorResult, n),
		mask:  uint64(n - 1),
	}
}

// Push enqueues res without blocking. A full ring counts the drop and
// returns false; the value is discarded.
func (r *Ring) Push(res model.IndicatorResult) bool {
	w := r.wr.Load()
	if w-r.rd.Load() == uint64(len(r.slots)) {
		r.dropped.Add(1)
		return false
	}
	r.slots[w&r.mask] = res
	r.wr.Store(w + 1)
	return true
}

// Pop dequeues the oldest result without blocking. The second return is
// false when the ring is empty.
func (r *Ring) Pop() (model.IndicatorResult, bool) {
	rd := r.rd.Load()
	if rd == r.wr.Load() {
		return model.IndicatorResult{}, false
	}
	res := r.slots[rd&r.mask]
	r.rd.Store(rd + 1)
	return res, true
}

// PopBatch drains up to max results into dst and returns it. Callers
// pass the previous batch back in so the flush loop stays allocation-free.
func (r *Ring) PopBatch(dst []model.IndicatorResult, max int) []model.IndicatorResult {
	dst = dst[:0]
	for len(dst) < max {
		res, ok := r.Pop()
		if !ok {
			break
		}
		dst = append(dst, res)
	}
	return dst
}

// Len reports how many items are currently queued.
func (r *Ring) Len() int { return int(r.wr.Load() - r.rd.Load()) }

// Cap reports the ring capacity after rounding.
func (r *Ring) Cap() int { return len(r.slots) }

// Overflow reports the total number of pushes rejected because the ring
// was full.
func (r *Ring) Overflow() uint64 { return r.dropped.Load() }
