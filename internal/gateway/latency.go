package gateway

import (
	"sort"
	"sync"
)

// LatencyTracker keeps a sliding window of end-to-end latency samples
// (milliseconds) and reports p50/p95/p99 over it. Safe for concurrent use.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []float64
	head int // next write slot
	size int // samples held, saturates at len(ring)
}

// NewLatencyTracker sizes the window; capacity <= 0 gets a default.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, capacity)}
}

// Record adds one sample, evicting the oldest once the window is full.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.ring[lt.head] = ms
	lt.head = (lt.head + 1) % len(lt.ring)
	if lt.size < len(lt.ring) {
		lt.size++
	}
	lt.mu.Unlock()
}

// Count reports how many samples the window currently holds.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.size
}

// Percentiles sorts a copy of the window and returns p50, p95 and p99.
// All zeros when no samples were recorded yet.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	window := lt.snapshot()
	if len(window) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(window)
	return quantile(window, 0.50), quantile(window, 0.95), quantile(window, 0.99)
}

// snapshot copies the held samples out from under the lock, in no
// particular order (the caller sorts anyway).
func (lt *LatencyTracker) snapshot() []float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.size == 0 {
		return nil
	}
	out := make([]float64, 0, lt.size)
	if lt.size == len(lt.ring) {
		out = append(out, lt.ring...)
	} else {
		out = append(out, lt.ring[:lt.size]...)
	}
	return out
}

// quantile interpolates linearly between the two ranks straddling q.
func quantile(sorted []float64, q float64) float64 {
	last := len(sorted) - 1
	if last == 0 {
		return sorted[0]
	}
	pos := q * float64(last)
	lo := int(pos)
	if lo >= last {
		return sorted[last]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
