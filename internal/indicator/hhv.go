package indicator

import "math"

// HighestHighValue (HHV) tracks the maximum over the last period samples.
// Storage is a preallocated circular buffer seeded with -Inf; the fold
// scans only the first count slots, so a partially filled window reports
// the true max of the samples seen so far and the sentinels never leak
// into results. Each call rescans the window — O(period), acceptable
// for the target window sizes.
type HighestHighValue struct {
	period int
	idx    int // next write position, wraps modulo period
	count  int // filled slots, saturates at period
	buf    []float64
}

// NewHighestHighValue creates a max tracker over the given window length.
// Returns ErrInvalidParameter when period < 1.
func NewHighestHighValue(period int) (*HighestHighValue, error) {
	if period < 1 {
		return nil, ErrInvalidParameter
	}
	h := &HighestHighValue{period: period, buf: make([]float64, period)}
	for i := range h.buf {
		h.buf[i] = math.Inf(-1)
	}
	return h, nil
}

func (h *HighestHighValue) Name() string { return "HHV" }
func (h *HighestHighValue) Period() int  { return h.period }

// Next writes the sample into the ring and returns the max of the
// filled prefix.
func (h *HighestHighValue) Next(v float64) float64 {
	h.buf[h.idx] = v
	h.idx++
	if h.idx == h.period {
		h.idx = 0
	}
	if h.count < h.period {
		h.count++
	}
	max := math.Inf(-1)
	for _, s := range h.buf[:h.count] {
		if s > max {
			max = s
		}
	}
	return max
}

// Peek computes what Next(v) would return without mutating state.
func (h *HighestHighValue) Peek(v float64) float64 {
	n := h.count
	if n < h.period {
		n++ // the hypothetical write lands at idx == count
	}
	max := math.Inf(-1)
	for i := 0; i < n; i++ {
		s := h.buf[i]
		if i == h.idx {
			s = v
		}
		if s > max {
			max = s
		}
	}
	return max
}

// Reset rewrites every slot to the sentinel and zeroes the cursor and
// fill counter. The buffer is reused, not reallocated.
func (h *HighestHighValue) Reset() {
	h.idx = 0
	h.count = 0
	for i := range h.buf {
		h.buf[i] = math.Inf(-1)
	}
}

// Snapshot serializes tracker state for checkpoint persistence.
func (h *HighestHighValue) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:   "HHV",
		Period: h.period,
		Buf:    append([]float64(nil), h.buf...),
		Idx:    h.idx,
		Count:  h.count,
	}
}

// RestoreFromSnapshot restores tracker state from a checkpoint. An
// oversized persisted buffer is truncated to the most recent period
// samples instead of failing.
func (h *HighestHighValue) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Period >= 1 {
		h.period = snap.Period
	}
	if len(h.buf) != h.period {
		h.buf = make([]float64, h.period)
	}
	samples := ringSamples(snap.Buf, snap.Idx, snap.Count)
	if len(samples) > h.period {
		samples = samples[len(samples)-h.period:]
	}
	h.Reset()
	for _, s := range samples {
		h.Next(s)
	}
	return nil
}
