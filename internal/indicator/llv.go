package indicator

import "math"

// LowestLowValue (LLV) tracks the minimum over the last period samples.
// Mirror of HighestHighValue with +Inf sentinels and a min fold.
type LowestLowValue struct {
	period int
	idx    int
	count  int
	buf    []float64
}

// NewLowestLowValue creates a min tracker over the given window length.
// Returns ErrInvalidParameter when period < 1.
func NewLowestLowValue(period int) (*LowestLowValue, error) {
	if period < 1 {
		return nil, ErrInvalidParameter
	}
	l := &LowestLowValue{period: period, buf: make([]float64, period)}
	for i := range l.buf {
		l.buf[i] = math.Inf(1)
	}
	return l, nil
}

func (l *LowestLowValue) Name() string { return "LLV" }
func (l *LowestLowValue) Period() int  { return l.period }

// Next writes the sample into the ring and returns the min of the
// filled prefix.
func (l *LowestLowValue) Next(v float64) float64 {
	l.buf[l.idx] = v
	l.idx++
	if l.idx == l.period {
		l.idx = 0
	}
	if l.count < l.period {
		l.count++
	}
	min := math.Inf(1)
	for _, s := range l.buf[:l.count] {
		if s < min {
			min = s
		}
	}
	return min
}

// Peek computes what Next(v) would return without mutating state.
func (l *LowestLowValue) Peek(v float64) float64 {
	n := l.count
	if n < l.period {
		n++
	}
	min := math.Inf(1)
	for i := 0; i < n; i++ {
		s := l.buf[i]
		if i == l.idx {
			s = v
		}
		if s < min {
			min = s
		}
	}
	return min
}

// Reset rewrites every slot to the sentinel and zeroes the cursor and
// fill counter without reallocating.
func (l *LowestLowValue) Reset() {
	l.idx = 0
	l.count = 0
	for i := range l.buf {
		l.buf[i] = math.Inf(1)
	}
}

// Snapshot serializes tracker state for checkpoint persistence.
func (l *LowestLowValue) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:   "LLV",
		Period: l.period,
		Buf:    append([]float64(nil), l.buf...),
		Idx:    l.idx,
		Count:  l.count,
	}
}

// RestoreFromSnapshot restores tracker state from a checkpoint,
// truncating oversized persisted buffers to the most recent period samples.
func (l *LowestLowValue) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Period >= 1 {
		l.period = snap.Period
	}
	if len(l.buf) != l.period {
		l.buf = make([]float64, l.period)
	}
	samples := ringSamples(snap.Buf, snap.Idx, snap.Count)
	if len(samples) > l.period {
		samples = samples[len(samples)-l.period:]
	}
	l.Reset()
	for _, s := range samples {
		l.Next(s)
	}
	return nil
}
