package indicator

// SimpleMovingAverage (SMA) averages the last period samples using a
// preallocated circular buffer and a running sum: O(1) per call, no
// history rescans. Before the window fills it averages over the samples
// seen so far.
type SimpleMovingAverage struct {
	period int
	buf    []float64
	idx    int
	count  int // saturates at period
	sum    float64
}

// NewSimpleMovingAverage creates an SMA over the given window length.
// Returns ErrInvalidParameter when period < 1.
func NewSimpleMovingAverage(period int) (*SimpleMovingAverage, error) {
	if period < 1 {
		return nil, ErrInvalidParameter
	}
	return &SimpleMovingAverage{period: period, buf: make([]float64, period)}, nil
}

func (s *SimpleMovingAverage) Name() string { return "SMA" }
func (s *SimpleMovingAverage) Period() int  { return s.period }

// Next feeds one sample and returns the updated average.
func (s *SimpleMovingAverage) Next(v float64) float64 {
	if s.count == s.period {
		s.sum -= s.buf[s.idx] // subtract the value being overwritten
	} else {
		s.count++
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx++
	if s.idx == s.period {
		s.idx = 0
	}
	return s.sum / float64(s.count)
}

// Peek computes what Next(v) would return without mutating state.
func (s *SimpleMovingAverage) Peek(v float64) float64 {
	if s.count == s.period {
		return (s.sum - s.buf[s.idx] + v) / float64(s.period)
	}
	return (s.sum + v) / float64(s.count+1)
}

// Reset zeroes the buffer, cursor, fill counter and running sum.
func (s *SimpleMovingAverage) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Snapshot serializes SMA state for checkpoint persistence. The raw
// running sum is stored so restored instances stay bit-identical to the
// original rather than drifting by a recomputed sum.
func (s *SimpleMovingAverage) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:   "SMA",
		Period: s.period,
		Buf:    append([]float64(nil), s.buf...),
		Idx:    s.idx,
		Count:  s.count,
		Sum:    s.sum,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint. A buffer of
// the expected size is restored field-for-field; an oversized persisted
// buffer falls back to replaying the most recent period samples.
func (s *SimpleMovingAverage) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Period >= 1 {
		s.period = snap.Period
	}
	if len(snap.Buf) == s.period {
		if len(s.buf) != s.period {
			s.buf = make([]float64, s.period)
		}
		copy(s.buf, snap.Buf)
		s.idx = snap.Idx
		s.count = snap.Count
		s.sum = snap.Sum
		return nil
	}
	if len(s.buf) != s.period {
		s.buf = make([]float64, s.period)
	}
	samples := ringSamples(snap.Buf, snap.Idx, snap.Count)
	if len(samples) > s.period {
		samples = samples[len(samples)-s.period:]
	}
	s.Reset()
	for _, v := range samples {
		s.Next(v)
	}
	return nil
}
