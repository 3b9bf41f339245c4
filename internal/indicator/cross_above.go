package indicator

// CrossAbove detects when a series crosses above a fixed threshold:
// fires iff prev <= threshold AND curr > threshold. The signal is
// edge-triggered — a sample sitting exactly on the threshold counts as
// "at or below" for the previous-sample test, so equality alone never
// fires; the next sample has to strictly exceed the threshold.
type CrossAbove struct {
	threshold float64
	window    [2]float64 // oldest to newest
	count     int        // 0..2
}

// NewCrossAbove creates a cross-above detector for the given threshold.
// A zero threshold detects sign changes.
func NewCrossAbove(threshold float64) *CrossAbove {
	return &CrossAbove{threshold: threshold}
}

// NewCrossAboveFromState rebuilds a detector from persisted samples
// (oldest to newest). Oversized input is truncated from the front to
// the most recent two samples — never rejected.
func NewCrossAboveFromState(threshold float64, samples []float64) *CrossAbove {
	c := &CrossAbove{threshold: threshold}
	if len(samples) > 2 {
		samples = samples[len(samples)-2:]
	}
	for _, s := range samples {
		c.push(s)
	}
	return c
}

func (c *CrossAbove) Name() string { return "CROSS_ABOVE" }

// Period is fixed at 2: one previous sample plus the current one.
func (c *CrossAbove) Period() int { return 2 }

func (c *CrossAbove) push(v float64) {
	if c.count == 2 {
		c.window[0] = c.window[1]
		c.window[1] = v
		return
	}
	c.window[c.count] = v
	c.count++
}

// Next feeds one sample. Returns false until two samples have been
// observed — no false edge on the very first sample.
func (c *CrossAbove) Next(v float64) bool {
	c.push(v)
	if c.count < 2 {
		return false
	}
	return c.window[0] <= c.threshold && c.window[1] > c.threshold
}

// Peek reports what Next(v) would return without mutating state.
func (c *CrossAbove) Peek(v float64) bool {
	if c.count == 0 {
		return false
	}
	return c.window[c.count-1] <= c.threshold && v > c.threshold
}

// Reset empties the two-sample window; the threshold is kept.
func (c *CrossAbove) Reset() { c.count = 0 }

// State exposes the threshold and retained samples (oldest to newest)
// for inspection and persistence. Side-effect-free.
func (c *CrossAbove) State() (threshold float64, samples []float64) {
	return c.threshold, append([]float64(nil), c.window[:c.count]...)
}

// Snapshot serializes detector state for checkpoint persistence.
func (c *CrossAbove) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      "CROSS_ABOVE",
		Period:    2,
		Threshold: c.threshold,
		Samples:   append([]float64(nil), c.window[:c.count]...),
	}
}

// RestoreFromSnapshot restores detector state from a checkpoint.
// Oversized persisted sample lists are truncated to the most recent two.
func (c *CrossAbove) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	c.threshold = snap.Threshold
	c.count = 0
	samples := snap.Samples
	if len(samples) > 2 {
		samples = samples[len(samples)-2:]
	}
	for _, s := range samples {
		c.push(s)
	}
	return nil
}
