package indicator

// CrossBelow detects when a series crosses below a fixed threshold:
// fires iff prev >= threshold AND curr < threshold. Mirror of
// CrossAbove, with the same edge-triggered boundary rule — equality
// belongs to the "not yet crossed" side.
type CrossBelow struct {
	threshold float64
	window    [2]float64
	count     int
}

// NewCrossBelow creates a cross-below detector for the given threshold.
func NewCrossBelow(threshold float64) *CrossBelow {
	return &CrossBelow{threshold: threshold}
}

// NewCrossBelowFromState rebuilds a detector from persisted samples
// (oldest to newest), truncating oversized input to the most recent two.
func NewCrossBelowFromState(threshold float64, samples []float64) *CrossBelow {
	c := &CrossBelow{threshold: threshold}
	if len(samples) > 2 {
		samples = samples[len(samples)-2:]
	}
	for _, s := range samples {
		c.push(s)
	}
	return c
}

func (c *CrossBelow) Name() string { return "CROSS_BELOW" }

// Period is fixed at 2.
func (c *CrossBelow) Period() int { return 2 }

func (c *CrossBelow) push(v float64) {
	if c.count == 2 {
		c.window[0] = c.window[1]
		c.window[1] = v
		return
	}
	c.window[c.count] = v
	c.count++
}

// Next feeds one sample. Returns false until two samples have been observed.
func (c *CrossBelow) Next(v float64) bool {
	c.push(v)
	if c.count < 2 {
		return false
	}
	return c.window[0] >= c.threshold && c.window[1] < c.threshold
}

// Peek reports what Next(v) would return without mutating state.
func (c *CrossBelow) Peek(v float64) bool {
	if c.count == 0 {
		return false
	}
	return c.window[c.count-1] >= c.threshold && v < c.threshold
}

// Reset empties the two-sample window; the threshold is kept.
func (c *CrossBelow) Reset() { c.count = 0 }

// State exposes the threshold and retained samples (oldest to newest).
func (c *CrossBelow) State() (threshold float64, samples []float64) {
	return c.threshold, append([]float64(nil), c.window[:c.count]...)
}

// Snapshot serializes detector state for checkpoint persistence.
func (c *CrossBelow) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      "CROSS_BELOW",
		Period:    2,
		Threshold: c.threshold,
		Samples:   append([]float64(nil), c.window[:c.count]...),
	}
}

// RestoreFromSnapshot restores detector state from a checkpoint.
func (c *CrossBelow) RestoreFromSnapshot(snap IndicatorSnapshot) error {
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
