// Package indicator provides stateful streaming technical indicators.
//
// Every indicator consumes one observation per call and produces an
// updated statistic without re-scanning history: O(period) time and
// O(period) memory at worst, with storage allocated once at
// construction. Instances own their state privately and are designed
// for single-goroutine use — callers sharing an instance across
// goroutines must serialize access themselves.
package indicator

// Indicator is the capability set shared by all indicators.
type Indicator interface {
	// Name returns the indicator type name (e.g. "HHV", "CROSS_ABOVE").
	Name() string

	// Period returns the window length needed for a fully primed
	// result. Pure — callable at any time without side effects.
	Period() int

	// Reset restores the state immediately after construction without
	// reallocating the underlying storage.
	Reset()
}

// ValueIndicator produces a real-valued output per sample.
type ValueIndicator interface {
	Indicator

	// Next feeds one sample and returns the updated value. Never
	// fails: NaN and infinities propagate through the arithmetic
	// unchecked rather than being rejected.
	Next(v float64) float64

	// Peek returns what Next(v) would return WITHOUT mutating state.
	// Used for live previews from forming bars.
	Peek(v float64) float64
}

// SignalIndicator produces an edge-triggered boolean output per sample.
type SignalIndicator interface {
	Indicator

	// Next feeds one sample and reports whether the signal fired on
	// this step. Never fails.
	Next(v float64) bool

	// Peek returns what Next(v) would return without mutating state.
	Peek(v float64) bool
}

// Snapshottable is implemented by indicators that support state
// serialization for checkpoint persistence.
type Snapshottable interface {
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}
