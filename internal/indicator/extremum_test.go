package indicator

import (
	"errors"
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// HHV Correctness
// ────────────────────────────────────────────────────────────

func TestHHV_Period3(t *testing.T) {
	// 10, 12, 8, 13 → 10, 12, 12, 13
	// The third output is the max of the full window {12, 8} plus the
	// evicted-10 slot: window is {10,12,8} → 12; fourth evicts 10.
	hhv, err := NewHighestHighValue(3)
	if err != nil {
		t.Fatal(err)
	}
	inputs := []float64{10, 12, 8, 13}
	expected := []float64{10, 12, 12, 13}
	for i, v := range inputs {
		assertClose(t, "HHV(3)", hhv.Next(v), expected[i], 0)
	}
}

func TestHHV_EvictsOldMax(t *testing.T) {
	hhv, _ := NewHighestHighValue(3)
	for _, v := range []float64{100, 5, 6} {
		hhv.Next(v)
	}
	// 100 leaves the window now
	assertClose(t, "HHV after eviction", hhv.Next(7), 7, 0)
}

func TestHHV_PartialWindow(t *testing.T) {
	// Outputs during warm-up are the max of the samples seen so far —
	// the -Inf sentinels in unfilled slots never leak through.
	hhv, _ := NewHighestHighValue(5)
	assertClose(t, "HHV 1 sample", hhv.Next(3), 3, 0)
	assertClose(t, "HHV 2 samples", hhv.Next(1), 3, 0)
}

func TestHHV_InvalidPeriod(t *testing.T) {
	for _, p := range []int{0, -1} {
		if _, err := NewHighestHighValue(p); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("period=%d: got err=%v, want ErrInvalidParameter", p, err)
		}
	}
}

func TestHHV_Peek_DoesNotMutate(t *testing.T) {
	hhv, _ := NewHighestHighValue(3)
	hhv.Next(10)
	hhv.Next(12)

	assertClose(t, "HHV Peek", hhv.Peek(15), 15, 0)
	assertClose(t, "HHV Peek lower", hhv.Peek(5), 12, 0)
	// State untouched: the real Next(8) still sees {10,12}
	assertClose(t, "HHV after Peek", hhv.Next(8), 12, 0)
}

func TestHHV_Peek_EvictionAtCapacity(t *testing.T) {
	hhv, _ := NewHighestHighValue(3)
	for _, v := range []float64{100, 5, 6} {
		hhv.Next(v)
	}
	// A full window peek must account for 100 being evicted.
	assertClose(t, "HHV Peek evicts oldest", hhv.Peek(7), 7, 0)
}

func TestHHV_Reset(t *testing.T) {
	hhv, _ := NewHighestHighValue(3)
	for _, v := range []float64{100, 200, 300} {
		hhv.Next(v)
	}
	hhv.Reset()
	// behaves like a fresh instance
	assertClose(t, "HHV post-reset", hhv.Next(1), 1, 0)
	assertClose(t, "HHV post-reset 2", hhv.Next(2), 2, 0)
}

// ────────────────────────────────────────────────────────────
// LLV Correctness
// ────────────────────────────────────────────────────────────

func TestLLV_Period3(t *testing.T) {
	// 10, 8, 12, 7 → 10, 8, 8, 7
	llv, err := NewLowestLowValue(3)
	if err != nil {
		t.Fatal(err)
	}
	inputs := []float64{10, 8, 12, 7}
	expected := []float64{10, 8, 8, 7}
	for i, v := range inputs {
		assertClose(t, "LLV(3)", llv.Next(v), expected[i], 0)
	}
}

func TestLLV_EvictsOldMin(t *testing.T) {
	llv, _ := NewLowestLowValue(3)
	for _, v := range []float64{1, 50, 60} {
		llv.Next(v)
	}
	assertClose(t, "LLV after eviction", llv.Next(55), 50, 0)
}

func TestLLV_InvalidPeriod(t *testing.T) {
	if _, err := NewLowestLowValue(0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("period=0: got err=%v, want ErrInvalidParameter", err)
	}
}

func TestLLV_Peek_DoesNotMutate(t *testing.T) {
	llv, _ := NewLowestLowValue(3)
	llv.Next(10)
	llv.Next(12)

	assertClose(t, "LLV Peek", llv.Peek(5), 5, 0)
	assertClose(t, "LLV after Peek", llv.Next(11), 10, 0)
}

func TestLLV_Reset(t *testing.T) {
	llv, _ := NewLowestLowValue(3)
	for _, v := range []float64{1, 2, 3} {
		llv.Next(v)
	}
	llv.Reset()
	assertClose(t, "LLV post-reset", llv.Next(100), 100, 0)
}

// ────────────────────────────────────────────────────────────
// Sentinel hygiene
// ────────────────────────────────────────────────────────────

func TestExtremum_SentinelsNeverLeak(t *testing.T) {
	hhv, _ := NewHighestHighValue(10)
	llv, _ := NewLowestLowValue(10)
	for i := 0; i < 5; i++ {
		h := hhv.Next(float64(i))
		l := llv.Next(float64(i))
		if math.IsInf(h, 0) || math.IsInf(l, 0) {
			t.Fatalf("sentinel leaked: hhv=%v llv=%v at sample %d", h, l, i)
		}
	}
}
