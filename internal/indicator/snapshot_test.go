package indicator

import (
	"encoding/json"
	"testing"
	"time"

	"ta-systemv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Per-indicator snapshot round-trips
// ────────────────────────────────────────────────────────────

func TestCrossAbove_SnapshotRoundTrip(t *testing.T) {
	ca := NewCrossAbove(10.0)
	ca.Next(12)
	ca.Next(9)
	snap := ca.Snapshot()

	ca2 := NewCrossAbove(0)
	if err := ca2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}

	// Both must now fire on 11 (prev=9)
	if got, got2 := ca.Next(11), ca2.Next(11); got != got2 || !got2 {
		t.Errorf("restored detector diverged: orig=%v restored=%v", got, got2)
	}
}

func TestCrossBelow_SnapshotRoundTrip(t *testing.T) {
	cb := NewCrossBelow(10.0)
	cb.Next(9)
	cb.Next(11)
	snap := cb.Snapshot()

	cb2 := NewCrossBelow(0)
	if err := cb2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if got, got2 := cb.Next(9), cb2.Next(9); got != got2 || !got2 {
		t.Errorf("restored detector diverged: orig=%v restored=%v", got, got2)
	}
}

func TestHHV_SnapshotRoundTrip(t *testing.T) {
	hhv, _ := NewHighestHighValue(3)
	for _, v := range []float64{10, 12, 8, 13} {
		hhv.Next(v)
	}
	snap := hhv.Snapshot()

	hhv2, _ := NewHighestHighValue(3)
	if err := hhv2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}

	// Continuation stays bit-identical
	for _, v := range []float64{5, 20, 1} {
		assertClose(t, "HHV continuation", hhv2.Next(v), hhv.Next(v), 0)
	}
}

func TestLLV_SnapshotRoundTrip(t *testing.T) {
	llv, _ := NewLowestLowValue(4)
	for _, v := range []float64{10, 8, 12, 7, 9} {
		llv.Next(v)
	}
	snap := llv.Snapshot()

	llv2, _ := NewLowestLowValue(4)
	if err := llv2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{6, 15, 3} {
		assertClose(t, "LLV continuation", llv2.Next(v), llv.Next(v), 0)
	}
}

func TestForecast_SnapshotRoundTrip(t *testing.T) {
	lrp, _ := NewLinearRegressionPrediction(3)
	for _, v := range []float64{1, 2, 3, 4} {
		lrp.Next(v)
	}
	snap := lrp.Snapshot()

	lrp2, _ := NewLinearRegressionPrediction(3)
	if err := lrp2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	for _, v := range []float64{5, 6} {
		assertClose(t, "FORECAST continuation", lrp2.Next(v), lrp.Next(v), 0)
	}
}

func TestSMA_SnapshotRoundTrip(t *testing.T) {
	sma, _ := NewSimpleMovingAverage(5)
	for _, v := range []float64{100, 102, 104, 103, 105, 101} {
		sma.Next(v)
	}
	snap := sma.Snapshot()

	sma2, _ := NewSimpleMovingAverage(5)
	if err := sma2.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "SMA continuation", sma2.Next(107), sma.Next(107), 0)
}

// ────────────────────────────────────────────────────────────
// Oversized persisted state is truncated, never rejected
// ────────────────────────────────────────────────────────────

func TestRestore_OversizedBufferTruncates(t *testing.T) {
	// An HHV(3) handed a 6-sample window keeps the newest three.
	hhv, _ := NewHighestHighValue(3)
	err := hhv.RestoreFromSnapshot(IndicatorSnapshot{
		Type:   "HHV",
		Period: 3,
		Buf:    []float64{100, 1, 2, 3, 4, 5},
		Idx:    0, // never wrapped: logical order == storage order... except count
		Count:  6,
	})
	if err != nil {
		t.Fatal(err)
	}
	// The stale 100 must be gone: window is {4,5,x} after one more push.
	assertClose(t, "HHV post-truncation", hhv.Next(1), 5, 0)

	lrp, _ := NewLinearRegressionPrediction(3)
	err = lrp.RestoreFromSnapshot(IndicatorSnapshot{
		Type:    "FORECAST",
		Period:  3,
		Samples: []float64{9, 9, 9, 1, 2, 3}, // stale flat prefix
	})
	if err != nil {
		t.Fatal(err)
	}
	// Only {1,2,3} survived: pushing 4 fits {2,3,4}, projecting 5
	assertClose(t, "FORECAST post-truncation", lrp.Peek(4), 5, 1e-9)
}

func TestRestore_PeriodChange(t *testing.T) {
	// Restoring into a different period adopts the snapshot's period.
	sma, _ := NewSimpleMovingAverage(2)
	snap := IndicatorSnapshot{
		Type:   "SMA",
		Period: 4,
		Buf:    []float64{10, 20, 30, 40},
		Idx:    0,
		Count:  4,
		Sum:    100,
	}
	if err := sma.RestoreFromSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if sma.Period() != 4 {
		t.Fatalf("Period()=%d after restore, want 4", sma.Period())
	}
	assertClose(t, "SMA restored value", sma.Next(50), (20+30+40+50)/4.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Engine-level snapshot / restore
// ────────────────────────────────────────────────────────────

func testConfigs() []TFIndicatorConfig {
	return []TFIndicatorConfig{
		{
			TF: 60,
			Indicators: []IndicatorConfig{
				{Type: "CROSS_ABOVE", Threshold: 100},
				{Type: "HHV", Period: 3},
				{Type: "LLV", Period: 3},
				{Type: "FORECAST", Period: 3},
				{Type: "SMA", Period: 3},
			},
		},
	}
}

func tfCandle(token string, closePrice float64, ts int64) model.TFCandle {
	return model.TFCandle{
		Token: token, Exchange: "NSE", TF: 60,
		TS:   time.Unix(ts, 0).UTC(),
		Open: closePrice, High: closePrice + 0.5, Low: closePrice - 0.5, Close: closePrice,
	}
}

func TestEngineSnapshot_RoundTrip(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98, 103} {
		engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
		engine.Process(tfCandle("TCS", p*2, int64(60*i)))
	}

	snap, err := SnapshotEngine(engine, "1700000000000-0")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StreamID != "1700000000000-0" {
		t.Errorf("StreamID=%q", snap.StreamID)
	}
	if len(snap.Tokens) != 2 {
		t.Fatalf("expected 2 token snapshots, got %d", len(snap.Tokens))
	}

	// JSON round-trip, the way checkpoints actually travel
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded EngineSnapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	restored, err := RestoreEngine(testConfigs(), &decoded)
	if err != nil {
		t.Fatal(err)
	}

	// Both engines must produce identical results on the next bar.
	next := tfCandle("RELIANCE", 105, 240)
	orig := engine.Process(next)
	rest := restored.Process(next)
	if len(orig) != len(rest) {
		t.Fatalf("result count mismatch: %d vs %d", len(orig), len(rest))
	}
	for i := range orig {
		if orig[i].Name != rest[i].Name || orig[i].Fired != rest[i].Fired || orig[i].Ready != rest[i].Ready {
			t.Errorf("result %d diverged: %+v vs %+v", i, orig[i], rest[i])
		}
		assertClose(t, "restored engine "+orig[i].Name, rest[i].Value, orig[i].Value, 0)
	}
}

func TestRestoreEngine_ConfigChange_ColdStartsNew(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98} {
		engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}
	snap, err := SnapshotEngine(engine, "0-0")
	if err != nil {
		t.Fatal(err)
	}

	// New config adds an SMA_5 and changes the cross threshold.
	newCfg := []TFIndicatorConfig{
		{
			TF: 60,
			Indicators: []IndicatorConfig{
				{Type: "CROSS_ABOVE", Threshold: 200}, // different param → cold
				{Type: "HHV", Period: 3},              // matches → restored
				{Type: "SMA", Period: 5},              // new → cold
			},
		},
	}
	restored, err := RestoreEngine(newCfg, snap)
	if err != nil {
		t.Fatal(err)
	}

	results := restored.Process(tfCandle("RELIANCE", 104, 180))
	byName := map[string]model.IndicatorResult{}
	for _, r := range results {
		byName[r.Name] = r
	}

	// HHV kept its 3-bar history: window {101,98,+104 high offsets}
	hhv := byName["HHV_3"]
	assertClose(t, "restored HHV", hhv.Value, 104.5, 0)

	// Cold SMA_5 has only this one bar
	sma := byName["SMA_5"]
	assertClose(t, "cold SMA", sma.Value, 104, 0)
	if sma.Ready {
		t.Error("cold SMA_5 should not be ready after one bar")
	}
}

func TestRestoreEngine_DroppedTF_Skipped(t *testing.T) {
	engine := NewEngine(testConfigs())
	engine.Process(tfCandle("RELIANCE", 100, 0))
	snap, _ := SnapshotEngine(engine, "0-0")

	restored, err := RestoreEngine([]TFIndicatorConfig{
		{TF: 300, Indicators: []IndicatorConfig{{Type: "SMA", Period: 3}}},
	}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.ProcessPeek(tfCandle("RELIANCE", 100, 0)); got != nil {
		t.Errorf("TF 60 state should have been dropped, got %v", got)
	}
}
