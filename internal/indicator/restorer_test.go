package indicator

import (
	"testing"

	"ta-systemv1/internal/model"
)

type fakeHistoryReader struct {
	candles map[int][]model.TFCandle
}

func (f *fakeHistoryReader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	return f.candles[tf], nil
}

func TestRestorer_NilSnapshot_ColdStart(t *testing.T) {
	r := NewRestorer(testConfigs())
	engine, err := r.RestoreFromSnap(nil)
	if err != nil {
		t.Fatal(err)
	}
	if engine == nil {
		t.Fatal("cold start should still return an engine")
	}
	// Fresh engine: first bar for any token is a warm-up bar.
	results := engine.Process(tfCandle("RELIANCE", 100, 0))
	for _, res := range results {
		if res.Name == "SMA_3" && res.Ready {
			t.Error("cold-started engine should not be ready after one bar")
		}
	}
}

func TestRestorer_ReplaySkipsFormingBars(t *testing.T) {
	r := NewRestorer(testConfigs())
	engine := NewEngine(testConfigs())

	forming := tfCandle("RELIANCE", 100, 60)
	forming.Forming = true
	replayed := r.ReplayCandles(engine, []model.TFCandle{
		tfCandle("RELIANCE", 99, 0),
		forming,
		tfCandle("RELIANCE", 101, 120),
	})
	if replayed != 2 {
		t.Errorf("replayed=%d, want 2 (forming bar skipped)", replayed)
	}
}

func TestRestorer_BackfillWarmsUpIndicators(t *testing.T) {
	history := make([]model.TFCandle, 0, 10)
	for i := 0; i < 10; i++ {
		c := tfCandle("RELIANCE", 100+float64(i), int64(60*i))
		history = append(history, c)
	}
	reader := &fakeHistoryReader{candles: map[int][]model.TFCandle{60: history}}

	r := NewRestorer(testConfigs())
	engine := NewEngine(testConfigs())

	var emitted []model.IndicatorResult
	fed := r.BackfillFromStore(engine, reader, func(rs []model.IndicatorResult) {
		emitted = append(emitted, rs...)
	})

	// Max warm-up across testConfigs is 3, so only the newest 3 candles feed.
	if fed != 3 {
		t.Errorf("fed=%d, want 3", fed)
	}
	if len(emitted) != 3*5 {
		t.Errorf("emitted %d results, want 15", len(emitted))
	}

	// Everything with period 3 is now primed: the next live bar is ready.
	results := engine.Process(tfCandle("RELIANCE", 200, 600))
	for _, res := range results {
		if !res.Ready {
			t.Errorf("%s not ready after backfill", res.Name)
		}
	}
}

func TestRestorer_BackfillNilReader(t *testing.T) {
	r := NewRestorer(testConfigs())
	if fed := r.BackfillFromStore(NewEngine(testConfigs()), nil, nil); fed != 0 {
		t.Errorf("nil reader should feed nothing, got %d", fed)
	}
}

func TestWarmupLen(t *testing.T) {
	if got := warmupLen(IndicatorConfig{Type: "CROSS_ABOVE", Threshold: 5}); got != 2 {
		t.Errorf("cross warm-up=%d, want 2", got)
	}
	if got := warmupLen(IndicatorConfig{Type: "HHV", Period: 20}); got != 20 {
		t.Errorf("HHV warm-up=%d, want 20", got)
	}
}
