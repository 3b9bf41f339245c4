package indicator

import (
	"testing"

	"ta-systemv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Engine.Process
// ────────────────────────────────────────────────────────────

func TestEngine_Process_AllTypes(t *testing.T) {
	engine := NewEngine(testConfigs())

	var last []model.IndicatorResult
	for i, p := range []float64{99, 101, 98} {
		last = engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}
	if len(last) != 5 {
		t.Fatalf("expected 5 results, got %d", len(last))
	}

	byName := map[string]model.IndicatorResult{}
	for _, r := range last {
		byName[r.Name] = r
		if r.Token != "RELIANCE" || r.Exchange != "NSE" || r.TF != 60 {
			t.Errorf("result %s carries wrong identity: %+v", r.Name, r)
		}
		if r.Live {
			t.Errorf("result %s from finalized bar marked Live", r.Name)
		}
	}

	// Extremum trackers read High/Low, everything else the Close.
	assertClose(t, "HHV_3", byName["HHV_3"].Value, 101.5, 0)
	assertClose(t, "LLV_3", byName["LLV_3"].Value, 97.5, 0)
	assertClose(t, "SMA_3", byName["SMA_3"].Value, (99+101+98)/3.0, 1e-9)

	// Third bar: all period-3 indicators just became ready.
	for _, name := range []string{"HHV_3", "LLV_3", "FORECAST_3", "SMA_3"} {
		if !byName[name].Ready {
			t.Errorf("%s should be ready after 3 bars", name)
		}
	}
}

func TestEngine_Process_CrossFiresOnce(t *testing.T) {
	engine := NewEngine(testConfigs())

	fired := []bool{}
	for i, p := range []float64{99, 101, 102, 99, 101} {
		for _, r := range engine.Process(tfCandle("INFY", p, int64(60*i))) {
			if r.Name == "CROSS_ABOVE_100" {
				fired = append(fired, r.Fired)
				if r.Fired && r.Value != 1 {
					t.Errorf("fired result should carry Value=1, got %v", r.Value)
				}
			}
		}
	}
	want := []bool{false, true, false, false, true}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("bar %d: Fired=%v, want %v", i, fired[i], want[i])
		}
	}
}

func TestEngine_Process_UnknownTF(t *testing.T) {
	engine := NewEngine(testConfigs())
	c := tfCandle("RELIANCE", 100, 0)
	c.TF = 300
	if got := engine.Process(c); got != nil {
		t.Errorf("unconfigured TF should return nil, got %v", got)
	}
}

func TestEngine_TokensAreIndependent(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i := 0; i < 3; i++ {
		engine.Process(tfCandle("RELIANCE", 100+float64(i), int64(60*i)))
	}
	// First bar for TCS must not inherit RELIANCE's warm-up.
	results := engine.Process(tfCandle("TCS", 500, 0))
	for _, r := range results {
		if r.Name == "SMA_3" {
			assertClose(t, "TCS SMA_3 first bar", r.Value, 500, 0)
			if r.Ready {
				t.Error("TCS SMA_3 should not be ready after one bar")
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// Engine.ProcessPeek
// ────────────────────────────────────────────────────────────

func TestEngine_ProcessPeek_DoesNotMutate(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98} {
		engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}

	before := engine.Process(tfCandle("RELIANCE", 100, 180))

	engine2 := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98} {
		engine2.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}
	// Hammer Peek the way the live preview loop does
	for i := 0; i < 10; i++ {
		peek := engine2.ProcessPeek(tfCandle("RELIANCE", 200, 180))
		for _, r := range peek {
			if !r.Live {
				t.Errorf("peek result %s not marked Live", r.Name)
			}
		}
	}
	after := engine2.Process(tfCandle("RELIANCE", 100, 180))

	for i := range before {
		assertClose(t, "peek mutated "+before[i].Name, after[i].Value, before[i].Value, 0)
		if after[i].Fired != before[i].Fired {
			t.Errorf("peek mutated %s Fired state", before[i].Name)
		}
	}
}

func TestEngine_ProcessPeek_UnseededToken(t *testing.T) {
	engine := NewEngine(testConfigs())
	if got := engine.ProcessPeek(tfCandle("RELIANCE", 100, 0)); got != nil {
		t.Errorf("peek before any finalized bar should return nil, got %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// ReloadConfigs
// ────────────────────────────────────────────────────────────

func TestReloadConfigs_UnchangedPreservesState(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98} {
		engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}

	preserved, _ := engine.ReloadConfigs(testConfigs())
	if preserved != 1 {
		t.Errorf("preserved=%d, want 1 token state", preserved)
	}

	results := engine.Process(tfCandle("RELIANCE", 104, 180))
	for _, r := range results {
		if r.Name == "SMA_3" {
			assertClose(t, "SMA after no-op reload", r.Value, (101+98+104)/3.0, 1e-9)
		}
	}
}

func TestReloadConfigs_AddIndicator_KeepsExisting(t *testing.T) {
	engine := NewEngine(testConfigs())
	for i, p := range []float64{99, 101, 98} {
		engine.Process(tfCandle("RELIANCE", p, int64(60*i)))
	}

	newCfg := testConfigs()
	newCfg[0].Indicators = append(newCfg[0].Indicators, IndicatorConfig{Type: "SMA", Period: 2})
	engine.ReloadConfigs(newCfg)

	results := engine.Process(tfCandle("RELIANCE", 104, 180))
	byName := map[string]model.IndicatorResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	// Existing SMA_3 kept its window
	assertClose(t, "SMA_3 after reload", byName["SMA_3"].Value, (101+98+104)/3.0, 1e-9)
	// New SMA_2 starts cold with just this bar
	assertClose(t, "SMA_2 after reload", byName["SMA_2"].Value, 104, 0)
}

func TestReloadConfigs_NewTF_ColdStarts(t *testing.T) {
	engine := NewEngine(testConfigs())
	engine.Process(tfCandle("RELIANCE", 100, 0))

	newCfg := append(testConfigs(), TFIndicatorConfig{
		TF:         300,
		Indicators: []IndicatorConfig{{Type: "SMA", Period: 3}},
	})
	engine.ReloadConfigs(newCfg)

	c := tfCandle("RELIANCE", 200, 0)
	c.TF = 300
	results := engine.Process(c)
	if len(results) != 1 {
		t.Fatalf("expected 1 result on new TF, got %d", len(results))
	}
	assertClose(t, "new TF SMA", results[0].Value, 200, 0)
}

// ────────────────────────────────────────────────────────────
// ValidateConfigs
// ────────────────────────────────────────────────────────────

func TestValidateConfigs(t *testing.T) {
	cases := []struct {
		name    string
		configs []TFIndicatorConfig
		wantErr bool
	}{
		{"valid", testConfigs(), false},
		{"zero threshold cross ok", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "CROSS_BELOW", Threshold: 0}}},
		}, false},
		{"zero period", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "HHV", Period: 0}}},
		}, true},
		{"negative period", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "FORECAST", Period: -1}}},
		}, true},
		{"unknown type", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "MACD", Period: 12}}},
		}, true},
		{"duplicate TF", []TFIndicatorConfig{
			{TF: 60, Indicators: []IndicatorConfig{{Type: "SMA", Period: 3}}},
			{TF: 60, Indicators: []IndicatorConfig{{Type: "SMA", Period: 5}}},
		}, true},
		{"non-positive TF", []TFIndicatorConfig{
			{TF: 0, Indicators: []IndicatorConfig{{Type: "SMA", Period: 3}}},
		}, true},
	}
	for _, tc := range cases {
		err := ValidateConfigs(tc.configs)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Config keys
// ────────────────────────────────────────────────────────────

func TestIndicatorConfig_Key(t *testing.T) {
	cases := []struct {
		cfg  IndicatorConfig
		want string
	}{
		{IndicatorConfig{Type: "SMA", Period: 20}, "SMA_20"},
		{IndicatorConfig{Type: "HHV", Period: 5}, "HHV_5"},
		{IndicatorConfig{Type: "CROSS_ABOVE", Threshold: 100}, "CROSS_ABOVE_100"},
		{IndicatorConfig{Type: "CROSS_BELOW", Threshold: 99.5}, "CROSS_BELOW_99.5"},
		{IndicatorConfig{Type: "CROSS_ABOVE", Threshold: 0}, "CROSS_ABOVE_0"},
	}
	for _, tc := range cases {
		if got := tc.cfg.Key(); got != tc.want {
			t.Errorf("Key()=%q, want %q", got, tc.want)
		}
	}
}
