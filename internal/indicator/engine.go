package indicator

import (
	"context"
	"strconv"

	"ta-systemv1/internal/model"
)

// IndicatorConfig specifies a single indicator to compute. Period is
// the window length for windowed indicators; Threshold parameterizes
// the cross detectors (whose window is fixed at 2).
type IndicatorConfig struct {
	Type      string  `json:"type"` // CROSS_ABOVE, CROSS_BELOW, HHV, LLV, FORECAST, SMA
	Period    int     `json:"period,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Key returns this config's identity: "TYPE_PARAM". Used for result
// naming and for state matching across reloads and restores.
func (ic IndicatorConfig) Key() string {
	return ic.Type + "_" + ic.param()
}

func (ic IndicatorConfig) param() string {
	if ic.Type == "CROSS_ABOVE" || ic.Type == "CROSS_BELOW" {
		return strconv.FormatFloat(ic.Threshold, 'g', -1, 64)
	}
	return model.Itoa(ic.Period)
}

// TFIndicatorConfig groups indicator configs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         int `json:"tf"` // timeframe in seconds
	Indicators []IndicatorConfig `json:"indicators"`
}

// newIndicator builds a fresh instance for a config. The only failure
// mode is a construction precondition (unknown type, zero period).
func newIndicator(cfg IndicatorConfig) (Indicator, error) {
	switch cfg.Type {
	case "CROSS_ABOVE":
		return NewCrossAbove(cfg.Threshold), nil
	case "CROSS_BELOW":
		return NewCrossBelow(cfg.Threshold), nil
	case "HHV":
		return NewHighestHighValue(cfg.Period)
	case "LLV":
		return NewLowestLowValue(cfg.Period)
	case "FORECAST":
		return NewLinearRegressionPrediction(cfg.Period)
	case "SMA":
		return NewSimpleMovingAverage(cfg.Period)
	}
	return nil, ErrInvalidParameter
}

// sampleFor picks the bar field an indicator type consumes: extremum
// trackers read the high/low series, everything else reads the close.
func sampleFor(typ string, tfc model.TFCandle) float64 {
	switch typ {
	case "HHV":
		return tfc.High
	case "LLV":
		return tfc.Low
	}
	return tfc.Close
}

// tokenIndicators holds live indicator instances for one token within a TF.
type tokenIndicators struct {
	indicators []Indicator
	configs    []IndicatorConfig
	seen       int // finalized bars processed; drives readiness
}

// Engine computes multiple indicators across multiple TFs for multiple
// tokens. Designed for single-goroutine usage — no locks needed.
type Engine struct {
	configs []TFIndicatorConfig
	tfIndex map[int]int // TF seconds → index into configs/state

	// state[tfIdx][tokenKey] → *tokenIndicators
	state []map[string]*tokenIndicators
}

// NewEngine creates an indicator engine with the given per-TF configs.
func NewEngine(configs []TFIndicatorConfig) *Engine {
	state := make([]map[string]*tokenIndicators, len(configs))
	tfIndex := make(map[int]int, len(configs))
	for i, cfg := range configs {
		state[i] = make(map[string]*tokenIndicators, 64)
		tfIndex[cfg.TF] = i
	}
	return &Engine{
		configs: configs,
		tfIndex: tfIndex,
		state:   state,
	}
}

// Process takes a finalized TF bar and advances all indicators for that
// TF + token. Returns one result per configured indicator; results for
// indicators still warming up carry Ready=false but a correct
// partial-window value.
func (e *Engine) Process(tfc model.TFCandle) []model.IndicatorResult {
	tfIdx, ok := e.tfIndex[tfc.TF]
	if !ok {
		return nil // TF not configured for indicators
	}

	key := tfc.Key()
	ti, exists := e.state[tfIdx][key]
	if !exists {
		// First bar for this token + TF — create indicator instances
		ti = e.createTokenIndicators(tfIdx)
		e.state[tfIdx][key] = ti
	}
	ti.seen++

	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for i, ind := range ti.indicators {
		cfg := ti.configs[i]
		r := model.IndicatorResult{
			Name:     cfg.Key(),
			Token:    tfc.Token,
			Exchange: tfc.Exchange,
			TF:       tfc.TF,
			TS:       tfc.TS,
			Ready:    ti.seen >= ind.Period(),
		}
		sample := sampleFor(cfg.Type, tfc)
		switch v := ind.(type) {
		case SignalIndicator:
			r.Fired = v.Next(sample)
			if r.Fired {
				r.Value = 1
			}
		case ValueIndicator:
			r.Value = v.Next(sample)
		}
		results = append(results, r)
	}
	return results
}

// ProcessPeek computes live indicator values for a forming TF bar via
// Peek(). Does NOT mutate indicator state — safe to call every second.
// Returns nil if the token hasn't been seeded by a finalized bar yet.
func (e *Engine) ProcessPeek(tfc model.TFCandle) []model.IndicatorResult {
	tfIdx, ok := e.tfIndex[tfc.TF]
	if !ok {
		return nil
	}

	ti, exists := e.state[tfIdx][tfc.Key()]
	if !exists {
		return nil
	}

	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for i, ind := range ti.indicators {
		cfg := ti.configs[i]
		r := model.IndicatorResult{
			Name:     cfg.Key(),
			Token:    tfc.Token,
			Exchange: tfc.Exchange,
			TF:       tfc.TF,
			TS:       tfc.TS,
			Ready:    ti.seen >= ind.Period(),
			Live:     true,
		}
		sample := sampleFor(cfg.Type, tfc)
		switch v := ind.(type) {
		case SignalIndicator:
			r.Fired = v.Peek(sample)
			if r.Fired {
				r.Value = 1
			}
		case ValueIndicator:
			r.Value = v.Peek(sample)
		}
		results = append(results, r)
	}
	return results
}

// Run consumes TF bars and emits indicator results. Blocks until ctx done.
func (e *Engine) Run(ctx context.Context, tfCandleCh <-chan model.TFCandle, resultCh chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-tfCandleCh:
			if !ok {
				return
			}
			if tfc.Forming {
				continue // skip forming bars
			}
			results := e.Process(tfc)
			for _, r := range results {
				select {
				case resultCh <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// createTokenIndicators creates fresh indicator instances for a TF
// config. Configs that fail construction are skipped; ValidateConfigs
// catches them before they get this far.
func (e *Engine) createTokenIndicators(tfIdx int) *tokenIndicators {
	cfg := e.configs[tfIdx]
	ti := &tokenIndicators{
		indicators: make([]Indicator, 0, len(cfg.Indicators)),
		configs:    make([]IndicatorConfig, 0, len(cfg.Indicators)),
	}
	for _, ic := range cfg.Indicators {
		ind, err := newIndicator(ic)
		if err != nil {
			continue
		}
		ti.indicators = append(ti.indicators, ind)
		ti.configs = append(ti.configs, ic)
	}
	return ti
}
