package indicator

import (
	"fmt"
	"log"
)

// ReloadConfigs updates the engine with new configurations. State is
// preserved for indicators that already exist (matched by Type and
// parameter) and only genuinely new indicators are created, so adding
// an indicator doesn't throw away accumulated warm-up history.
// Returns the number of preserved and newly created entries.
func (e *Engine) ReloadConfigs(newConfigs []TFIndicatorConfig) (preserved, created int) {
	oldCfgByTF := make(map[int]TFIndicatorConfig)
	oldStateByTF := make(map[int]map[string]*tokenIndicators)
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*tokenIndicators, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			// Brand-new TF — cold-start
			newState[i] = make(map[string]*tokenIndicators, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", newCfg.TF)
			continue
		}

		// TF exists — fast path when the indicator set is unchanged
		if indicatorSetsEqual(oldCfg.Indicators, newCfg.Indicators) {
			newState[i] = oldTFState
			preserved += len(oldTFState)
			log.Printf("[reload] TF=%d: unchanged, preserved %d token states", newCfg.TF, len(oldTFState))
			continue
		}

		// Indicator set changed — migrate per-token state
		migrated := make(map[string]*tokenIndicators, len(oldTFState))
		for tokenKey, oldTI := range oldTFState {
			migrated[tokenKey] = migrateTokenIndicators(oldTI, newCfg.Indicators)
			preserved++
		}
		newState[i] = migrated
		created++ // mark that new indicators need backfill
		log.Printf("[reload] TF=%d: migrated %d token states (added new indicators)", newCfg.TF, len(migrated))
	}

	e.configs = newConfigs
	e.state = newState

	// Rebuild TF index for O(1) lookup
	e.tfIndex = make(map[int]int, len(newConfigs))
	for i, cfg := range newConfigs {
		e.tfIndex[cfg.TF] = i
	}

	log.Printf("[reload] ✅ config reloaded: %d configs, %d preserved, %d new",
		len(newConfigs), preserved, created)

	return preserved, created
}

// migrateTokenIndicators creates a tokenIndicators for the new config,
// reusing instances from the old one that match by Type+parameter.
func migrateTokenIndicators(oldTI *tokenIndicators, newConfigs []IndicatorConfig) *tokenIndicators {
	oldByKey := make(map[string]Indicator, len(oldTI.indicators))
	for i, cfg := range oldTI.configs {
		oldByKey[cfg.Key()] = oldTI.indicators[i]
	}

	ti := &tokenIndicators{
		indicators: make([]Indicator, 0, len(newConfigs)),
		configs:    make([]IndicatorConfig, 0, len(newConfigs)),
		seen:       oldTI.seen,
	}
	for _, cfg := range newConfigs {
		if existing, ok := oldByKey[cfg.Key()]; ok {
			ti.indicators = append(ti.indicators, existing) // preserve accumulated state
			ti.configs = append(ti.configs, cfg)
			continue
		}
		ind, err := newIndicator(cfg)
		if err != nil {
			continue
		}
		ti.indicators = append(ti.indicators, ind)
		ti.configs = append(ti.configs, cfg)
	}
	return ti
}

// indicatorSetsEqual checks whether two config slices describe the
// exact same set of indicators (order-independent).
func indicatorSetsEqual(a, b []IndicatorConfig) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, ic := range a {
		setA[ic.Key()] = true
	}
	for _, ic := range b {
		if !setA[ic.Key()] {
			return false
		}
	}
	return true
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors before
// they reach the engine. This is where construction preconditions are
// enforced for config-driven instances.
func ValidateConfigs(configs []TFIndicatorConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		for _, ind := range cfg.Indicators {
			switch ind.Type {
			case "CROSS_ABOVE", "CROSS_BELOW":
				// threshold may be any real number, zero included
			case "HHV", "LLV", "FORECAST", "SMA":
				if ind.Period < 1 {
					return fmt.Errorf("%w: period=%d for %s on TF=%d",
						ErrInvalidParameter, ind.Period, ind.Type, cfg.TF)
				}
			default:
				return fmt.Errorf("unknown indicator type %q for TF=%d", ind.Type, cfg.TF)
			}
		}
	}
	return nil
}
