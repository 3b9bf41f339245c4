package indicator

import (
	"fmt"
	"log"
	"strconv"

	"ta-systemv1/internal/model"
)

// IndicatorSnapshot holds the serialized state of a single indicator
// instance. One union struct covers all indicator types; JSON-codable
// so snapshots can be persisted to Redis, SQLite, or any byte store.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // CROSS_ABOVE, CROSS_BELOW, HHV, LLV, FORECAST, SMA
	Period int    `json:"period"` // window length (2 for cross detectors)

	// Cross detectors and forecaster: retained samples, oldest to newest.
	Threshold float64   `json:"threshold,omitempty"`
	Samples   []float64 `json:"samples,omitempty"`

	// Ring-buffer indicators: raw storage, write cursor, fill counter.
	Buf   []float64 `json:"buf,omitempty"`
	Idx   int       `json:"idx,omitempty"`
	Count int       `json:"count"`
	Sum   float64   `json:"sum,omitempty"` // SMA running sum
}

// key returns the identity used to match snapshots against configured
// indicators: same format as IndicatorConfig.Key().
func (is IndicatorSnapshot) key() string {
	if is.Type == "CROSS_ABOVE" || is.Type == "CROSS_BELOW" {
		return is.Type + "_" + strconv.FormatFloat(is.Threshold, 'g', -1, 64)
	}
	return is.Type + "_" + model.Itoa(is.Period)
}

// ringSamples extracts the logical sample order (oldest to newest) from
// a circular buffer snapshot. A count below capacity means the ring has
// not wrapped yet, so the filled prefix is already in order.
func ringSamples(buf []float64, idx, count int) []float64 {
	if count > len(buf) {
		count = len(buf)
	}
	if count < len(buf) {
		return append([]float64(nil), buf[:count]...)
	}
	out := make([]float64, 0, count)
	out = append(out, buf[idx:]...)
	out = append(out, buf[:idx]...)
	return out
}

// TokenSnapshot holds indicator snapshots for a single token within a TF.
type TokenSnapshot struct {
	Token      string              `json:"token"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	Seen       int                 `json:"seen"` // finalized bars processed
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	StreamID string          `json:"stream_id"` // stream position at checkpoint time
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"` // schema version for forward compat
}

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  1,
	}

	for tfIdx, cfg := range e.configs {
		for tokenKey, ti := range e.state[tfIdx] {
			ts := TokenSnapshot{
				Token:      tokenKey,
				TF:         cfg.TF,
				Seen:       ti.seen,
				Indicators: make([]IndicatorSnapshot, 0, len(ti.indicators)),
			}
			// tokenKey format is "exchange:token"
			for i := range tokenKey {
				if tokenKey[i] == ':' {
					ts.Exchange = tokenKey[:i]
					ts.Token = tokenKey[i+1:]
					break
				}
			}

			for _, ind := range ti.indicators {
				si, ok := ind.(Snapshottable)
				if !ok {
					return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
				}
				ts.Indicators = append(ts.Indicators, si.Snapshot())
			}
			snap.Tokens = append(snap.Tokens, ts)
		}
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot. Tolerant
// of config changes: indicators are matched by Type+parameter rather
// than by position. Matched indicators get their state restored
// (oversized persisted buffers are truncated to capacity, never
// rejected); new indicators cold-start; removed ones are skipped.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	e := NewEngine(configs)

	for _, ts := range snap.Tokens {
		tfIdx, ok := e.tfIndex[ts.TF]
		if !ok {
			continue // TF no longer configured — skip
		}

		ti := e.createTokenIndicators(tfIdx)
		ti.seen = ts.Seen

		snapLookup := make(map[string]IndicatorSnapshot, len(ts.Indicators))
		for _, indSnap := range ts.Indicators {
			snapLookup[indSnap.key()] = indSnap
		}

		restored, cold := 0, 0
		for i, ind := range ti.indicators {
			indSnap, found := snapLookup[ti.configs[i].Key()]
			if !found {
				cold++
				continue // new indicator — stays fresh
			}
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(indSnap); err != nil {
				// Non-fatal: leave cold
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			log.Printf("[restorer] TF=%d token=%s: restored %d, cold-started %d indicators",
				ts.TF, ts.Token, restored, cold)
		}

		key := ts.Token
		if ts.Exchange != "" {
			key = ts.Exchange + ":" + ts.Token
		}
		e.state[tfIdx][key] = ti
	}

	return e, nil
}
