package model

import (
	"encoding/json"
	"time"
)

// IndicatorResult is one computed value for a (name, token, TF) series.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "HHV_20", "SMA_9", "CROSS_ABOVE_100"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	Value    float64   `json:"value"`
	Fired    bool      `json:"fired,omitempty"` // set by crossing detectors on the bar they trigger
	TS       time.Time `json:"ts"`              // candle timestamp that produced this value
	Ready    bool      `json:"ready"`           // true when indicator has enough data
	Live     bool      `json:"live"`            // true for preview values from forming candles
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns the Pub/Sub channel: "pub:ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:ind:" + r.Name + ":" + Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// JSON marshals the result for publishing. Marshal cannot fail for this
// type, so the error is dropped to keep the write path tidy.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
