// Package model holds the wire types shared by the engine, stores, and
// gateway. Field names and JSON tags match what the upstream candle
// pipeline publishes, so changing them breaks decoding.
package model

import "time"

// Candle is a raw 1-second OHLC bar. The engine only consumes these on
// the live preview path; closed bars arrive as TFCandle.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"` // bucket start time (UTC, second-aligned)
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TicksCount int       `json:"ticks_count"`
}

// TFCandle is an OHLC bar resampled to TF seconds (60 = 1 minute).
// While the bucket is still open it is republished with Forming=true;
// indicators must only advance on the final Forming=false bar.
type TFCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"` // bucket start time (UTC, TF-aligned)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Count    int       `json:"count"`   // 1s candles merged into this bar
	Forming  bool      `json:"forming"` // bucket still open
}

// Key identifies the instrument: "exchange:token".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Token
}
