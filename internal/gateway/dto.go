package gateway

// ── WS protocol messages ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type       string      `json:"type"`  // "SUBSCRIBE"
	ReqID      string      `json:"reqId"` // client-generated request ID
	Symbol     string      `json:"symbol"`
	TF         int         `json:"tf"`
	History    int         `json:"history"` // historical candles to include in the snapshot
	Indicators []IndFilter `json:"indicators"`
}

// IndFilter names one indicator the client wants, with an optional
// per-indicator TF override for multi-timeframe charts.
type IndFilter struct {
	Name string `json:"name"`         // engine key, e.g. "SMA_9" or "CROSS_ABOVE_19500.5"
	TF   int    `json:"tf,omitempty"` // defaults to the subscription TF
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string `json:"type"` // "UNSUBSCRIBE"
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
}

// SnapshotResponse is the server → client SNAPSHOT with historical data.
type SnapshotResponse struct {
	Type       string                `json:"type"` // "SNAPSHOT"
	ReqID      string                `json:"reqId"`
	Symbol     string                `json:"symbol"`
	TF         int                   `json:"tf"`
	Candles    []CandleOut           `json:"candles"`
	Indicators map[string][]IndPoint `json:"indicators"` // keyed by "NAME:TF"
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// ── REST response types ──

// TFInfo is the response type for /api/tfs.
type TFInfo struct {
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

// CandleOut is the response type for /api/candles and snapshot candles.
type CandleOut struct {
	TS       string  `json:"ts"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Count    float64 `json:"count"`
	Token    string  `json:"token,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	TF       int     `json:"tf,omitempty"`
	Forming  bool    `json:"forming,omitempty"`
}

// IndPoint is the response type for /api/indicators/history and snapshots.
type IndPoint struct {
	Value float64 `json:"value"`
	TS    string  `json:"ts"`
	Ready bool    `json:"ready"`
	Fired bool    `json:"fired,omitempty"`
}

// SignalOut is the response type for /api/signals: one crossing event.
type SignalOut struct {
	Name     string  `json:"name"` // e.g. "CROSS_ABOVE_19500.5"
	Token    string  `json:"token"`
	Exchange string  `json:"exchange"`
	TF       int     `json:"tf"`
	Value    float64 `json:"value"`
	TS       string  `json:"ts"`
}
