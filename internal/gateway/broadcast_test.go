package gateway

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

// buildEnvelope reproduces the hand-crafted JSON logic from Hub.broadcast
// so we can test the envelope format without Redis or a live WS client.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// envelope is the parsed WS message structure.
type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func TestBroadcastEnvelopeFormat(t *testing.T) {
	channel := "pub:candle:60s:NSE:99926000"
	data := []byte(`{"ts":"2026-08-25T10:00:00Z","open":100,"high":105,"low":99,"close":103,"volume":500}`)
	now := time.Date(2026, 8, 25, 10, 0, 1, 0, time.UTC)

	buf := buildEnvelope(channel, data, now, 42, 7)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}

	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}
	if env.Seq != 42 {
		t.Errorf("seq: got %d, want 42", env.Seq)
	}
	if env.ChannelSeq != 7 {
		t.Errorf("channel_seq: got %d, want 7", env.ChannelSeq)
	}

	var candle map[string]interface{}
	if err := json.Unmarshal(env.Data, &candle); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if _, ok := candle["ts"]; !ok {
		t.Error("data missing 'ts' field")
	}

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil {
		t.Errorf("ts is not valid RFC3339Nano: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("ts: got %v, want %v", parsed, now)
	}
}

func TestBroadcastEnvelopeFiredIndicator(t *testing.T) {
	channel := "pub:ind:CROSS_ABOVE_19500.5:60s:NSE:99926000"
	data := []byte(`{"value":1,"ready":true,"fired":true}`)

	buf := buildEnvelope(channel, data, time.Now().UTC(), 1, 1)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != channel {
		t.Errorf("channel: got %q, want %q", env.Channel, channel)
	}

	var indData struct {
		Value float64 `json:"value"`
		Ready bool    `json:"ready"`
		Fired bool    `json:"fired"`
	}
	if err := json.Unmarshal(env.Data, &indData); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if !indData.Fired {
		t.Error("expected fired=true")
	}
}

func TestChannelParsing(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantTF  int
		wantInd string
		wantNil bool
	}{
		{"candle_60s", "pub:candle:60s:NSE:99926000", 60, "", false},
		{"candle_300s", "pub:candle:300s:NSE:99926000", 300, "", false},
		{"indicator_SMA", "pub:ind:SMA_9:60s:NSE:99926000", 60, "SMA_9", false},
		{"indicator_HHV", "pub:ind:HHV_20:120s:NSE:99926000", 120, "HHV_20", false},
		{"indicator_cross_float", "pub:ind:CROSS_ABOVE_19500.5:300s:NSE:99926000", 300, "CROSS_ABOVE_19500.5", false},
		{"signal_channel", "pub:signals", 0, "", true},
		{"invalid_garbage", "garbage", 0, "", true},
		{"invalid_short", "pub:candle", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseChannel(tt.channel)
			if tt.wantNil {
				if parsed != nil {
					t.Errorf("expected nil, got %+v", parsed)
				}
				return
			}
			if parsed == nil {
				t.Fatal("expected non-nil parsed channel")
			}
			if parsed.tf != tt.wantTF {
				t.Errorf("tf: got %d, want %d", parsed.tf, tt.wantTF)
			}
			if tt.wantInd != "" && parsed.indName != tt.wantInd {
				t.Errorf("indName: got %q, want %q", parsed.indName, tt.wantInd)
			}
		})
	}
}

func TestChannelKind(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"pub:signals", "signal"},
		{"pub:ind:SMA_9:60s:NSE:99926000", "indicator"},
		{"pub:candle:60s:NSE:99926000", "candle"},
		{"config:indicators", "other"},
	}
	for _, tt := range tests {
		if got := channelKind(tt.channel); got != tt.want {
			t.Errorf("channelKind(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}

func TestExtractMeta(t *testing.T) {
	meta := extractMeta([]byte(`{"value":1,"fired":true,"ts":"2026-08-25T10:00:00Z"}`))
	if !meta.fired {
		t.Error("expected fired=true")
	}
	want := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if !meta.ts.Equal(want) {
		t.Errorf("ts: got %v, want %v", meta.ts, want)
	}

	meta = extractMeta([]byte(`not json`))
	if meta.fired || !meta.ts.IsZero() {
		t.Errorf("invalid payload should yield zero meta, got %+v", meta)
	}
}

func TestNameToSpec(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"SMA_9", "SMA:9", true},
		{"HHV_20", "HHV:20", true},
		{"CROSS_ABOVE_19500.5", "CROSS_ABOVE:19500.5", true},
		{"CROSS_BELOW_100", "CROSS_BELOW:100", true},
		{"FORECAST_14", "FORECAST:14", true},
		{"noseparator", "", false},
		{"trailing_", "", false},
	}
	for _, tt := range tests {
		got, ok := nameToSpec(tt.name)
		if ok != tt.wantOK {
			t.Errorf("nameToSpec(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if got != tt.want {
			t.Errorf("nameToSpec(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEnvelopeSeqMonotonic(t *testing.T) {
	channel := "pub:candle:60s:NSE:99926000"
	data := []byte(`{}`)
	now := time.Now().UTC()

	for i := int64(1); i <= 100; i++ {
		buf := buildEnvelope(channel, data, now, i, i)
		var env envelope
		if err := json.Unmarshal(buf, &env); err != nil {
			t.Fatalf("seq=%d: invalid JSON: %v", i, err)
		}
		if env.Seq != i {
			t.Errorf("seq: got %d, want %d", env.Seq, i)
		}
	}
}
