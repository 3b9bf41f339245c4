package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SignalChannel is the synthetic channel carrying fired crossing events.
// Clients subscribe to it to see every cross without tracking individual
// indicator channels.
const SignalChannel = "pub:signals"

// broadcast wraps a PubSub payload in a sequenced envelope and fans it out
// to all subscribed clients. The envelope JSON is hand-crafted: at fan-out
// rates json.Marshal dominated the profile.
func (h *Hub) broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	meta := extractMeta(data)

	// Record e2e latency against the payload's source timestamp
	if h.Latency != nil && !meta.ts.IsZero() {
		latencyMs := float64(now.Sub(meta.ts).Microseconds()) / 1000.0
		if latencyMs >= 0 {
			h.Latency.Record(latencyMs)
			if h.Prom != nil {
				h.Prom.E2ELatency.Observe(latencyMs / 1000.0)
			}
		}
	}

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}

	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(500) // 500 envelopes per channel
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

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

	rb.Push(channelSeq, buf)

	h.fanout(channel, buf)

	// Crossing detectors that fired get re-broadcast on the signal channel
	if meta.fired && strings.HasPrefix(channel, "pub:ind:CROSS_") {
		h.broadcast(SignalChannel, data)
	}
}

// fanout delivers a pre-built envelope to every client whose subscriptions
// match the channel. Slow clients are skipped, never blocked on.
func (h *Hub) fanout(channel string, buf []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
			if h.Prom != nil {
				h.Prom.WSMessagesSent.Inc()
			}
		default:
			if h.Prom != nil {
				h.Prom.FanoutDropsTotal.WithLabelValues(channelKind(channel)).Inc()
			}
		}
	}
}

func channelKind(channel string) string {
	switch {
	case channel == SignalChannel:
		return "signal"
	case strings.HasPrefix(channel, "pub:ind:"):
		return "indicator"
	case strings.HasPrefix(channel, "pub:candle:"):
		return "candle"
	}
	return "other"
}

// payloadMeta holds the fields broadcast cares about from a payload.
type payloadMeta struct {
	ts    time.Time
	fired bool
}

// extractMeta pulls the "ts" and "fired" fields from a JSON payload.
func extractMeta(data []byte) payloadMeta {
	var partial struct {
		TS    time.Time `json:"ts"`
		Fired bool      `json:"fired"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return payloadMeta{}
	}
	return payloadMeta{ts: partial.TS, fired: partial.Fired}
}
