package gateway

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"ta-systemv1/internal/metrics"
)

// Hub manages WebSocket clients and Redis PubSub fan-out. It subscribes to
// the indicator and candle PubSub patterns, wraps each payload in a sequenced
// envelope, and fans out to clients whose subscriptions match the channel.
type Hub struct {
	Rdb     *goredis.Client
	TFs     []int
	Tokens  []string
	Prom    *metrics.Metrics
	Latency *LatencyTracker

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection,
	// with replay buffers for backfilling missed envelopes.
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a new Hub for managing WS clients and PubSub.
func NewHub(rdb *goredis.Client, prom *metrics.Metrics, tfs []int, tokens []string) *Hub {
	return &Hub{
		Rdb:         rdb,
		TFs:         tfs,
		Tokens:      tokens,
		Prom:        prom,
		Latency:     NewLatencyTracker(10000),
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// Run subscribes to the indicator and candle PubSub patterns and routes
// messages to the broadcaster. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.Rdb.PSubscribe(ctx, "pub:ind:*", "pub:candle:*")
	defer pubsub.Close()

	log.Println("[gateway] subscribed to pub:ind:* and pub:candle:*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// HandleWSConn registers an upgraded WebSocket connection as a client.
// lastTS, when set, limits the initial state replay to entries newer than it.
func (h *Hub) HandleWSConn(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]*ClientSubscription),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.Prom != nil {
		h.Prom.WSClientsConnected.Set(float64(count))
	}

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	if h.Prom != nil {
		h.Prom.WSClientsConnected.Set(float64(count))
	}
	close(c.send)
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
// Used by the /api/missed REST endpoint for client gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RuntimeStats is the payload of the periodic "stats" broadcast.
type RuntimeStats struct {
	WSClients   int     `json:"ws_clients"`
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`
	IndicatorMs float64 `json:"indicator_compute_ms"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	TS          string  `json:"ts"`
}

// CollectStats gathers runtime stats for the stats broadcast and /api/stats.
func (h *Hub) CollectStats(ctx context.Context, start time.Time) RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := RuntimeStats{
		WSClients:   h.ClientCount(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(time.Since(start).Seconds()),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	if v, ok := ReadIndicatorLatency(ctx, h.Rdb); ok {
		s.IndicatorMs = v
	}
	if h.Latency != nil {
		s.LatencyP50, s.LatencyP95, s.LatencyP99 = h.Latency.Percentiles()
	}
	return s
}

// StartStatsBroadcast sends runtime stats to all WS clients every 2s.
func (h *Hub) StartStatsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			envelope, _ := json.Marshal(map[string]interface{}{
				"type":  "stats",
				"stats": h.CollectStats(ctx, start),
			})
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- envelope:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
