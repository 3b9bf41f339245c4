package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, rdb *goredis.Client, ctx context.Context, tfs []int, tokenKeys []string, processStart time.Time) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		lastTS := r.URL.Query().Get("last_ts")
		hub.HandleWSConn(conn, lastTS)
	})

	// REST: latest payload per channel
	mux.HandleFunc("/api/indicators/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetLatestAll())
	})

	// REST: available timeframes
	mux.HandleFunc("/api/tfs", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		tfList := make([]TFInfo, len(tfs))
		for i, tf := range tfs {
			tfList[i] = TFInfo{Seconds: tf, Label: TFLabel(tf)}
		}
		json.NewEncoder(w).Encode(tfList)
	})

	// REST: config
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tfs":    tfs,
			"tokens": tokenKeys,
		})
	})

	// REST: runtime stats snapshot
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.CollectStats(r.Context(), processStart))
	})

	// REST: historical candles from Redis streams
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		tfVal := queryInt(r, "tf", 60)
		limit := clampLimit(queryInt(r, "limit", 200))
		token := r.URL.Query().Get("token")
		if token == "" && len(tokenKeys) > 0 {
			token = tokenKeys[0]
		}

		streamKey := fmt.Sprintf("candle:%ds:%s", tfVal, token)
		msgs, err := rdb.XRevRangeN(ctx, streamKey, upperBoundFrom(r), "-", int64(limit)).Result()
		if err != nil {
			json.NewEncoder(w).Encode([]CandleOut{})
			return
		}
		reverseMsgs(msgs)

		candles := make([]CandleOut, 0, len(msgs))
		for _, msg := range msgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var c CandleOut
			if err := json.Unmarshal([]byte(dataStr), &c); err != nil {
				continue
			}
			c.TF = tfVal
			if c.TS != "" {
				candles = append(candles, c)
			}
		}
		json.NewEncoder(w).Encode(candles)
	})

	// REST: historical indicator values from Redis streams
	mux.HandleFunc("/api/indicators/history", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		name := r.URL.Query().Get("name")
		if name == "" {
			json.NewEncoder(w).Encode([]IndPoint{})
			return
		}
		tfVal := queryInt(r, "tf", 60)
		limit := clampLimit(queryInt(r, "limit", 300))
		token := r.URL.Query().Get("token")
		if token == "" && len(tokenKeys) > 0 {
			token = tokenKeys[0]
		}

		streamKey := fmt.Sprintf("ind:%s:%ds:%s", name, tfVal, token)
		msgs, err := rdb.XRevRangeN(ctx, streamKey, upperBoundFrom(r), "-", int64(limit)).Result()
		if err != nil {
			json.NewEncoder(w).Encode([]IndPoint{})
			return
		}
		reverseMsgs(msgs)

		points := make([]IndPoint, 0, len(msgs))
		for _, msg := range msgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var p IndPoint
			if err := json.Unmarshal([]byte(dataStr), &p); err != nil {
				continue
			}
			if p.Ready && p.TS != "" {
				points = append(points, p)
			}
		}
		json.NewEncoder(w).Encode(points)
	})

	// REST: crossing events from an indicator stream (fired bars only)
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		name := r.URL.Query().Get("name")
		if name == "" {
			json.NewEncoder(w).Encode([]SignalOut{})
			return
		}
		tfVal := queryInt(r, "tf", 60)
		limit := clampLimit(queryInt(r, "limit", 100))
		token := r.URL.Query().Get("token")
		if token == "" && len(tokenKeys) > 0 {
			token = tokenKeys[0]
		}

		streamKey := fmt.Sprintf("ind:%s:%ds:%s", name, tfVal, token)
		// Scan deeper than the requested limit: fired bars are sparse.
		msgs, err := rdb.XRevRangeN(ctx, streamKey, "+", "-", int64(limit)*10).Result()
		if err != nil {
			json.NewEncoder(w).Encode([]SignalOut{})
			return
		}
		reverseMsgs(msgs)

		signals := make([]SignalOut, 0, limit)
		for _, msg := range msgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var p struct {
				Name     string  `json:"name"`
				Token    string  `json:"token"`
				Exchange string  `json:"exchange"`
				TF       int     `json:"tf"`
				Value    float64 `json:"value"`
				Fired    bool    `json:"fired"`
				TS       string  `json:"ts"`
			}
			if err := json.Unmarshal([]byte(dataStr), &p); err != nil {
				continue
			}
			if !p.Fired {
				continue
			}
			signals = append(signals, SignalOut{
				Name: p.Name, Token: p.Token, Exchange: p.Exchange,
				TF: p.TF, Value: p.Value, TS: p.TS,
			})
			if len(signals) >= limit {
				break
			}
		}
		json.NewEncoder(w).Encode(signals)
	})

	// REST: gap backfill — replay buffered envelopes for a channel range
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		fromSeq, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		toSeq, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || err1 != nil || err2 != nil || fromSeq > toSeq {
			http.Error(w, `{"error":"channel, from and to are required"}`, http.StatusBadRequest)
			return
		}

		envelopes := hub.GetReplayRange(channel, fromSeq, toSeq)
		out := make([]json.RawMessage, len(envelopes))
		for i, env := range envelopes {
			out[i] = json.RawMessage(env)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel":     channel,
			"current_seq": hub.GetChannelSeq(channel),
			"envelopes":   out,
		})
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		redisOK := rdb.Ping(r.Context()).Err() == nil

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func clampLimit(limit int) int {
	if limit > 1000 {
		return 1000
	}
	return limit
}

// upperBoundFrom converts an optional "before" RFC3339 query param to a
// stream-ID upper bound for XREVRANGE.
func upperBoundFrom(r *http.Request) string {
	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		return "+"
	}
	if t, err := time.Parse(time.RFC3339Nano, beforeStr); err == nil {
		return fmt.Sprintf("%d-0", t.UnixMilli()-1)
	}
	if t, err := time.Parse(time.RFC3339, beforeStr); err == nil {
		return fmt.Sprintf("%d-0", t.UnixMilli()-1)
	}
	return "+"
}
