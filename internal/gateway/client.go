package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	readLimit     = 4096
)

// Client is one WebSocket peer. Outbound traffic flows through send;
// a full send channel means the peer is too slow and the message is
// dropped (the replay buffer covers the gap).
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu sync.RWMutex
	subs  map[string]*ClientSubscription // key: "symbol:tf"
}

// sendInitialState pushes the latest-value cache so a fresh client has
// a full picture before live traffic starts. lastTS, when parseable,
// suppresses entries the client already saw before reconnecting.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

// writePump owns the connection's write side: it coalesces everything
// queued in send into a single frame (newline-separated) and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	pinger := time.NewTicker(pingInterval)
	defer func() {
		pinger.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeCoalesced(msg); err != nil {
				return
			}
		case <-pinger.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeCoalesced writes msg plus whatever else is already queued as one
// text frame with newline separators.
func (c *Client) writeCoalesced(msg []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(msg)
	for pending := len(c.send); pending > 0; pending-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}

// readPump owns the read side: deadline management plus inbound message
// dispatch. Exits (and unregisters the client) on any read error.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message by its type field.
func (c *Client) dispatch(msg []byte) {
	var head struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(msg, &head) != nil {
		return
	}

	switch head.Type {
	case "SUBSCRIBE":
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
			return
		}
		// Snapshot building hits Redis; don't stall the read loop.
		go c.handleSubscribe(sub)
	case "UNSUBSCRIBE":
		var unsub UnsubscribeMsg
		if err := json.Unmarshal(msg, &unsub); err != nil {
			return
		}
		c.handleUnsubscribe(unsub)
	default:
		if head.Ping > 0 {
			c.answerPing(head.Ping)
		}
	}
}

// answerPing echoes an application-level ping with a server timestamp,
// letting clients measure round-trip without WS control frames.
func (c *Client) answerPing(ping int64) {
	pong, _ := json.Marshal(map[string]interface{}{
		"type":      "pong",
		"ping":      ping,
		"server_ts": time.Now().UnixMilli(),
	})
	select {
	case c.send <- pong:
	default:
	}
}

// handleSubscribe registers the subscription, asks the engine for any
// indicators it is not yet computing, then answers with a snapshot.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if msg.Symbol == "" || msg.TF <= 0 {
		SendError(c, msg.ReqID, "symbol and tf are required")
		return
	}

	sub := NewClientSubscription(msg)
	c.subMu.Lock()
	c.subs[sub.SubKey()] = sub
	c.subMu.Unlock()
	log.Printf("[gateway] subscribe: symbol=%s tf=%d indicators=%v", msg.Symbol, msg.TF, sub.IndicatorKeys())

	ctx := context.Background()
	hasNew := publishNewIndicators(ctx, c.hub, sub.Indicators)
	if len(sub.Indicators) > 0 {
		// Newly requested indicators need time to backfill before their
		// streams hold anything worth snapshotting.
		timeout := 3 * time.Second
		if hasNew {
			timeout = 8 * time.Second
		}
		waitForIndicators(ctx, c.hub.Rdb, sub, timeout)
	}

	snap, err := BuildSnapshotFromRedis(ctx, c.hub.Rdb, sub, msg.History)
	if err != nil {
		SendError(c, msg.ReqID, "snapshot build failed: "+err.Error())
		return
	}
	snap.ReqID = msg.ReqID
	SendJSON(c, snap)
	log.Printf("[gateway] snapshot sent: symbol=%s tf=%d candles=%d indicators=%d",
		msg.Symbol, msg.TF, len(snap.Candles), len(snap.Indicators))
}

func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	sub := &ClientSubscription{Symbol: msg.Symbol, TF: msg.TF}
	c.subMu.Lock()
	delete(c.subs, sub.SubKey())
	c.subMu.Unlock()
	log.Printf("[gateway] unsubscribe: symbol=%s tf=%d", msg.Symbol, msg.TF)
}

// matchesChannel decides whether a broadcast channel is interesting to
// this client. No subscriptions means firehose mode; channels that are
// not per-instrument data (signals, stats) always go through.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	parsed := parseChannel(channel)
	if parsed == nil {
		return true
	}

	symbol := parsed.exchange + ":" + parsed.token
	for _, sub := range c.subs {
		if sub.Symbol == symbol && sub.wants(parsed) {
			return true
		}
	}
	return false
}

// wants reports whether this subscription covers the parsed channel.
func (s *ClientSubscription) wants(p *parsedChannel) bool {
	switch p.chType {
	case "candle":
		return s.TF == p.tf
	case "indicator":
		for _, entry := range s.Indicators {
			if entry.Name == p.indName && entry.TF == p.tf {
				return true
			}
		}
	}
	return false
}

// parsedChannel is the decomposed form of a data PubSub channel.
type parsedChannel struct {
	chType   string // "candle" or "indicator"
	indName  string // indicator channels: "SMA_9", "CROSS_ABOVE_19500.5"
	tf       int
	exchange string
	token    string
}

// parseChannel decomposes "pub:candle:60s:NSE:99926000" (5 parts) and
// "pub:ind:SMA_9:60s:NSE:99926000" (6 parts). Anything else returns nil.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) < 5 || parts[0] != "pub" {
		return nil
	}
	switch parts[1] {
	case "candle":
		return &parsedChannel{
			chType:   "candle",
			tf:       parseTFStr(parts[2]),
			exchange: parts[3],
			token:    parts[4],
		}
	case "ind":
		if len(parts) < 6 {
			return nil
		}
		return &parsedChannel{
			chType:   "indicator",
			indName:  parts[2],
			tf:       parseTFStr(parts[3]),
			exchange: parts[4],
			token:    parts[5],
		}
	}
	return nil
}

// parseTFStr reads the numeric prefix of a TF label: "60s" → 60.
func parseTFStr(s string) int {
	n := 0
	for _, ch := range strings.TrimSuffix(s, "s") {
		if ch < '0' || ch > '9' {
			break
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
