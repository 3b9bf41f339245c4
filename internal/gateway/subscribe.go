package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ClientSubscription holds per-(symbol, tf) state for a client.
type ClientSubscription struct {
	Symbol     string
	TF         int
	Indicators []IndFilter // every entry has a resolved TF
}

// NewClientSubscription builds a subscription from a SUBSCRIBE message,
// filling each indicator's TF from the subscription default where omitted.
func NewClientSubscription(msg SubscribeMsg) *ClientSubscription {
	inds := make([]IndFilter, len(msg.Indicators))
	for i, f := range msg.Indicators {
		if f.TF <= 0 {
			f.TF = msg.TF
		}
		inds[i] = f
	}
	return &ClientSubscription{Symbol: msg.Symbol, TF: msg.TF, Indicators: inds}
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + strconv.Itoa(s.TF)
}

// IndicatorKeys returns "NAME:TF" identities for logging and snapshot keys.
func (s *ClientSubscription) IndicatorKeys() []string {
	keys := make([]string, len(s.Indicators))
	for i, f := range s.Indicators {
		keys[i] = f.Name + ":" + strconv.Itoa(f.TF)
	}
	return keys
}

// nameToSpec converts an engine key like "CROSS_ABOVE_19500.5" or "SMA_9"
// into the "TYPE:PARAM" spec format the engine's config channel expects.
// The parameter is everything after the last underscore.
func nameToSpec(name string) (string, bool) {
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", false
	}
	return name[:i] + ":" + name[i+1:], true
}

// knownSpecs tracks indicator specs the engine is already computing.
// Shared across clients so repeat subscriptions don't re-publish configs.
var knownSpecs = struct {
	sync.Mutex
	set map[string]bool
}{set: make(map[string]bool)}

// publishNewIndicators publishes the full indicator spec set to the
// config:indicators channel when a subscription names indicators the engine
// isn't computing yet. Returns true if anything new was published.
func publishNewIndicators(ctx context.Context, hub *Hub, filters []IndFilter) bool {
	knownSpecs.Lock()
	hasNew := false
	for _, f := range filters {
		spec, ok := nameToSpec(f.Name)
		if !ok {
			continue
		}
		if !knownSpecs.set[spec] {
			knownSpecs.set[spec] = true
			hasNew = true
		}
	}
	var allSpecs []string
	for spec := range knownSpecs.set {
		allSpecs = append(allSpecs, spec)
	}
	knownSpecs.Unlock()

	if !hasNew {
		return false
	}
	sort.Strings(allSpecs)
	payload := strings.Join(allSpecs, ",")
	log.Printf("[gateway] publishing new indicator config to engine: %s", payload)

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hub.Rdb.Publish(tctx, "config:indicators", payload).Err(); err != nil {
		log.Printf("[gateway] WARNING: failed to publish config:indicators: %v", err)
	}
	return true
}

// waitForIndicators polls Redis until all subscribed indicator streams have
// data, or until the timeout expires. Gives the engine time to backfill
// after a dynamic config reload.
func waitForIndicators(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			log.Printf("[gateway] timed out waiting for indicators to appear")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			allReady := true
			for _, f := range sub.Indicators {
				key := fmt.Sprintf("ind:%s:%ds:%s", f.Name, f.TF, sub.Symbol)
				n, err := rdb.XLen(ctx, key).Result()
				if err != nil || n == 0 {
					allReady = false
					break
				}
			}
			if allReady {
				log.Printf("[gateway] all %d indicator streams ready", len(sub.Indicators))
				return
			}
		}
	}
}

// BuildSnapshotFromRedis reads historical candles + indicator data from the
// Redis streams backing a subscription.
func BuildSnapshotFromRedis(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, candleLimit int) (*SnapshotResponse, error) {
	if candleLimit <= 0 {
		candleLimit = 500
	}
	if candleLimit > 1000 {
		candleLimit = 1000
	}

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		TF:         sub.TF,
		Candles:    make([]CandleOut, 0, candleLimit),
		Indicators: make(map[string][]IndPoint, len(sub.Indicators)),
	}

	candleStreamKey := fmt.Sprintf("candle:%ds:%s", sub.TF, sub.Symbol)
	candleMsgs, err := rdb.XRevRangeN(ctx, candleStreamKey, "+", "-", int64(candleLimit)).Result()
	if err != nil {
		log.Printf("[gateway] candle stream read error for %s: %v", candleStreamKey, err)
	} else {
		reverseMsgs(candleMsgs)
		for _, msg := range candleMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var c CandleOut
			if err := json.Unmarshal([]byte(dataStr), &c); err != nil {
				continue
			}
			if c.TS != "" {
				snap.Candles = append(snap.Candles, c)
			}
		}
	}

	for _, f := range sub.Indicators {
		snapKey := f.Name + ":" + strconv.Itoa(f.TF)
		indStreamKey := fmt.Sprintf("ind:%s:%ds:%s", f.Name, f.TF, sub.Symbol)
		indMsgs, err := rdb.XRevRangeN(ctx, indStreamKey, "+", "-", int64(candleLimit)).Result()
		if err != nil {
			log.Printf("[gateway] indicator stream read error for %s: %v", indStreamKey, err)
			snap.Indicators[snapKey] = []IndPoint{}
			continue
		}
		reverseMsgs(indMsgs)

		points := make([]IndPoint, 0, len(indMsgs))
		for _, msg := range indMsgs {
			dataStr, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var p IndPoint
			if err := json.Unmarshal([]byte(dataStr), &p); err != nil {
				continue
			}
			if !p.Ready || p.TS == "" {
				continue
			}
			points = append(points, p)
		}

		// Deduplicate by timestamp, keeping the LAST value per TS: backfill
		// recomputation can append multiple entries per candle.
		seen := make(map[string]int, len(points))
		deduped := make([]IndPoint, 0, len(points))
		for _, pt := range points {
			if idx, ok := seen[pt.TS]; ok {
				deduped[idx] = pt
			} else {
				seen[pt.TS] = len(deduped)
				deduped = append(deduped, pt)
			}
		}
		sort.Slice(deduped, func(i, j int) bool {
			return deduped[i].TS < deduped[j].TS
		})

		snap.Indicators[snapKey] = deduped
	}

	return snap, nil
}

func reverseMsgs(msgs []goredis.XMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// SendJSON marshals and sends a message to the client's send channel.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

// SendError sends an error response to the client.
func SendError(c *Client, reqID, errMsg string) {
	SendJSON(c, ErrorResponse{
		Type:  "ERROR",
		ReqID: reqID,
		Error: errMsg,
	})
}
