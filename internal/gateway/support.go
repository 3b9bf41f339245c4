package gateway

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ta-systemv1/internal/model"
)

// Key the engine publishes its compute-latency EWMA under.
const computeLatencyKey = "metrics:indengine:indicator_compute_ms"

// ReadIndicatorLatency fetches the engine's compute-latency EWMA from
// Redis. A missing key, timeout, or unparseable value reports !ok and
// the stats broadcast simply omits the field.
func ReadIndicatorLatency(ctx context.Context, rdb *goredis.Client) (float64, bool) {
	if rdb == nil {
		return 0, false
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	raw, err := rdb.Get(cctx, computeLatencyKey).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	return f, err == nil
}

// TFLabel renders a timeframe in seconds as "30s", "5m", or "2h".
func TFLabel(tf int) string {
	switch {
	case tf < 60:
		return model.Itoa(tf) + "s"
	case tf < 3600:
		return model.Itoa(tf/60) + "m"
	default:
		return model.Itoa(tf/3600) + "h"
	}
}
