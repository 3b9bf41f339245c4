package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"ta-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	latestTTL      = 30 * time.Minute
	streamRetainS  = 10800 // ~3h of confirmed bars per indicator stream
	streamMinEntry = 200
)

// WriterConfig configures the result writer.
type WriterConfig struct {
	Addr     string
	Password string
	DB       int
}

// Writer publishes indicator results: confirmed results get XADD + SET
// latest + PUBLISH in one pipeline, live previews get PUBLISH only.
type Writer struct {
	client *goredis.Client
}

// New connects and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Client exposes the underlying client for health checks and ad-hoc keys.
func (w *Writer) Client() *goredis.Client { return w.client }

// WriteIndicatorBatch pipelines a whole result batch in one roundtrip.
// Pipeline errors are logged, not returned; the circuit-breaker path
// probes connectivity separately (see pingThenWrite).
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}
	pipe := w.client.Pipeline()
	for i := range results {
		queueResult(ctx, pipe, &results[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] indicator batch pipeline (%d results): %v", len(results), err)
	}
}

// queueResult appends one result's commands to the pipeline. Not-ready
// confirmed results are skipped entirely; they carry no usable value.
func queueResult(ctx context.Context, pipe goredis.Pipeliner, ind *model.IndicatorResult) {
	if !ind.Ready && !ind.Live {
		return
	}

	payload := bytesToString(ind.JSON())

	if ind.Live {
		// Previews are ephemeral: PubSub only, no stream, no latest key.
		pipe.Publish(ctx, ind.PubSubChannel(), payload)
		return
	}

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ind.StreamKey(),
		MaxLen: retainLen(ind.TF),
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	latestKey := "ind:" + ind.Name + ":" + model.Itoa(ind.TF) + "s:latest:" + ind.Exchange + ":" + ind.Token
	pipe.Set(ctx, latestKey, payload, latestTTL)
	pipe.Publish(ctx, ind.PubSubChannel(), payload)
}

// retainLen sizes an indicator stream to hold roughly streamRetainS
// seconds of bars at the given TF.
func retainLen(tf int) int64 {
	if tf <= 0 {
		return streamMinEntry
	}
	n := int64(streamRetainS/tf) + 100
	if n < streamMinEntry {
		return streamMinEntry
	}
	return n
}

// bytesToString reinterprets b as a string without copying. Safe here:
// the JSON buffers are never mutated after encoding.
func bytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// Close closes the underlying client.
func (w *Writer) Close() error {
	return w.client.Close()
}
