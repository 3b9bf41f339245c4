package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	readBatch   = 100             // XREADGROUP count per poll, also the claim page size
	readBlock   = 2 * time.Second // XREADGROUP block duration
	snapshotTTL = 24 * time.Hour  // SQLite keeps the durable copy
)

// ReaderConfig configures the stream reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
}

// Reader is the ingestion side of the engine's Redis access: candle
// streams via consumer groups, catch-up replay, PubSub feeds, and the
// fast-restore snapshot key.
type Reader struct {
	client   *goredis.Client
	group    string
	consumer string
}

// NewReader connects and pings; group and consumer names fall back to
// defaults so a bare config still works in dev.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	r := &Reader{client: client, group: cfg.ConsumerGroup, consumer: cfg.ConsumerName}
	if r.group == "" {
		r.group = "indengine"
	}
	if r.consumer == "" {
		r.consumer = "worker-1"
	}
	log.Printf("[redis-reader] connected to %s (group=%s consumer=%s)", cfg.Addr, r.group, r.consumer)
	return r, nil
}

// decodeCandle extracts a TFCandle from a stream entry's "data" field.
func decodeCandle(values map[string]interface{}) (model.TFCandle, bool) {
	raw, ok := values["data"].(string)
	if !ok {
		return model.TFCandle{}, false
	}
	var tfc model.TFCandle
	if err := json.Unmarshal([]byte(raw), &tfc); err != nil {
		return model.TFCandle{}, false
	}
	return tfc, true
}

// deliverAndAck forwards decoded entries to out and ACKs every entry,
// decodable or not — a malformed entry left pending would be redelivered
// forever. Returns early on ctx cancellation, leaving the remainder in
// the PEL for the next run.
func (r *Reader) deliverAndAck(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.TFCandle) (int, error) {
	delivered := 0
	for _, msg := range msgs {
		if tfc, ok := decodeCandle(msg.Values); ok {
			select {
			case out <- tfc:
				delivered++
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
		r.client.XAck(ctx, stream, r.group, msg.ID)
	}
	return delivered, nil
}

// EnsureConsumerGroup creates the group on each stream at "$" (new
// messages only). An already-existing group is not an error.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.group, "$").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeTFCandles blocks on XREADGROUP across the given streams and
// feeds parsed candles to out until ctx is cancelled.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	// XREADGROUP wants [stream..., id...] with ">" per stream.
	args := make([]string, 2*len(streams))
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for ctx.Err() == nil {
		batches, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  args,
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		for _, batch := range batches {
			if _, err := r.deliverAndAck(ctx, batch.Stream, batch.Messages, out); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// RecoverPending claims and reprocesses this consumer's unACKed entries
// from a previous crash, giving at-least-once delivery across restarts.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		for {
			claimed, err := r.claimPending(ctx, stream, 0, false)
			if err != nil {
				log.Printf("[redis-reader] pending claim on %s: %v", stream, err)
				break
			}
			if len(claimed) == 0 {
				break
			}
			if _, err := r.deliverAndAck(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < readBatch {
				break
			}
		}
	}
	return nil
}

// claimPending XCLAIMs pending entries on stream for this consumer.
// othersOnly restricts the claim to entries owned by other consumers
// (the reclaimer path steals from dead workers, never from itself).
func (r *Reader) claimPending(ctx context.Context, stream string, minIdle time.Duration, othersOnly bool) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  readBatch,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if othersOnly && p.Consumer == r.consumer {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return claimed, nil
}

// StartPELReclaimer periodically steals PEL entries idle past minIdleMs
// from other consumers and reprocesses them. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, group, consumer string, interval time.Duration, minIdleMs int64, out chan<- model.TFCandle, onReclaim func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	minIdle := time.Duration(minIdleMs) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.claimPending(ctx, stream, minIdle, true)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim on %s: %v", stream, err)
					continue
				}
				n, err := r.deliverAndAck(ctx, stream, claimed, out)
				total += n
				if err != nil {
					return
				}
			}
			if total > 0 && onReclaim != nil {
				log.Printf("[redis-reader] reclaimed %d stale PEL entries", total)
				onReclaim(total)
			}
		}
	}
}

// ReplayFromID streams every entry after startID (exclusive) to out, in
// pages. Returns the last ID seen so the caller can checkpoint it.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	lastID := startID
	for {
		page, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", 1000).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}
		if len(page) == 0 {
			return lastID, nil
		}
		for _, msg := range page {
			lastID = msg.ID
			tfc, ok := decodeCandle(msg.Values)
			if !ok {
				continue
			}
			select {
			case out <- tfc:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}
		if len(page) < 1000 {
			return lastID, nil
		}
	}
}

// DiscoverTFStreams probes for existing candle streams for the given
// TF/token combinations.
func (r *Reader) DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string {
	var streams []string
	for _, tf := range tfs {
		for _, tok := range tokens {
			stream := "candle:" + model.Itoa(tf) + "s:" + tok
			if n, err := r.client.Exists(ctx, stream).Result(); err == nil && n > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// ReadSnapshot loads the engine checkpoint from the snapshot key.
// A missing key is not an error; it signals a cold start.
func (r *Reader) ReadSnapshot(ctx context.Context, key string) (*indicator.EngineSnapshot, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", key, err)
	}
	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// WriteSnapshot stores the engine checkpoint under key with a TTL.
func (r *Reader) WriteSnapshot(ctx context.Context, key string, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, key, string(data), snapshotTTL).Err()
}

// SubscribeChannel subscribes to a single PubSub channel, confirming the
// subscription before returning. Returns nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe %s: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Close closes the underlying client.
func (r *Reader) Close() error {
	return r.client.Close()
}
