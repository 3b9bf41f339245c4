package indengine

import (
	"context"
	"time"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Ports the orchestrator depends on. Declared here, on the consumer side,
// so the wiring in service.go reads against capabilities rather than
// concrete store types, and so lifecycle logic (restore, catch-up, reload
// backfill) is testable with in-memory stand-ins.

// CandleSource delivers TF candles: consumer-group ingestion off streams,
// catch-up replay, and the PubSub feeds that drive live previews and
// dynamic config. *redisstore.Reader is the production implementation.
type CandleSource interface {
	EnsureConsumerGroup(ctx context.Context, streams []string) error
	RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error)
	DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string
	StartPELReclaimer(ctx context.Context, streams []string, group, consumer string,
		interval time.Duration, minIdleMs int64, out chan<- model.TFCandle, onReclaim func(int))
	SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error
	Subscribe1sForPeek(ctx context.Context, tfs []int, out chan<- model.TFCandle) error
	SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub
	Close() error
}

// CheckpointStore holds the fast-restore engine snapshot (the Redis key).
type CheckpointStore interface {
	ReadSnapshot(ctx context.Context, key string) (*indicator.EngineSnapshot, error)
	WriteSnapshot(ctx context.Context, key string, snap *indicator.EngineSnapshot) error
}

// ResultSink receives computed indicator batches. The production sink is
// the circuit-broken buffered Redis writer.
type ResultSink interface {
	WriteIndicatorBatch(results []model.IndicatorResult) error
}

// SnapshotArchive is the durable side of checkpointing (SQLite).
type SnapshotArchive interface {
	SaveSnapshot(snap *indicator.EngineSnapshot) error
}

// HistorySource serves cold-start warm-up: candle history for indicator
// backfill plus the newest archived snapshot as a restore fallback.
type HistorySource interface {
	indicator.HistoryReader
	ReadLatestSnapshot() (*indicator.EngineSnapshot, error)
}
