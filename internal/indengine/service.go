package indengine

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/metrics"
	"ta-systemv1/internal/model"
	"ta-systemv1/internal/ringbuf"
	redisstore "ta-systemv1/internal/store/redis"
	sqlitestore "ta-systemv1/internal/store/sqlite"
)

// Service orchestrates the indicator engine: restore, catch-up, stream
// consumption, live previews, checkpointing, and the admin HTTP surface.
// Store access goes through the ports in ports.go; the concrete handles
// below exist only for connection lifecycle and health probing.
type Service struct {
	cfg    Config
	engine *indicator.Engine

	source      CandleSource
	checkpoints CheckpointStore
	sink        ResultSink
	archive     SnapshotArchive
	history     HistorySource

	redisWriter *redisstore.Writer
	breaker     *redisstore.CircuitBreaker
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus

	streams    []string
	tfCandleCh chan model.TFCandle
	resultRing *ringbuf.Ring

	// Set during restore; drives the catch-up strategy in catchUp.
	coldStart        bool
	restoredStreamID string
}

// New validates the indicator configs and connects the stores. SQLite is
// optional: a failed open degrades to Redis-only operation with a warning.
func New(cfg Config) (*Service, error) {
	if err := indicator.ValidateConfigs(cfg.IndicatorConfigs); err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		prom:       metrics.NewMetrics(),
		health:     metrics.NewHealthStatus(),
		tfCandleCh: make(chan model.TFCandle, 5000),
		resultRing: ringbuf.New(8192),
	}
	svc.health.SetEnabledTFs(cfg.EnabledTFs)

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.source = reader
	svc.checkpoints = reader

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		reader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)

	svc.breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[indengine] redis circuit %s -> %s", from, to)
	}

	svc.openSQLite()
	return svc, nil
}

// openSQLite wires the durable store; failures degrade, never abort.
func (svc *Service) openSQLite() {
	var err error
	svc.sqlReader, err = sqlitestore.NewReader(svc.cfg.SQLitePath)
	if err != nil {
		log.Printf("[indengine] WARNING: sqlite reader init failed: %v (no history warm-up)", err)
	} else {
		svc.history = svc.sqlReader
	}

	os.MkdirAll("data", 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: svc.cfg.SQLitePath})
	if err != nil {
		log.Printf("[indengine] WARNING: sqlite writer init failed: %v (no durable checkpoints)", err)
		return
	}
	svc.archive = svc.sqlWriter
	svc.health.SetSQLiteOK(true)
}

// Run brings the service up in order: sink, restore, catch-up, consumer
// group, then the long-running loops. Blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[indengine] starting indicator engine...")

	buffered := redisstore.NewBufferedWriter(ctx, svc.redisWriter, svc.breaker, svc.cfg.MaxBufferedWrites)
	buffered.OnBuffer = func(count int) {
		svc.prom.RedisBufferedWrites.Add(float64(count))
	}
	buffered.OnFlush = func(count int) {
		log.Printf("[indengine] ✅ flushed %d buffered indicator results to Redis", count)
	}
	svc.sink = buffered

	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}
	svc.health.SetEngineOK(true)

	svc.streams = svc.buildStreams(ctx)
	log.Printf("[indengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	svc.catchUp(ctx)

	if len(svc.streams) > 0 {
		if err := svc.source.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[indengine] WARNING: consumer group setup: %v", err)
		}
		if err := svc.source.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] pending recovery error: %v", err)
		}
	}

	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	go svc.flushLoop(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlDB(), 10*time.Second)

	log.Println("[indengine] ╔═══════════════════════════════════════════════╗")
	log.Println("[indengine] ║  indicator engine up                          ║")
	log.Printf("[indengine] ║  tfs=%v checkpoint=%ds", svc.cfg.EnabledTFs, svc.cfg.SnapshotIntervalS)
	log.Printf("[indengine] ║  streams → engine → redis/sqlite")
	log.Println("[indengine] ╚═══════════════════════════════════════════════╝")
	log.Println("[indengine] ✅ all systems running")

	<-ctx.Done()
	svc.shutdown()
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown drains in-flight results, writes a terminal checkpoint, and
// closes the stores.
func (svc *Service) shutdown() {
	log.Println("[indengine] shutting down, saving final checkpoint...")

	svc.drainResults(context.Background())

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := svc.saveCheckpoint(shutCtx, "shutdown"); err != nil {
		log.Printf("[indengine] final checkpoint error: %v", err)
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.source.Close()
	log.Println("[indengine] shutdown complete")
}

// restoreEngine rebuilds the engine from the freshest available snapshot
// (Redis, then the SQLite archive), then warms any still-cold indicators
// from candle history. No snapshot at all marks a cold start, which
// catchUp resolves with a full stream replay instead of a delta.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.IndicatorConfigs)

	snap, err := svc.checkpoints.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[indengine] redis snapshot read error: %v", err)
	}
	if snap == nil && svc.history != nil {
		snap, err = svc.history.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[indengine] sqlite snapshot read error: %v", err)
		}
	}

	svc.coldStart = snap == nil
	if snap != nil {
		svc.restoredStreamID = snap.StreamID
	}

	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	if svc.history != nil {
		warmed := restorer.BackfillFromStore(svc.engine, svc.history, func(results []model.IndicatorResult) {
			svc.sink.WriteIndicatorBatch(results)
		})
		if warmed > 0 {
			log.Printf("[indengine] warmed indicators with %d historical candles", warmed)
		}
	}
	return nil
}

// catchUp closes the gap between the restored state and the stream heads.
// Cold start replays every retained candle; a snapshot restore replays
// only the delta past the checkpoint's stream position. Replaying bars
// the engine has already seen would re-fire the cross detectors, so the
// two paths are exclusive.
func (svc *Service) catchUp(ctx context.Context) {
	switch {
	case svc.coldStart:
		n := svc.replayStreams(ctx, "0")
		if n == 0 {
			log.Println("[indengine] cold start with empty streams, nothing to replay")
			return
		}
		log.Printf("[indengine] ✅ cold-start backfill: %d candles", n)
	case svc.restoredStreamID != "" && svc.restoredStreamID != "shutdown":
		n := svc.replayStreams(ctx, svc.restoredStreamID)
		log.Printf("[indengine] ✅ delta replay from %s: %d candles", svc.restoredStreamID, n)
	}
}

// replayStreams pushes every finalized candle after fromID through the
// engine and writes the results via the sink. Returns the candle count.
func (svc *Service) replayStreams(ctx context.Context, fromID string) int {
	replayCh := make(chan model.TFCandle, 5000)
	go func() {
		defer close(replayCh)
		for _, stream := range svc.streams {
			if _, err := svc.source.ReplayFromID(ctx, stream, fromID, replayCh); err != nil {
				log.Printf("[indengine] replay error on %s: %v", stream, err)
			}
		}
	}()

	n := 0
	for tfc := range replayCh {
		if tfc.Forming {
			continue
		}
		if results := svc.engine.Process(tfc); len(results) > 0 {
			svc.sink.WriteIndicatorBatch(results)
		}
		n++
	}
	return n
}

// buildStreams expands the configured token keys into stream names, or
// probes Redis for existing streams when no tokens were configured.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.SubscribeTokenKeys) == 0 {
		return svc.source.DiscoverTFStreams(ctx, svc.cfg.EnabledTFs, nil)
	}
	streams := make([]string, 0, len(svc.cfg.EnabledTFs)*len(svc.cfg.SubscribeTokenKeys))
	for _, tf := range svc.cfg.EnabledTFs {
		for _, tk := range svc.cfg.SubscribeTokenKeys {
			streams = append(streams, "candle:"+model.Itoa(tf)+"s:"+tk)
		}
	}
	return streams
}
