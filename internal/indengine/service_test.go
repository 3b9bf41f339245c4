package indengine

import (
	"context"
	"testing"
	"time"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// fakeSource is an in-memory CandleSource: ReplayFromID serves canned
// candles and records the start IDs it was asked for.
type fakeSource struct {
	candles  []model.TFCandle
	replayed []string // startIDs passed to ReplayFromID
}

func (f *fakeSource) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	return nil
}
func (f *fakeSource) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	return nil
}
func (f *fakeSource) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	return nil
}
func (f *fakeSource) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	f.replayed = append(f.replayed, startID)
	for _, c := range f.candles {
		out <- c
	}
	return startID, nil
}
func (f *fakeSource) DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string {
	return nil
}
func (f *fakeSource) StartPELReclaimer(ctx context.Context, streams []string, group, consumer string,
	interval time.Duration, minIdleMs int64, out chan<- model.TFCandle, onReclaim func(int)) {
}
func (f *fakeSource) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	return nil
}
func (f *fakeSource) Subscribe1sForPeek(ctx context.Context, tfs []int, out chan<- model.TFCandle) error {
	return nil
}
func (f *fakeSource) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	return nil
}
func (f *fakeSource) Close() error { return nil }

// fakeCheckpoints serves a fixed snapshot from memory.
type fakeCheckpoints struct {
	snap    *indicator.EngineSnapshot
	written *indicator.EngineSnapshot
}

func (f *fakeCheckpoints) ReadSnapshot(ctx context.Context, key string) (*indicator.EngineSnapshot, error) {
	return f.snap, nil
}
func (f *fakeCheckpoints) WriteSnapshot(ctx context.Context, key string, snap *indicator.EngineSnapshot) error {
	f.written = snap
	return nil
}

// captureSink collects every batch written through the ResultSink port.
type captureSink struct {
	batches [][]model.IndicatorResult
}

func (s *captureSink) WriteIndicatorBatch(results []model.IndicatorResult) error {
	cp := make([]model.IndicatorResult, len(results))
	copy(cp, results)
	s.batches = append(s.batches, cp)
	return nil
}

func testConfigs() []indicator.TFIndicatorConfig {
	return []indicator.TFIndicatorConfig{{
		TF: 60,
		Indicators: []indicator.IndicatorConfig{
			{Type: "SMA", Period: 2},
			{Type: "CROSS_ABOVE", Threshold: 10},
		},
	}}
}

func testCandles(closes ...float64) []model.TFCandle {
	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	candles := make([]model.TFCandle, len(closes))
	for i, c := range closes {
		candles[i] = model.TFCandle{
			Token: "99926000", Exchange: "NSE", TF: 60,
			TS:   base.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 1, Count: 1,
		}
	}
	return candles
}

func newTestService(src *fakeSource, ckpt *fakeCheckpoints, sink *captureSink) *Service {
	return &Service{
		cfg: Config{
			EnabledTFs:       []int{60},
			SnapshotKey:      "snap:indengine",
			IndicatorConfigs: testConfigs(),
		},
		source:      src,
		checkpoints: ckpt,
		sink:        sink,
		streams:     []string{"candle:60s:NSE:99926000"},
	}
}

func TestRestoreEngine_ColdStartWhenNoSnapshot(t *testing.T) {
	svc := newTestService(&fakeSource{}, &fakeCheckpoints{}, &captureSink{})

	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	if !svc.coldStart {
		t.Error("expected cold start with no snapshot available")
	}
	if svc.restoredStreamID != "" {
		t.Errorf("restoredStreamID = %q, want empty", svc.restoredStreamID)
	}
}

func TestRestoreEngine_KeepsSnapshotStreamID(t *testing.T) {
	seeded := indicator.NewEngine(testConfigs())
	for _, c := range testCandles(9, 11) {
		seeded.Process(c)
	}
	snap, err := indicator.SnapshotEngine(seeded, "1756300000000-0")
	if err != nil {
		t.Fatalf("SnapshotEngine: %v", err)
	}

	svc := newTestService(&fakeSource{}, &fakeCheckpoints{snap: snap}, &captureSink{})
	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	if svc.coldStart {
		t.Error("snapshot restore must not be a cold start")
	}
	if svc.restoredStreamID != "1756300000000-0" {
		t.Errorf("restoredStreamID = %q, want snapshot stream ID", svc.restoredStreamID)
	}
}

func TestCatchUp_ColdStartReplaysFromZero(t *testing.T) {
	src := &fakeSource{candles: testCandles(9, 11, 12)}
	sink := &captureSink{}
	svc := newTestService(src, &fakeCheckpoints{}, sink)

	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	svc.catchUp(context.Background())

	if len(src.replayed) != 1 || src.replayed[0] != "0" {
		t.Fatalf("replay start IDs = %v, want [0]", src.replayed)
	}
	var fired int
	for _, batch := range sink.batches {
		for _, res := range batch {
			if res.Fired {
				fired++
			}
		}
	}
	if fired != 1 {
		t.Errorf("fired results during backfill = %d, want 1 (9→11 crossing 10)", fired)
	}
}

func TestCatchUp_RestoreReplaysDeltaOnly(t *testing.T) {
	seeded := indicator.NewEngine(testConfigs())
	for _, c := range testCandles(9, 11) {
		seeded.Process(c)
	}
	snap, _ := indicator.SnapshotEngine(seeded, "1756300000000-0")

	src := &fakeSource{candles: testCandles(12)}
	svc := newTestService(src, &fakeCheckpoints{snap: snap}, &captureSink{})

	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	svc.catchUp(context.Background())

	if len(src.replayed) != 1 || src.replayed[0] != "1756300000000-0" {
		t.Fatalf("replay start IDs = %v, want the snapshot stream ID", src.replayed)
	}
}

func TestCatchUp_ShutdownMarkerSkipsReplay(t *testing.T) {
	seeded := indicator.NewEngine(testConfigs())
	snap, _ := indicator.SnapshotEngine(seeded, "shutdown")

	src := &fakeSource{candles: testCandles(12)}
	svc := newTestService(src, &fakeCheckpoints{snap: snap}, &captureSink{})

	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	svc.catchUp(context.Background())

	if len(src.replayed) != 0 {
		t.Errorf("replay start IDs = %v, want none for a shutdown marker", src.replayed)
	}
}

func TestReplayStreams_SkipsFormingCandles(t *testing.T) {
	candles := testCandles(9, 11)
	candles[1].Forming = true
	src := &fakeSource{candles: candles}
	sink := &captureSink{}
	svc := newTestService(src, &fakeCheckpoints{}, sink)

	if err := svc.restoreEngine(context.Background()); err != nil {
		t.Fatalf("restoreEngine: %v", err)
	}
	if n := svc.replayStreams(context.Background(), "0"); n != 1 {
		t.Errorf("replayed candle count = %d, want 1 (forming bar skipped)", n)
	}
	for _, batch := range sink.batches {
		for _, res := range batch {
			if res.Live {
				t.Errorf("replay produced a live preview result: %+v", res)
			}
		}
	}
}
