package indengine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ta-systemv1/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	svc.health.SetStreamConnected(true)
	go func() {
		if err := svc.source.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] consumer error: %v", err)
			svc.health.SetStreamConnected(false)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.source.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.ConsumerGroup, svc.cfg.ConsumerName,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.tfCandleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[indengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[indengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop consumes TF candles from the channel and computes indicators.
// Uses Process() for finalized candles and ProcessPeek() for forming candles.
// Results go into the result ring; flushLoop drains them to the stores.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		indicatorLatencyKey           = "metrics:indengine:indicator_compute_ms"
		indicatorLatencyTTL           = 30 * time.Second
		indicatorLatencyPublishMinDur = 2 * time.Second
		indicatorLatencyAlpha         = 0.2
	)
	var (
		latencyEwmaMs      float64
		lastLatencyPublish time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}
			svc.prom.CandlesConsumed.Inc()
			svc.health.SetLastCandleTime(tfc.TS)
			if !tfc.Forming && time.Since(tfc.TS) > 2*time.Duration(tfc.TF)*time.Second {
				svc.prom.StaleCandles.Inc()
			}

			var results []model.IndicatorResult
			start := time.Now()
			if tfc.Forming {
				results = svc.engine.ProcessPeek(tfc)
			} else {
				results = svc.engine.Process(tfc)
			}
			elapsed := time.Since(start)
			svc.prom.IndicatorComputeDur.Observe(elapsed.Seconds())
			if len(results) > 0 {
				svc.prom.IndicatorsTotal.Add(float64(len(results)))
			}

			for _, res := range results {
				if res.Fired {
					svc.countCross(res.Name)
				}
				if !svc.resultRing.Push(res) {
					svc.prom.RingBufOverflow.Inc()
				}
			}

			// Track EWMA latency and publish periodically
			latencyMs := float64(elapsed.Microseconds()) / 1000.0
			if latencyEwmaMs == 0 {
				latencyEwmaMs = latencyMs
			} else {
				latencyEwmaMs = latencyEwmaMs*(1.0-indicatorLatencyAlpha) + latencyMs*indicatorLatencyAlpha
			}
			if time.Since(lastLatencyPublish) >= indicatorLatencyPublishMinDur {
				cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				if cctx.Err() == nil {
					_ = svc.redisWriter.Client().Set(
						cctx,
						indicatorLatencyKey,
						fmt.Sprintf("%.3f", latencyEwmaMs),
						indicatorLatencyTTL,
					).Err()
				}
				cancel()
				lastLatencyPublish = time.Now()
			}
		}
	}
}

func (svc *Service) countCross(name string) {
	switch {
	case strings.HasPrefix(name, "CROSS_ABOVE"):
		svc.prom.CrossSignalsTotal.WithLabelValues("above").Inc()
	case strings.HasPrefix(name, "CROSS_BELOW"):
		svc.prom.CrossSignalsTotal.WithLabelValues("below").Inc()
	}
}

// flushLoop drains the result ring in batches and writes to Redis (through
// the circuit breaker) and SQLite. Decoupling compute from I/O keeps the
// process loop fast even when a store stalls.
func (svc *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	batch := make([]model.IndicatorResult, 0, 512)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.flushResults(ctx, &batch)
		}
	}
}

func (svc *Service) flushResults(ctx context.Context, batch *[]model.IndicatorResult) {
	for {
		*batch = svc.resultRing.PopBatch((*batch)[:0], 512)
		if len(*batch) == 0 {
			return
		}

		start := time.Now()
		if err := svc.sink.WriteIndicatorBatch(*batch); err != nil {
			log.Printf("[indengine] redis write error: %v", err)
		}
		svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())

		if svc.sqlWriter != nil {
			start = time.Now()
			svc.sqlWriter.WriteIndicatorBatch(ctx, *batch)
			svc.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
	}
}

// drainResults flushes any results still sitting in the ring. Called once
// during shutdown before the final snapshot.
func (svc *Service) drainResults(ctx context.Context) {
	batch := make([]model.IndicatorResult, 0, 512)
	svc.flushResults(ctx, &batch)
}
