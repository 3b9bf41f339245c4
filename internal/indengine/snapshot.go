package indengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"ta-systemv1/internal/indicator"
)

// snapshotLoop checkpoints engine state on a fixed interval. The marker
// is a synthetic stream position (current wall time) so a restart can
// replay only the candles that arrived after the checkpoint.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			marker := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
			if err := svc.saveCheckpoint(ctx, marker); err != nil {
				log.Printf("[indengine] checkpoint error: %v", err)
				continue
			}
			svc.prom.SnapshotSaveDur.Observe(time.Since(start).Seconds())
			svc.prom.SnapshotsTotal.Inc()
		}
	}
}

// saveCheckpoint serializes the engine and writes the snapshot to the
// fast store and, when available, the durable archive. Shutdown uses the
// literal marker "shutdown", which catchUp treats as not replayable.
func (svc *Service) saveCheckpoint(ctx context.Context, marker string) error {
	snap, err := indicator.SnapshotEngine(svc.engine, marker)
	if err != nil {
		return err
	}
	if err := svc.checkpoints.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
		log.Printf("[indengine] redis checkpoint write error: %v", err)
	}
	if svc.archive != nil {
		if err := svc.archive.SaveSnapshot(snap); err != nil {
			log.Printf("[indengine] sqlite checkpoint write error: %v", err)
		}
	}
	log.Printf("[indengine] ✅ checkpoint saved (%d tokens)", len(snap.Tokens))
	return nil
}
