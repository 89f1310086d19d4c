package indengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"ta-enginev1/internal/indicator"
)

// snapshotLoop checkpoints engine state to Redis and SQLite on an interval.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := indicator.SnapshotEngine(svc.engine, svc.snapshotStreamID())
			if err != nil {
				log.Printf("[indengine] snapshot error: %v", err)
				continue
			}

			if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
				log.Printf("[indengine] redis snapshot write error: %v", err)
			}
			svc.saveSnapshotSQLite(snap)

			log.Printf("[indengine] checkpoint saved (%d tokens)", len(snap.Tokens))
		}
	}
}

// snapshotStreamID marks the checkpoint position with a time-based stream
// ID, so delta replay starts from roughly when the snapshot was taken.
func (svc *Service) snapshotStreamID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
}
