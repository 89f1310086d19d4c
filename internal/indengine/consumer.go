package indengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"ta-enginev1/internal/model"
)

// startConsumer launches the XREADGROUP consumer goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer launches periodic reclamation of stale PEL entries.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
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

// processLoop is the single goroutine that owns the engine. Completed
// candles advance state through Process; forming candles produce preview
// points through ProcessPeek. A compute-latency EWMA is published to Redis
// every couple of seconds for the dashboard.
func (svc *Service) processLoop(ctx context.Context) {
	const (
		latencyKey        = "metrics:indengine:compute_ms"
		latencyTTL        = 30 * time.Second
		latencyPublishGap = 2 * time.Second
		latencyAlpha      = 0.2
	)
	var (
		ewmaMs      float64
		lastPublish time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}

			var points []model.IndicatorPoint
			start := time.Now()
			if tfc.Forming {
				points = svc.engine.ProcessPeek(tfc)
			} else {
				points = svc.engine.Process(tfc)
			}
			elapsed := time.Since(start)
			svc.prom.ComputeDur.Observe(elapsed.Seconds())
			if len(points) > 0 {
				svc.prom.PointsTotal.Add(float64(len(points)))
			}

			ms := float64(elapsed.Microseconds()) / 1000.0
			if ewmaMs == 0 {
				ewmaMs = ms
			} else {
				ewmaMs = ewmaMs*(1.0-latencyAlpha) + ms*latencyAlpha
			}
			if time.Since(lastPublish) >= latencyPublishGap {
				cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				if cctx.Err() == nil {
					_ = svc.redisWriter.Client().Set(
						cctx, latencyKey,
						strconv.FormatFloat(ewmaMs, 'f', 3, 64),
						latencyTTL,
					).Err()
				}
				cancel()
				lastPublish = time.Now()
			}

			if len(points) > 0 {
				svc.redisWriter.WritePointBatch(ctx, points)
			}
		}
	}
}
