package indengine

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	redisstore "ta-enginev1/internal/store/redis"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

// Service orchestrates the indicator engine: it restores state, consumes
// TF candle streams, computes points, and checkpoints periodically.
type Service struct {
	cfg Config

	engine      *indicator.Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics

	streams    []string
	tfCandleCh chan model.TFCandle
}

// New connects to Redis and SQLite and returns an unstarted Service.
// SQLite failures are tolerated; only Redis is required.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:        cfg,
		prom:       metrics.New(),
		tfCandleCh: make(chan model.TFCandle, 5000),
	}

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[indengine] sqlite reader init failed: %v (continuing without backfill)", err)
	}

	os.MkdirAll("data", 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[indengine] sqlite writer init failed: %v", err)
	}

	return svc, nil
}

// Run starts every subsystem and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[indengine] starting indicator engine service...")

	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	svc.streams = svc.buildStreams(ctx)
	log.Printf("[indengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	svc.backfillFromRedis(ctx)
	svc.replayDelta(ctx)

	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[indengine] consumer group setup: %v", err)
		}
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[indengine] pending recovery error: %v", err)
		}
	}

	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)
	svc.startSpecSubscriber(ctx)

	log.Printf("[indengine] running: streams -> indicators -> publish, snapshot every %ds, TFs=%v",
		cfg.SnapshotIntervalS, cfg.EnabledTFs)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

// shutdown takes a final checkpoint and closes connections.
func (svc *Service) shutdown() {
	log.Println("[indengine] shutdown signal received, saving final snapshot...")

	finalSnap, err := indicator.SnapshotEngine(svc.engine, "shutdown")
	if err == nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()

		if svc.redisReader != nil {
			svc.redisReader.WriteSnapshot(shutCtx, svc.cfg.SnapshotKey, finalSnap)
		}
		svc.saveSnapshotSQLite(finalSnap)
		log.Println("[indengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[indengine] shutdown complete.")
}

func (svc *Service) saveSnapshotSQLite(snap *indicator.EngineSnapshot) {
	if svc.sqlWriter == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[indengine] marshal snapshot: %v", err)
		return
	}
	if err := svc.sqlWriter.SaveSnapshotJSON(data); err != nil {
		log.Printf("[indengine] sqlite snapshot write error: %v", err)
	}
}

// restoreEngine follows the Redis snapshot -> SQLite snapshot -> cold start
// chain, then warms cold instances with a SQLite candle backfill.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.TFSpecs)

	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[indengine] redis snapshot read error: %v", err)
	}

	if snap == nil && svc.sqlReader != nil {
		data, err := svc.sqlReader.ReadLatestSnapshotJSON()
		if err != nil {
			log.Printf("[indengine] sqlite snapshot read error: %v", err)
		} else if data != nil {
			var s indicator.EngineSnapshot
			if err := json.Unmarshal(data, &s); err != nil {
				log.Printf("[indengine] sqlite snapshot unmarshal error: %v", err)
			} else {
				snap = &s
			}
		}
	}

	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	if svc.sqlReader != nil {
		backfilled := restorer.Backfill(svc.engine, svc.sqlReader, func(points []model.IndicatorPoint) {
			svc.redisWriter.WritePointBatch(ctx, points)
		})
		if backfilled > 0 {
			log.Printf("[indengine] warmed up indicators with %d historical candles", backfilled)
		}
	}

	return nil
}

// buildStreams constructs the stream names to consume, either from the
// configured token keys or by discovery.
func (svc *Service) buildStreams(ctx context.Context) []string {
	var streams []string
	for _, tf := range svc.cfg.EnabledTFs {
		if len(svc.cfg.SubscribeTokenKeys) > 0 {
			for _, tk := range svc.cfg.SubscribeTokenKeys {
				streams = append(streams, "candle:"+model.Itoa(tf)+"s:"+tk)
			}
		} else {
			streams = append(streams, svc.redisReader.DiscoverTFStreams(ctx, []int{tf}, svc.cfg.SubscribeTokenKeys)...)
		}
	}
	return streams
}

// backfillFromRedis replays the full history of each stream through the
// engine so indicator streams are populated before live consumption starts.
func (svc *Service) backfillFromRedis(ctx context.Context) {
	count := svc.replayStreams(ctx, "0")
	if count > 0 {
		log.Printf("[indengine] backfilled %d candles from Redis streams", count)
	} else {
		log.Println("[indengine] no candles in Redis streams to backfill from")
	}
}

// replayDelta catches up on candles written after the snapshot was taken.
func (svc *Service) replayDelta(ctx context.Context) {
	snap, _ := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if snap == nil || snap.StreamID == "" {
		return
	}

	log.Printf("[indengine] replaying delta from stream ID: %s", snap.StreamID)
	count := svc.replayStreams(ctx, snap.StreamID)
	log.Printf("[indengine] replayed %d delta candles", count)
}

// replayStreams re-reads every consumed stream from startID, processing
// completed candles and publishing the resulting points. Returns the count
// processed.
func (svc *Service) replayStreams(ctx context.Context, startID string) int {
	replayCh := make(chan model.TFCandle, 5000)
	go func() {
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, startID, replayCh); err != nil {
				log.Printf("[indengine] replay error on %s: %v", stream, err)
			}
		}
		close(replayCh)
	}()

	count := 0
	for tfc := range replayCh {
		if tfc.Forming {
			continue
		}
		if points := svc.engine.Process(tfc); len(points) > 0 {
			svc.redisWriter.WritePointBatch(ctx, points)
		}
		count++
	}
	return count
}
