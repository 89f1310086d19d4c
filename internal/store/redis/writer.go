package redis

import (
	"context"
	"log"
	"time"

	"ta-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	// 1s streams keep roughly the last 3 hours of a trading session.
	stream1sMaxLen   = 12000
	defaultLatestTTL = 30 * time.Minute
)

// streamMaxLen returns the approximate XADD trim length for a TF stream:
// ~3h of candles at that TF, floored at 200 entries.
func streamMaxLen(tf int) int64 {
	n := int64(10800/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer persists 1s candles, TF candles, and indicator points to Redis.
// Confirmed data goes to Streams (XADD) plus a "latest" key; everything is
// also published on Pub/Sub for live subscribers. It satisfies both
// model.CandleWriter and model.PointWriter.
type Writer struct {
	client *goredis.Client
}

var (
	_ model.CandleWriter = (*Writer)(nil)
	_ model.PointWriter  = (*Writer)(nil)
)

// Client exposes the underlying client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New connects to Redis and verifies the connection with a ping.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run drains 1s candles from candleCh into Redis until ctx is cancelled
// or the channel closes.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, c)
		}
	}
}

// RunTFCandles drains completed TF candles into Redis Streams.
func (w *Writer) RunTFCandles(ctx context.Context, tfCandleCh <-chan model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-tfCandleCh:
			if !ok {
				return
			}
			w.writeTFCandle(ctx, tfc)
		}
	}
}

// RunFormingTFCandles publishes forming TF candles on Pub/Sub only. Forming
// previews are revisable, so they never touch Streams or latest keys.
func (w *Writer) RunFormingTFCandles(ctx context.Context, ch <-chan model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-ch:
			if !ok {
				return
			}
			w.client.Publish(ctx, "pub:"+tfc.StreamKey(), string(tfc.JSON()))
		}
	}
}

// PublishFormingBatch publishes a batch of forming TF candles in one pipeline.
func (w *Writer) PublishFormingBatch(ctx context.Context, candles []model.TFCandle) {
	if len(candles) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range candles {
		pipe.Publish(ctx, "pub:"+candles[i].StreamKey(), string(candles[i].JSON()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] forming batch pipeline error (%d candles): %v", len(candles), err)
	}
}

// WritePointBatch writes a batch of indicator points in a single pipeline:
// one network round trip for all the XADD + SET + PUBLISH commands. Live
// points are Pub/Sub only; confirmed points that are not Ready are skipped.
func (w *Writer) WritePointBatch(ctx context.Context, points []model.IndicatorPoint) {
	if len(points) == 0 {
		return
	}

	pipe := w.client.Pipeline()
	for i := range points {
		p := &points[i]
		if !p.Ready && !p.Live {
			continue
		}

		jsonData := string(p.JSON())
		pubsubCh := p.PubSubChannel()

		if p.Live {
			pipe.Publish(ctx, pubsubCh, jsonData)
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.StreamKey(),
			MaxLen: streamMaxLen(p.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		latestKey := "ind:" + p.Name + ":" + model.Itoa(p.TF) + "s:latest:" + p.Exchange + ":" + p.Token
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] point batch pipeline error (%d points): %v", len(points), err)
	}
}

// LoadTFRegistry reads the tf:enabled set. Returns nil when unset.
func (w *Writer) LoadTFRegistry(ctx context.Context) ([]int, error) {
	members, err := w.client.SMembers(ctx, "tf:enabled").Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis SMEMBERS tf:enabled")
	}

	tfs := make([]int, 0, len(members))
	for _, m := range members {
		n := 0
		for _, c := range m {
			if c >= '0' && c <= '9' {
				n = n*10 + int(c-'0')
			}
		}
		if n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs, nil
}

// SaveTFRegistry replaces the tf:enabled set with the given TFs.
func (w *Writer) SaveTFRegistry(ctx context.Context, tfs []int) error {
	pipe := w.client.Pipeline()
	pipe.Del(ctx, "tf:enabled")
	for _, tf := range tfs {
		pipe.SAdd(ctx, "tf:enabled", model.Itoa(tf))
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis save tf:enabled")
}

func (w *Writer) writeCandle(ctx context.Context, c model.Candle) {
	base := "candle:1s:" + c.Exchange + ":" + c.Token
	jsonData := string(c.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "candle:1s:latest:"+c.Exchange+":"+c.Token, jsonData, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: base,
		MaxLen: stream1sMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, "pub:"+base, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] 1s pipeline error for %s: %v", c.Key(), err)
	}
}

func (w *Writer) writeTFCandle(ctx context.Context, tfc model.TFCandle) {
	streamKey := tfc.StreamKey()
	jsonData := string(tfc.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen(tfc.TF),
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	latestKey := "candle:" + model.Itoa(tfc.TF) + "s:latest:" + tfc.Exchange + ":" + tfc.Token
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:"+streamKey, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] TF pipeline error for %s: %v", tfc.Key(), err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
