package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // e.g. "indengine"
	ConsumerName  string // unique per process, e.g. hostname
}

// Reader consumes TF candle streams through consumer groups and manages
// engine snapshots kept in Redis. It satisfies model.StreamConsumer.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

var _ model.StreamConsumer = (*Reader)(nil)

// NewReader connects to Redis and verifies the connection with a ping.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "indengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

const busyGroupErr = "BUSYGROUP Consumer Group name already exists"

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "$" (new messages only).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && err.Error() != busyGroupErr {
			return errors.Wrapf(err, "xgroup create %s", stream)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates (or repositions) the consumer group at a
// specific stream ID. Used to resume after a snapshot restore.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if err != nil {
		if err.Error() == busyGroupErr {
			return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
		}
		return errors.Wrapf(err, "xgroup create %s at %s", stream, startID)
	}
	return nil
}

// decodeTFCandle parses a stream message payload. A false return means the
// message is unusable and should be acked anyway so it cannot poison the PEL.
func decodeTFCandle(values map[string]interface{}) (model.TFCandle, bool) {
	var tfc model.TFCandle
	data, ok := values["data"].(string)
	if !ok {
		return tfc, false
	}
	if err := json.Unmarshal([]byte(data), &tfc); err != nil {
		return tfc, false
	}
	return tfc, true
}

// ConsumeTFCandles blocks on XREADGROUP over the given streams and sends
// parsed candles to out. Messages are acked only after delivery. Returns
// when ctx is cancelled.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	// XREADGROUP wants [stream1, ..., streamN, ">", ..., ">"].
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				tfc, ok := decodeTFCandle(msg.Values)
				if !ok {
					r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
					continue
				}

				select {
				case out <- tfc:
				case <-ctx.Done():
					return ctx.Err()
				}

				r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
			}
		}
	}
}

// RecoverPending re-delivers messages left unacked by a previous run of this
// consumer, giving at-least-once semantics across restarts.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			for _, msg := range claimed {
				tfc, ok := decodeTFCandle(msg.Values)
				if !ok {
					r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
					continue
				}

				select {
				case out <- tfc:
				case <-ctx.Done():
					return ctx.Err()
				}

				r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages claims PEL entries held by other consumers that have
// been idle longer than minIdleMs. Returns the claimed messages.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream, group, consumer string, minIdleMs int64, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	// Only steal from other (presumed dead) consumers.
	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "xclaim %s", stream)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically scans all streams for stale PEL entries,
// claims them, and re-delivers them on outCh. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, group, consumer string, interval time.Duration, minIdleMs int64, outCh chan<- model.TFCandle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, group, consumer, minIdleMs, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				for _, msg := range claimed {
					tfc, ok := decodeTFCandle(msg.Values)
					if !ok {
						r.client.XAck(ctx, stream, group, msg.ID)
						continue
					}
					select {
					case outCh <- tfc:
					case <-ctx.Done():
						return
					}
					r.client.XAck(ctx, stream, group, msg.ID)
					total++
				}
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReadSnapshot loads an engine snapshot from Redis. Returns nil, nil when
// no snapshot exists.
func (r *Reader) ReadSnapshot(ctx context.Context, snapshotKey string) (*indicator.EngineSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "redis get snapshot %s", snapshotKey)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

// WriteSnapshot saves an engine snapshot to Redis with a 24h TTL; SQLite
// holds the durable copy.
func (r *Reader) WriteSnapshot(ctx context.Context, snapshotKey string, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return r.client.Set(ctx, snapshotKey, string(data), 24*time.Hour).Err()
}

// ReplayFromID re-reads a stream from just after startID, sending every
// candle to out. Returns the last ID seen so the consumer group can be
// repositioned there.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	lastID := startID
	for {
		results, err := r.client.XRange(ctx, stream, "("+lastID, "+").Result()
		if err != nil {
			return lastID, errors.Wrapf(err, "xrange %s from %s", stream, lastID)
		}
		if len(results) == 0 {
			break
		}

		for _, msg := range results {
			tfc, ok := decodeTFCandle(msg.Values)
			lastID = msg.ID
			if !ok {
				continue
			}
			select {
			case out <- tfc:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < 1000 {
			break
		}
	}
	return lastID, nil
}

// DiscoverTFStreams returns the candle streams that actually exist for the
// given TFs and "exchange:token" keys.
func (r *Reader) DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string {
	var streams []string
	for _, tf := range tfs {
		for _, tok := range tokens {
			stream := "candle:" + model.Itoa(tf) + "s:" + tok
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// SubscribeFormingCandles forwards forming TF candles from the pub:candle:*
// Pub/Sub pattern into out. Completed candles arrive via the consumer group,
// so non-forming payloads are dropped here. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	pubsub := r.client.PSubscribe(ctx, "pub:candle:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var tfc model.TFCandle
			if err := json.Unmarshal([]byte(msg.Payload), &tfc); err != nil {
				continue
			}
			if !tfc.Forming {
				continue
			}
			select {
			case out <- tfc:
			default:
			}
		}
	}
}

// Subscribe1sForPeek turns the pub:candle:1s:* feed into forming TF candles
// for every TF in tfs. A local mini-aggregator merges 1s candles into the
// in-progress bucket and emits a Forming=true snapshot on each update, so
// live peek values work even when the producer does not publish forming TF
// candles itself.
func (r *Reader) Subscribe1sForPeek(ctx context.Context, tfs []int, out chan<- model.TFCandle) error {
	pubsub := r.client.PSubscribe(ctx, "pub:candle:1s:*")
	defer pubsub.Close()

	type forming struct {
		bucket int64
		candle model.TFCandle
	}
	state := map[string]*forming{}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c model.Candle
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}

			ts := c.TS.Unix()
			for _, tf := range tfs {
				bucket := ts - (ts % int64(tf))
				key := model.Itoa(tf) + ":" + c.Exchange + ":" + c.Token

				st, live := state[key]
				if live && bucket > st.bucket {
					// Bucket rolled over; the completed candle comes in
					// through the stream consumer.
					live = false
				}

				if !live {
					st = &forming{
						bucket: bucket,
						candle: model.TFCandle{
							Token: c.Token, Exchange: c.Exchange,
							TF: tf, TS: c.TS,
							Open: c.Open, High: c.High,
							Low: c.Low, Close: c.Close,
							Volume: c.Volume, Count: 1,
							Forming: true,
						},
					}
					state[key] = st
				} else {
					fc := &st.candle
					if c.High > fc.High {
						fc.High = c.High
					}
					if c.Low < fc.Low {
						fc.Low = c.Low
					}
					fc.Close = c.Close
					fc.Volume += c.Volume
					fc.Count++
				}

				select {
				case out <- st.candle:
				default:
				}
			}
		}
	}
}

// SubscribeChannel subscribes to one Pub/Sub channel and returns the handle,
// or nil if the subscription could not be confirmed.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message on a Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
