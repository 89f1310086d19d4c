package model

import (
	"context"
	"time"
)

// Storage port interfaces. Services program against these; the Redis and
// SQLite packages provide the implementations. Snapshot payloads cross as
// raw JSON so model never imports indicator.

// CandleWriter persists raw 1s candles and TF candles.
type CandleWriter interface {
	// Run drains candleCh until ctx is cancelled or the channel closes.
	Run(ctx context.Context, candleCh <-chan Candle)

	// RunTFCandles drains a TF candle channel the same way.
	RunTFCandles(ctx context.Context, tfCandleCh <-chan TFCandle)

	Close() error
}

// CandleReader serves TF candles for backfill and replay.
type CandleReader interface {
	// ReadTFCandles returns candles for one instrument and TF with
	// timestamps after afterTS (unix seconds).
	ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]TFCandle, error)

	// ReadAllTFCandles returns every token's candles for one TF.
	ReadAllTFCandles(tf int, afterTS int64) ([]TFCandle, error)

	Close() error
}

// PointWriter persists computed indicator points.
type PointWriter interface {
	// WritePointBatch writes a batch of points in one round trip.
	WritePointBatch(ctx context.Context, points []IndicatorPoint)

	Close() error
}

// SnapshotStore persists engine checkpoints as raw JSON.
type SnapshotStore interface {
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON returns nil, nil when no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// StreamConsumer consumes TF candles from a stream transport.
type StreamConsumer interface {
	// ConsumeTFCandles reads via consumer groups until ctx is cancelled.
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- TFCandle) error

	// RecoverPending re-delivers unacked messages from a previous run.
	RecoverPending(ctx context.Context, streams []string, out chan<- TFCandle) error

	// EnsureConsumerGroup creates the consumer group on each stream.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReplayFromID re-reads a stream from startID and returns the last
	// ID seen, for catch-up after a snapshot restore.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- TFCandle) (string, error)

	// DiscoverTFStreams lists existing streams for the given TFs/tokens.
	DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string

	// StartPELReclaimer periodically claims stale pending entries from
	// dead consumers and re-delivers them on outCh.
	StartPELReclaimer(ctx context.Context, streams []string, group, consumer string,
		interval time.Duration, minIdleMs int64, outCh chan<- TFCandle, onReclaim func(count int))

	Close() error
}
