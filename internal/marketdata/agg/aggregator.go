// Package agg rolls raw ticks into 1-second OHLCV candles. One goroutine
// per process owns the aggregation state.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"ta-enginev1/internal/model"
)

// openCandle is the in-progress bar for one instrument's current second.
type openCandle struct {
	bucket int64 // unix second
	candle model.Candle
}

// Aggregator folds ticks into 1s candles and emits each candle when its
// second rolls over or goes stale.
type Aggregator struct {
	mu    sync.Mutex
	open  map[string]*openCandle // key "exchange:token"
	sweep time.Duration

	// OnDroppedTick, when set, is called for every late tick discarded.
	OnDroppedTick func()
}

// New returns an Aggregator with the default 100ms rollover sweep.
func New() *Aggregator {
	return &Aggregator{
		open:  make(map[string]*openCandle),
		sweep: 100 * time.Millisecond,
	}
}

// Run consumes ticks until ctx is cancelled or tickCh closes, emitting
// finalized candles on candleCh. Open candles are flushed on exit.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.apply(tick, candleCh)

		case <-ticker.C:
			a.flushPast(candleCh)
		}
	}
}

// apply folds one tick into its bucket, finalizing the previous bucket
// when the second advances. Ticks behind the current bucket are dropped.
func (a *Aggregator) apply(tick model.Tick, candleCh chan<- model.Candle) {
	bucket := tick.TickTS.Unix()
	key := tick.Exchange + ":" + tick.Token

	a.mu.Lock()
	state, exists := a.open[key]

	if exists && bucket < state.bucket {
		a.mu.Unlock()
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	if exists && bucket > state.bucket {
		a.emit(state, candleCh)
		delete(a.open, key)
		exists = false
	}

	if !exists {
		a.open[key] = &openCandle{
			bucket: bucket,
			candle: model.Candle{
				Token:      tick.Token,
				Exchange:   tick.Exchange,
				TS:         time.Unix(bucket, 0).UTC(),
				Open:       tick.Price,
				High:       tick.Price,
				Low:        tick.Price,
				Close:      tick.Price,
				Volume:     tick.Qty,
				TicksCount: 1,
			},
		}
		a.mu.Unlock()
		return
	}

	c := &state.candle
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
	c.TicksCount++
	a.mu.Unlock()
}

// flushPast emits every candle whose second is strictly behind the wall
// clock, so quiet instruments still close their bars.
func (a *Aggregator) flushPast(candleCh chan<- model.Candle) {
	now := time.Now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, state := range a.open {
		if state.bucket < now {
			a.emit(state, candleCh)
			delete(a.open, key)
		}
	}
}

// flushAll emits every open candle, regardless of bucket age.
func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, state := range a.open {
		a.emit(state, candleCh)
		delete(a.open, key)
	}
}

// emit sends without blocking: a stalled consumer costs candles, not the
// tick loop.
func (a *Aggregator) emit(state *openCandle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- state.candle:
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", state.candle.Key(), state.candle.TS)
	}
}
