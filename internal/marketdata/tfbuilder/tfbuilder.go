// Package tfbuilder resamples finalized 1-second candles into the
// configured timeframes. Each (token, TF) pair keeps one forming candle
// updated in O(1); when a 1s candle lands in a new bucket the previous
// candle is finalized and emitted. Forming snapshots are also emitted on
// every update so the live-preview path can peek at in-progress buckets.
package tfbuilder

import (
	"context"
	"log"
	"time"

	"ta-enginev1/internal/model"
)

// forming is the in-progress candle for one (token, TF) pair.
type forming struct {
	bucket  int64 // bucket start, unix seconds, TF-aligned
	candle  model.TFCandle
	started bool
}

// Builder is the resampler. Single consumer: one goroutine owns it.
type Builder struct {
	tfs    []int // enabled TFs, seconds
	states []map[string]*forming

	// StaleTolerance rejects candles that lag the forming bucket by more
	// than this. Zero disables the check.
	StaleTolerance time.Duration

	// hooks, optional
	OnTFCandle    func(c model.TFCandle)
	OnStaleCandle func()
}

// New creates a builder for the given timeframes (seconds).
func New(tfs []int) *Builder {
	states := make([]map[string]*forming, len(tfs))
	for i := range states {
		states[i] = make(map[string]*forming, 64)
	}
	return &Builder{
		tfs:            tfs,
		states:         states,
		StaleTolerance: 2 * time.Second,
	}
}

// UpdateTFs swaps the enabled timeframe set at runtime. Forming candles
// of removed TFs are finalized and emitted; surviving TFs keep state.
func (b *Builder) UpdateTFs(newTFs []int, outCh chan<- model.TFCandle) {
	keep := make(map[int]bool, len(newTFs))
	for _, tf := range newTFs {
		keep[tf] = true
	}

	for i, tf := range b.tfs {
		if !keep[tf] {
			for _, st := range b.states[i] {
				if st.started {
					st.candle.Forming = false
					emit(outCh, st.candle)
				}
			}
		}
	}

	old := make(map[int]map[string]*forming, len(b.tfs))
	for i, tf := range b.tfs {
		old[tf] = b.states[i]
	}

	b.tfs = newTFs
	b.states = make([]map[string]*forming, len(newTFs))
	for i, tf := range newTFs {
		if prev, ok := old[tf]; ok {
			b.states[i] = prev
		} else {
			b.states[i] = make(map[string]*forming, 64)
		}
	}
}

// Run consumes 1s candles until ctx is cancelled or candleCh closes,
// emitting TF candles on outCh. Forming candles flush on exit.
func (b *Builder) Run(ctx context.Context, candleCh <-chan model.Candle, outCh chan<- model.TFCandle) {
	for {
		select {
		case <-ctx.Done():
			b.flushAll(outCh)
			return
		case c, ok := <-candleCh:
			if !ok {
				b.flushAll(outCh)
				return
			}
			b.process(c, outCh)
		}
	}
}

// process folds one 1s candle into every enabled TF.
func (b *Builder) process(c model.Candle, outCh chan<- model.TFCandle) {
	ts := c.TS.Unix()
	key := c.Key()

	for i, tf := range b.tfs {
		tf64 := int64(tf)
		bucket := ts - (ts % tf64)

		st, exists := b.states[i][key]

		// A candle whose bucket trails the forming bucket beyond the
		// tolerance would corrupt an already-advancing bar; reject it.
		if b.StaleTolerance > 0 && exists && bucket < st.bucket {
			lag := time.Duration(st.bucket-bucket) * time.Second
			if lag > b.StaleTolerance {
				if b.OnStaleCandle != nil {
					b.OnStaleCandle()
				}
				continue
			}
		}

		if exists && bucket > st.bucket {
			st.candle.Forming = false
			emit(outCh, st.candle)
			if b.OnTFCandle != nil {
				b.OnTFCandle(st.candle)
			}
			exists = false
		}

		if !exists {
			st = &forming{
				bucket:  bucket,
				started: true,
				candle: model.TFCandle{
					Token:    c.Token,
					Exchange: c.Exchange,
					TF:       tf,
					TS:       time.Unix(bucket, 0).UTC(),
					Open:     c.Open,
					High:     c.High,
					Low:      c.Low,
					Close:    c.Close,
					Volume:   c.Volume,
					Count:    1,
					Forming:  true,
				},
			}
			b.states[i][key] = st
			emit(outCh, st.candle)
			continue
		}

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

		// copy before sending: the state keeps mutating after emit
		emit(outCh, *fc)
	}
}

// flushAll finalizes and emits every forming candle.
func (b *Builder) flushAll(outCh chan<- model.TFCandle) {
	for i := range b.tfs {
		for key, st := range b.states[i] {
			if st.started {
				st.candle.Forming = false
				emit(outCh, st.candle)
			}
			delete(b.states[i], key)
		}
	}
}

// emit never blocks; a stalled consumer loses candles, not the pipeline.
func emit(outCh chan<- model.TFCandle, c model.TFCandle) {
	select {
	case outCh <- c:
	default:
		log.Printf("[tfbuilder] outCh full, dropping TF candle %s tf=%d ts=%v", c.Key(), c.TF, c.TS)
	}
}

// TFs returns the enabled timeframes.
func (b *Builder) TFs() []int {
	return b.tfs
}

// Process1 folds a single candle inline, skipping the channel hop for
// callers already on the pipeline goroutine.
func (b *Builder) Process1(c model.Candle, outCh chan<- model.TFCandle) {
	b.process(c, outCh)
}
