// Package replay feeds historical TF candles from SQLite back into the
// pipeline at a configurable speed, for backtests and offline runs.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"ta-enginev1/internal/model"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

// Replayer streams stored candles in timestamp order.
type Replayer struct {
	reader *sqlitestore.Reader
}

// New creates a Replayer over a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays every candle for the given TFs onto outCh. speed scales
// playback: 1.0 real time, 10.0 ten times faster, 0 as fast as possible.
// fromTS skips candles at or before that unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.TFCandle) error {
	var all []model.TFCandle
	for _, tf := range tfs {
		candles, err := r.reader.ReadAllTFCandles(tf, fromTS)
		if err != nil {
			return err
		}
		all = append(all, candles...)
	}

	if len(all) == 0 {
		log.Println("[replay] no candles found in SQLite")
		return nil
	}

	// interleaved across TFs; order by time
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	log.Printf("[replay] loaded %d candles across %d TFs, speed=%.1fx", len(all), len(tfs), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range all {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		default:
		}

		if speed > 0 && !prevTS.IsZero() {
			gap := c.TS.Sub(prevTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second // cap overnight gaps
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.TS

		// stored candles are final by definition
		c.Forming = false
		outCh <- c
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}
