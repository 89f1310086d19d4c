package indicator

import (
	"log"

	"ta-enginev1/internal/model"
)

// BackfillReader is the slice of the SQLite reader the restorer needs.
type BackfillReader interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Restorer brings an engine back after a restart. The priority chain is
// Redis snapshot, then SQLite snapshot, then cold start with a SQLite
// candle backfill to re-warm the instances.
type Restorer struct {
	specs []TFSpec
}

// NewRestorer creates a Restorer for the given specs.
func NewRestorer(specs []TFSpec) *Restorer {
	return &Restorer{specs: specs}
}

// RestoreFromSnap rebuilds an engine from snap, or cold-starts when snap
// is nil or corrupt. Never fails: a broken snapshot degrades to cold start.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found, cold starting engine")
		return NewEngine(r.specs), nil
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, tokens=%d)",
		snap.Version, snap.StreamID, len(snap.Tokens))

	engine, err := RestoreEngine(r.specs, snap)
	if err != nil {
		log.Printf("[restorer] snapshot restore failed: %v, falling back to cold start", err)
		return NewEngine(r.specs), nil
	}

	log.Printf("[restorer] restored engine from snapshot")
	return engine, nil
}

// ReplayCandles feeds completed TF candles into the engine to catch up from
// the snapshot position. Forming candles are skipped. Returns the number
// replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.TFCandle) int {
	count := 0
	for _, tfc := range candles {
		if tfc.Forming {
			continue
		}
		engine.Process(tfc)
		count++
	}
	log.Printf("[restorer] replayed %d TF candles to catch up", count)
	return count
}

// Backfill warms up cold instances by feeding the most recent candles per
// TF from durable storage, enough to cover the largest configured period.
// onPoints, when non-nil, receives the computed points so the caller can
// publish history. Returns the number of candles fed.
func (r *Restorer) Backfill(engine *Engine, reader BackfillReader, onPoints func([]model.IndicatorPoint)) int {
	if reader == nil {
		return 0
	}

	maxPeriod := 0
	for _, s := range r.specs {
		for _, sp := range s.Specs {
			if sp.Period > maxPeriod {
				maxPeriod = sp.Period
			}
		}
	}
	if maxPeriod == 0 {
		return 0
	}

	total := 0
	for _, s := range r.specs {
		candles, err := reader.ReadAllTFCandles(s.TF, 0)
		if err != nil {
			log.Printf("[restorer] read TF=%d candles failed: %v", s.TF, err)
			continue
		}

		// Only the most recent maxPeriod candles matter for warm-up.
		if len(candles) > maxPeriod {
			candles = candles[len(candles)-maxPeriod:]
		}

		fed := 0
		for _, tfc := range candles {
			tfc.Forming = false
			points := engine.Process(tfc)
			if onPoints != nil && len(points) > 0 {
				onPoints(points)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d candles for TF=%d", fed, s.TF)
		}
	}

	if total > 0 {
		log.Printf("[restorer] backfilled %d total candles", total)
	}
	return total
}
