package indicator

import (
	"fmt"
	"log"

	"ta-enginev1/internal/model"
)

// Snapshottable is implemented by indicators whose state can be
// checkpointed and restored. A restored instance continues the stream
// with outputs identical to the original.
type Snapshottable interface {
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot is the serialized state of one indicator instance.
// It is a flat union: each type fills the fields it owns and leaves the
// rest zero (omitted from JSON).
type IndicatorSnapshot struct {
	Type   string `json:"type"`           // "SMA", "EMA", "RMA", "LWMA", "RSI", "MA"
	Kind   string `json:"kind,omitempty"` // for Type "MA": the wrapped algorithm tag
	Period int    `json:"period"`

	// windowed types (SMA, LWMA)
	Buf []float64 `json:"buf,omitempty"`
	Idx int       `json:"idx,omitempty"`
	Sum float64   `json:"sum,omitempty"`

	// LWMA
	WeightedSum float64 `json:"weighted_sum,omitempty"`

	// EMA family
	Alpha float64 `json:"alpha,omitempty"`

	// RSI
	Prev    float64 `json:"prev,omitempty"`
	AvgGain float64 `json:"avg_gain,omitempty"`
	AvgLoss float64 `json:"avg_loss,omitempty"`

	Count   int     `json:"count"`
	Current float64 `json:"current"`
}

// TokenSnapshot holds the indicator snapshots for one token on one TF.
type TokenSnapshot struct {
	Token      string              `json:"token"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot is the full checkpoint of an Engine: every live
// indicator instance plus the stream position it was taken at, so the
// service can replay exactly the candles the checkpoint has not seen.
type EngineSnapshot struct {
	StreamID string          `json:"stream_id"`
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"`
}

// SnapshotEngine captures the full state of an Engine at streamID.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{StreamID: streamID, Version: 1}

	for tfIdx, spec := range e.specs {
		for key, set := range e.state[tfIdx] {
			ts := TokenSnapshot{
				TF:         spec.TF,
				Indicators: make([]IndicatorSnapshot, 0, len(set.inds)),
			}
			ts.Exchange, ts.Token = splitKey(key)
			for _, ind := range set.inds {
				ts.Indicators = append(ts.Indicators, ind.Snapshot())
			}
			snap.Tokens = append(snap.Tokens, ts)
		}
	}
	return snap, nil
}

// RestoreEngine rebuilds an Engine from a checkpoint. It tolerates spec
// drift: instances are matched by Type+Period, not position. Matching
// instances get their state back, new ones start cold, and snapshots of
// removed specs are dropped.
func RestoreEngine(specs []TFSpec, snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore engine: nil snapshot")
	}
	e := NewEngine(specs)

	for _, ts := range snap.Tokens {
		tfIdx, ok := e.tfIndex[ts.TF]
		if !ok {
			continue // TF no longer configured
		}

		set := e.buildSet(tfIdx)

		lookup := make(map[string]IndicatorSnapshot, len(ts.Indicators))
		for _, is := range ts.Indicators {
			lookup[is.Type+":"+model.Itoa(is.Period)] = is
		}

		restored, cold := 0, 0
		for i, ind := range set.inds {
			sp := set.specs[i]
			is, found := lookup[sp.Type+":"+model.Itoa(sp.Period)]
			if !found {
				cold++
				continue
			}
			if err := ind.RestoreFromSnapshot(is); err != nil {
				log.Printf("[indicator] restore %s TF=%d token=%s failed, cold start: %v",
					set.names[i], ts.TF, ts.Token, err)
				ind.Reset()
				cold++
				continue
			}
			restored++
		}
		if cold > 0 {
			log.Printf("[indicator] TF=%d token=%s: restored %d, cold-started %d",
				ts.TF, ts.Token, restored, cold)
		}

		key := ts.Token
		if ts.Exchange != "" {
			key = ts.Exchange + ":" + ts.Token
		}
		e.state[tfIdx][key] = set
	}
	return e, nil
}

// splitKey breaks "exchange:token" back into its parts. Keys without a
// colon are treated as bare tokens.
func splitKey(key string) (exchange, token string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}
