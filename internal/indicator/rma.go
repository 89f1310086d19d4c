package indicator

import "fmt"

// RMA is a relative moving average: an EMA with alpha = 1/period, the
// smoothing Wilder introduced for RSI and ATR. Everything except the
// label delegates to the wrapped EMA.
type RMA struct {
	ema *EMA
}

// NewRMA returns an RMA with the given period.
func NewRMA(period int) (*RMA, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	ema, err := NewEMAWithAlpha(period, 1.0/float64(period))
	if err != nil {
		return nil, err
	}
	return &RMA{ema: ema}, nil
}

// Next consumes one value and returns the updated average.
func (r *RMA) Next(v float64) float64 { return r.ema.Next(v) }

// Peek returns what Next(v) would return, without consuming v.
func (r *RMA) Peek(v float64) float64 { return r.ema.Peek(v) }

// Period returns the configured lookback length.
func (r *RMA) Period() int { return r.ema.Period() }

// Value returns the last output.
func (r *RMA) Value() float64 { return r.ema.Value() }

// Ready reports whether period inputs have been consumed.
func (r *RMA) Ready() bool { return r.ema.Ready() }

// Reset restores the freshly-constructed state.
func (r *RMA) Reset() { r.ema.Reset() }

func (r *RMA) String() string { return fmt.Sprintf("RMA(%d)", r.ema.Period()) }

// Snapshot serializes the RMA state for checkpoint persistence.
func (r *RMA) Snapshot() IndicatorSnapshot {
	snap := r.ema.Snapshot()
	snap.Type = "RMA"
	return snap
}

// RestoreFromSnapshot restores RMA state from a checkpoint.
func (r *RMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	return r.ema.RestoreFromSnapshot(snap)
}
