package indicator

import "fmt"

// EMA is an exponential moving average. The first input becomes the first
// output verbatim; from then on
//
//	current = alpha*v + (1-alpha)*current
//
// With the standard constructor alpha = 2/(period+1).
type EMA struct {
	period  int
	alpha   float64
	count   int
	current float64
}

// NewEMA returns an EMA with the standard smoothing constant 2/(period+1).
func NewEMA(period int) (*EMA, error) {
	return NewEMAWithAlpha(period, 2.0/float64(period+1))
}

// NewEMAWithAlpha returns an EMA with a caller-chosen smoothing constant.
// RMA is built on this with alpha = 1/period. The period is still used
// for Ready and the display label.
func NewEMAWithAlpha(period int, alpha float64) (*EMA, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return &EMA{period: period, alpha: alpha}, nil
}

// Next consumes one value and returns the updated average.
func (e *EMA) Next(v float64) float64 {
	if e.count == 0 {
		e.current = v
	} else {
		e.current = e.alpha*v + (1-e.alpha)*e.current
	}
	e.count++
	return e.current
}

// Peek returns what Next(v) would return, without consuming v.
func (e *EMA) Peek(v float64) float64 {
	if e.count == 0 {
		return v
	}
	return e.alpha*v + (1-e.alpha)*e.current
}

// Period returns the configured lookback length.
func (e *EMA) Period() int { return e.period }

// Value returns the last output.
func (e *EMA) Value() float64 { return e.current }

// Ready reports whether period inputs have been consumed.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset restores the freshly-constructed state.
func (e *EMA) Reset() {
	e.count = 0
	e.current = 0
}

func (e *EMA) String() string { return fmt.Sprintf("EMA(%d)", e.period) }

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "EMA",
		Period:  e.period,
		Alpha:   e.alpha,
		Count:   e.count,
		Current: e.current,
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint. A zero Alpha
// in the snapshot keeps the constructed smoothing constant.
func (e *EMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	e.period = snap.Period
	if snap.Alpha != 0 {
		e.alpha = snap.Alpha
	}
	e.count = snap.Count
	e.current = snap.Current
	return nil
}
