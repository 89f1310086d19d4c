package indicator

import "fmt"

// RSI is Wilder's relative strength index, built by composing two RMAs
// that smooth the gain and loss streams of consecutive price changes.
// Output is in [0, 100]. The first input has no previous close to diff
// against and returns the neutral 50.
type RSI struct {
	period  int
	gains   *RMA
	losses  *RMA
	prev    float64
	count   int
	current float64
}

// NewRSI returns an RSI with the given period.
func NewRSI(period int) (*RSI, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	gains, err := NewRMA(period)
	if err != nil {
		return nil, err
	}
	losses, err := NewRMA(period)
	if err != nil {
		return nil, err
	}
	return &RSI{period: period, gains: gains, losses: losses}, nil
}

// Next consumes one value and returns the updated index.
func (r *RSI) Next(v float64) float64 {
	if r.count == 0 {
		r.count = 1
		r.prev = v
		r.current = 50.0
		return r.current
	}
	r.count++
	var gain, loss float64
	if v > r.prev {
		gain = v - r.prev
	} else {
		loss = r.prev - v
	}
	r.prev = v
	r.current = rsiFrom(r.gains.Next(gain), r.losses.Next(loss))
	return r.current
}

// rsiFrom maps smoothed gain/loss averages to the 0..100 index. A zero
// loss average means no down moves in memory: 100, or 50 if flat.
func rsiFrom(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50.0
	case avgLoss == 0:
		return 100.0
	default:
		return 100.0 - 100.0/(1.0+avgGain/avgLoss)
	}
}

// Peek returns what Next(v) would return, without consuming v.
func (r *RSI) Peek(v float64) float64 {
	if r.count == 0 {
		return 50.0
	}
	var gain, loss float64
	if v > r.prev {
		gain = v - r.prev
	} else {
		loss = r.prev - v
	}
	return rsiFrom(r.gains.Peek(gain), r.losses.Peek(loss))
}

// Period returns the configured lookback length.
func (r *RSI) Period() int { return r.period }

// Value returns the last output.
func (r *RSI) Value() float64 { return r.current }

// Ready reports whether period price changes have been smoothed.
func (r *RSI) Ready() bool { return r.count > r.period }

// Reset restores the freshly-constructed state.
func (r *RSI) Reset() {
	r.gains.Reset()
	r.losses.Reset()
	r.prev = 0
	r.count = 0
	r.current = 0
}

func (r *RSI) String() string { return fmt.Sprintf("RSI(%d)", r.period) }

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "RSI",
		Period:  r.period,
		Count:   r.count,
		Prev:    r.prev,
		AvgGain: r.gains.Value(),
		AvgLoss: r.losses.Value(),
		Current: r.current,
	}
}

// RestoreFromSnapshot restores RSI state from a checkpoint. The smoothed
// averages are injected back into the gain/loss RMAs; they have seen one
// observation fewer than the RSI itself.
func (r *RSI) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	r.period = snap.Period
	r.count = snap.Count
	r.prev = snap.Prev
	r.current = snap.Current

	inner := IndicatorSnapshot{Type: "RMA", Period: snap.Period, Current: snap.AvgGain}
	if snap.Count > 0 {
		inner.Count = snap.Count - 1
	}
	if err := r.gains.RestoreFromSnapshot(inner); err != nil {
		return err
	}
	inner.Current = snap.AvgLoss
	return r.losses.RestoreFromSnapshot(inner)
}
