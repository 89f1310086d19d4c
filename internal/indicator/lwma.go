package indicator

import "fmt"

// LWMA is a linearly weighted moving average with weights 1..period: the
// newest value in the window carries weight period, the oldest weight 1.
// The weighted sum is maintained incrementally over a circular buffer, so
// each update costs O(1) regardless of period:
//
//	1*x[1] + 2*x[2] + ... + n*x[n]
//	        1*x[2] + ... + (n-1)*x[n] + n*v   =  prev - sum + n*v
//
// While the window is filling, the i-th arrival carries weight i and the
// divisor is the triangular number of the values seen so far, so the
// first output equals the first input.
type LWMA struct {
	period      int
	buf         []float64
	idx         int
	count       int
	sum         float64
	weightedSum float64
	current     float64
}

// NewLWMA returns an LWMA with the given period.
func NewLWMA(period int) (*LWMA, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return &LWMA{period: period, buf: make([]float64, period)}, nil
}

// Next consumes one value and returns the updated weighted average.
func (w *LWMA) Next(v float64) float64 {
	old := w.buf[w.idx]
	w.buf[w.idx] = v
	w.idx++
	if w.idx == w.period {
		w.idx = 0
	}

	if w.count < w.period {
		w.count++
		w.weightedSum += float64(w.count) * v
	} else {
		w.weightedSum = w.weightedSum - w.sum + float64(w.period)*v
	}
	w.sum += v - old

	weight := float64(w.count) * float64(w.count+1) / 2.0
	w.current = w.weightedSum / weight
	return w.current
}

// Peek returns what Next(v) would return, without consuming v.
func (w *LWMA) Peek(v float64) float64 {
	count, weightedSum := w.count, w.weightedSum
	if count < w.period {
		count++
		weightedSum += float64(count) * v
	} else {
		weightedSum = weightedSum - w.sum + float64(w.period)*v
	}
	weight := float64(count) * float64(count+1) / 2.0
	return weightedSum / weight
}

// Period returns the configured lookback length.
func (w *LWMA) Period() int { return w.period }

// Value returns the last output.
func (w *LWMA) Value() float64 { return w.current }

// Ready reports whether the window has filled.
func (w *LWMA) Ready() bool { return w.count >= w.period }

// Reset restores the freshly-constructed state.
func (w *LWMA) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.idx = 0
	w.count = 0
	w.sum = 0
	w.weightedSum = 0
	w.current = 0
}

func (w *LWMA) String() string { return fmt.Sprintf("LWMA(%d)", w.period) }

// Snapshot serializes the LWMA state for checkpoint persistence.
func (w *LWMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:        "LWMA",
		Period:      w.period,
		Buf:         append([]float64(nil), w.buf...),
		Idx:         w.idx,
		Count:       w.count,
		Sum:         w.sum,
		WeightedSum: w.weightedSum,
		Current:     w.current,
	}
}

// RestoreFromSnapshot restores LWMA state from a checkpoint.
func (w *LWMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if len(snap.Buf) != snap.Period {
		return fmt.Errorf("lwma restore: buf length %d does not match period %d", len(snap.Buf), snap.Period)
	}
	w.period = snap.Period
	w.buf = append([]float64(nil), snap.Buf...)
	w.idx = snap.Idx
	w.count = snap.Count
	w.sum = snap.Sum
	w.weightedSum = snap.WeightedSum
	w.current = snap.Current
	return nil
}
