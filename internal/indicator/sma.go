package indicator

import "fmt"

// SMA is a simple moving average: the arithmetic mean of the most recent
// period inputs, maintained over a circular buffer in O(1) per update.
// While the window is still filling, the output is the mean of the values
// seen so far, so the first output equals the first input.
type SMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

// NewSMA returns an SMA with the given period.
func NewSMA(period int) (*SMA, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return &SMA{period: period, buf: make([]float64, period)}, nil
}

// Next consumes one value and returns the mean of the current window.
func (s *SMA) Next(v float64) float64 {
	if s.count < s.period {
		s.count++
	}
	old := s.buf[s.idx]
	s.buf[s.idx] = v
	s.idx++
	if s.idx == s.period {
		s.idx = 0
	}
	s.sum += v - old
	s.current = s.sum / float64(s.count)
	return s.current
}

// Peek returns what Next(v) would return, without consuming v.
func (s *SMA) Peek(v float64) float64 {
	count := s.count
	if count < s.period {
		count++
	}
	return (s.sum - s.buf[s.idx] + v) / float64(count)
}

// Period returns the configured lookback length.
func (s *SMA) Period() int { return s.period }

// Value returns the last output.
func (s *SMA) Value() float64 { return s.current }

// Ready reports whether the window has filled.
func (s *SMA) Ready() bool { return s.count >= s.period }

// Reset restores the freshly-constructed state.
func (s *SMA) Reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
}

func (s *SMA) String() string { return fmt.Sprintf("SMA(%d)", s.period) }

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "SMA",
		Period:  s.period,
		Buf:     append([]float64(nil), s.buf...),
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if len(snap.Buf) != snap.Period {
		return fmt.Errorf("sma restore: buf length %d does not match period %d", len(snap.Buf), snap.Period)
	}
	s.period = snap.Period
	s.buf = append([]float64(nil), snap.Buf...)
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	return nil
}
