package indicator

import (
	"fmt"
	"strings"
)

// MAType selects the algorithm behind an MA. The set is closed: exactly
// these four tags are valid, and the choice is fixed at construction.
type MAType string

const (
	Simple      MAType = "SMA"
	Exponential MAType = "EMA"
	Relative    MAType = "RMA"
	Linear      MAType = "LWMA"
)

// DefaultPeriod is the period DefaultMA uses.
const DefaultPeriod = 9

// ParseMAType maps a config string (any case) to an MAType.
func ParseMAType(s string) (MAType, error) {
	t := MAType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case Simple, Exponential, Relative, Linear:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown MA type %q", ErrInvalidParameter, s)
}

// MA is a moving average whose algorithm is picked at runtime and fixed
// for the lifetime of the instance. Strategy code holds an MA so that the
// algorithm is a config detail rather than a code change; accordingly the
// label reports only "MA(period)" and hides the wrapped type.
type MA struct {
	typ  MAType
	impl streamIndicator
}

// NewMA constructs the moving average selected by typ.
func NewMA(typ MAType, period int) (*MA, error) {
	var (
		impl streamIndicator
		err  error
	)
	switch typ {
	case Simple:
		impl, err = NewSMA(period)
	case Exponential:
		impl, err = NewEMA(period)
	case Relative:
		impl, err = NewRMA(period)
	case Linear:
		impl, err = NewLWMA(period)
	default:
		return nil, fmt.Errorf("%w: unknown MA type %q", ErrInvalidParameter, typ)
	}
	if err != nil {
		return nil, err
	}
	return &MA{typ: typ, impl: impl}, nil
}

// DefaultMA returns the default moving average: Simple with period 9.
func DefaultMA() *MA {
	ma, _ := NewMA(Simple, DefaultPeriod)
	return ma
}

// Next consumes one value and returns the updated average.
func (m *MA) Next(v float64) float64 { return m.impl.Next(v) }

// Peek returns what Next(v) would return, without consuming v.
func (m *MA) Peek(v float64) float64 { return m.impl.Peek(v) }

// Period returns the configured lookback length.
func (m *MA) Period() int { return m.impl.Period() }

// Value returns the last output.
func (m *MA) Value() float64 { return m.impl.Value() }

// Ready reports the wrapped indicator's warm-up state.
func (m *MA) Ready() bool { return m.impl.Ready() }

// Reset restores the freshly-constructed state.
func (m *MA) Reset() { m.impl.Reset() }

// Type returns the algorithm tag fixed at construction.
func (m *MA) Type() MAType { return m.typ }

func (m *MA) String() string { return fmt.Sprintf("MA(%d)", m.impl.Period()) }

// Snapshot serializes the wrapped state, recording the algorithm tag in
// Kind so restore can verify it lands on the same type.
func (m *MA) Snapshot() IndicatorSnapshot {
	snap := m.impl.Snapshot()
	snap.Kind = snap.Type
	snap.Type = "MA"
	return snap
}

// RestoreFromSnapshot restores the wrapped indicator's state.
func (m *MA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Kind != "" && MAType(snap.Kind) != m.typ {
		return fmt.Errorf("ma restore: snapshot kind %s does not match constructed type %s", snap.Kind, m.typ)
	}
	inner := snap
	inner.Type = snap.Kind
	return m.impl.RestoreFromSnapshot(inner)
}
