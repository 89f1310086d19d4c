package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAType(t *testing.T) {
	cases := map[string]MAType{
		"SMA":   Simple,
		"sma":   Simple,
		" ema ": Exponential,
		"RMA":   Relative,
		"lwma":  Linear,
		"LwMa":  Linear,
	}
	for in, want := range cases {
		got, err := ParseMAType(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	for _, in := range []string{"", "WMA", "MA", "simple", "RSI"} {
		_, err := ParseMAType(in)
		assert.ErrorIs(t, err, ErrInvalidParameter, "input %q", in)
	}
}

func TestNewMA_UnknownType(t *testing.T) {
	_, err := NewMA("HULL", 9)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestMA_MatchesStandalone(t *testing.T) {
	// Each tag must produce the exact sequence of the standalone type.
	inputs := []float64{4, 5, 6, 6, 6, 6, 2, 9.75, -1, 0.5}

	standalone := func(typ MAType) Indicator {
		switch typ {
		case Simple:
			s, _ := NewSMA(4)
			return s
		case Exponential:
			e, _ := NewEMA(4)
			return e
		case Relative:
			r, _ := NewRMA(4)
			return r
		default:
			l, _ := NewLWMA(4)
			return l
		}
	}

	for _, typ := range []MAType{Simple, Exponential, Relative, Linear} {
		ma, err := NewMA(typ, 4)
		require.NoError(t, err)
		ref := standalone(typ)

		for i, v := range inputs {
			assert.Equal(t, ref.Next(v), ma.Next(v), "%s input %d", typ, i)
		}
		assert.Equal(t, ref.Period(), ma.Period(), "%s Period", typ)
		assert.Equal(t, typ, ma.Type())
	}
}

func TestMA_LabelHidesAlgorithm(t *testing.T) {
	// Strategy code treats the algorithm as config; the label only names
	// the family and period.
	for _, typ := range []MAType{Simple, Exponential, Relative, Linear} {
		ma, err := NewMA(typ, 9)
		require.NoError(t, err)
		assert.Equal(t, "MA(9)", ma.String())
	}
}

func TestDefaultMA(t *testing.T) {
	ma := DefaultMA()
	assert.Equal(t, Simple, ma.Type())
	assert.Equal(t, DefaultPeriod, ma.Period())

	ref, _ := NewSMA(9)
	for _, v := range []float64{1, 2, 3, 4} {
		assert.Equal(t, ref.Next(v), ma.Next(v))
	}
}

func TestMA_ResetAndReadyForward(t *testing.T) {
	ma, err := NewMA(Linear, 3)
	require.NoError(t, err)

	assert.False(t, ma.Ready())
	for _, v := range []float64{1, 2, 3} {
		ma.Next(v)
	}
	assert.True(t, ma.Ready())

	ma.Reset()
	assert.False(t, ma.Ready())
	assert.Zero(t, ma.Value())

	ref, _ := NewLWMA(3)
	for _, v := range []float64{5, 6, 7} {
		assert.Equal(t, ref.Next(v), ma.Next(v))
	}
}

func TestMA_PeekDoesNotDrift(t *testing.T) {
	ma, err := NewMA(Exponential, 5)
	require.NoError(t, err)
	for _, v := range []float64{10, 11, 9} {
		ma.Next(v)
	}
	peeked := ma.Peek(15)
	assert.Equal(t, peeked, ma.Next(15))
}

func TestMA_SnapshotRecordsKind(t *testing.T) {
	ma, err := NewMA(Relative, 6)
	require.NoError(t, err)
	for _, v := range []float64{3, 4, 5} {
		ma.Next(v)
	}

	snap := ma.Snapshot()
	assert.Equal(t, "MA", snap.Type)
	assert.Equal(t, "RMA", snap.Kind)

	// Restore onto the same kind continues the sequence.
	restored, err := NewMA(Relative, 6)
	require.NoError(t, err)
	require.NoError(t, restored.RestoreFromSnapshot(snap))
	assert.Equal(t, ma.Next(7), restored.Next(7))

	// Restore onto a different kind is refused.
	other, err := NewMA(Simple, 6)
	require.NoError(t, err)
	assert.Error(t, other.RestoreFromSnapshot(snap))
}
