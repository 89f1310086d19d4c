package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

func closeCandle(paise int64) model.Candle {
	return model.Candle{
		Token:    "99926000",
		Exchange: "NSE",
		TS:       time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC),
		Open:     paise,
		High:     paise,
		Low:      paise,
		Close:    paise,
		Volume:   100,
	}
}

// feed runs a paise price series through the strategy and returns every
// signal emitted, in order.
func feed(s *MACrossover, prices []int64) []*Signal {
	var signals []*Signal
	for _, p := range prices {
		c := closeCandle(p)
		if sig := s.OnCandle(c); sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals
}

func TestMACrossover_GoldenCross(t *testing.T) {
	s, err := NewMACrossover(MACrossoverOpts{
		MAType:     indicator.Simple,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        10,
	})
	require.NoError(t, err)

	// Downtrend to warm up with fast below slow, then a sharp reversal.
	prices := []int64{11000, 10800, 10600, 10400, 10200, 11500, 12000}
	signals := feed(s, prices)

	require.Len(t, signals, 1)
	assert.Equal(t, ActionBuy, signals[0].Action)
	assert.Equal(t, int64(10), signals[0].Qty)
	assert.Equal(t, "NSE", signals[0].Exchange)
	assert.Equal(t, "99926000", signals[0].Token)
	assert.Zero(t, signals[0].Price, "crossover orders are market orders")
}

func TestMACrossover_DeathCross(t *testing.T) {
	s, err := NewMACrossover(MACrossoverOpts{
		MAType:     indicator.Simple,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        5,
	})
	require.NoError(t, err)

	prices := []int64{10000, 10200, 10400, 10600, 10800, 9500, 9000}
	signals := feed(s, prices)

	require.Len(t, signals, 1)
	assert.Equal(t, ActionSell, signals[0].Action)
}

func TestMACrossover_NoSignalWithoutCross(t *testing.T) {
	s, err := NewMACrossover(MACrossoverOpts{
		MAType:     indicator.Simple,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        1,
	})
	require.NoError(t, err)

	// Steady uptrend: fast stays above slow once both are ready.
	prices := []int64{10000, 10100, 10200, 10300, 10400, 10500, 10600}
	signals := feed(s, prices)
	assert.Empty(t, signals)
}

// The same price series must produce the same crosses regardless of which
// MA algorithm backs the strategy, as long as fast reacts quicker than slow.
func TestMACrossover_AllMATypes(t *testing.T) {
	prices := []int64{11000, 10800, 10600, 10400, 10200, 10000, 12500, 13000, 13500}

	for _, typ := range []indicator.MAType{indicator.Simple, indicator.Exponential, indicator.Relative, indicator.Linear} {
		t.Run(string(typ), func(t *testing.T) {
			s, err := NewMACrossover(MACrossoverOpts{
				MAType:     typ,
				FastPeriod: 2,
				SlowPeriod: 4,
				Qty:        1,
			})
			require.NoError(t, err)

			signals := feed(s, prices)
			require.NotEmpty(t, signals, "expected a golden cross")
			assert.Equal(t, ActionBuy, signals[0].Action)
		})
	}
}

func TestMACrossover_RSIFilterBlocksOverboughtBuy(t *testing.T) {
	// RSI period 2 on a relentless rally saturates to 100, which must
	// suppress the golden cross buy.
	s, err := NewMACrossover(MACrossoverOpts{
		MAType:     indicator.Simple,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        1,
		RSIPeriod:  2,
	})
	require.NoError(t, err)

	prices := []int64{11000, 10800, 10600, 10400, 11500, 12000, 12500}
	signals := feed(s, prices)
	assert.Empty(t, signals, "overbought RSI should gate the buy")
}

func TestMACrossover_InvalidPeriods(t *testing.T) {
	_, err := NewMACrossover(MACrossoverOpts{
		MAType:     indicator.Simple,
		FastPeriod: 10,
		SlowPeriod: 5,
		Qty:        1,
	})
	assert.ErrorIs(t, err, indicator.ErrInvalidParameter)

	_, err = NewMACrossover(MACrossoverOpts{
		MAType:     "WMA",
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        1,
	})
	assert.ErrorIs(t, err, indicator.ErrInvalidParameter)
}

func TestMACrossover_Reset(t *testing.T) {
	opts := MACrossoverOpts{
		MAType:     indicator.Linear,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        1,
	}
	a, err := NewMACrossover(opts)
	require.NoError(t, err)
	b, err := NewMACrossover(opts)
	require.NoError(t, err)

	prices := []int64{11000, 10800, 10600, 10400, 10200, 11500, 12000}

	feed(a, prices)
	a.Reset()

	gotA := feed(a, prices)
	gotB := feed(b, prices)
	require.Equal(t, len(gotB), len(gotA))
	for i := range gotA {
		assert.Equal(t, gotB[i].Action, gotA[i].Action)
	}
}

func TestEngine_RoutesSignals(t *testing.T) {
	eng := NewEngine(16)
	s, err := NewMACrossover(MACrossoverOpts{
		Name:       "test_cross",
		MAType:     indicator.Simple,
		FastPeriod: 2,
		SlowPeriod: 4,
		Qty:        10,
	})
	require.NoError(t, err)
	eng.Register(s)

	for _, p := range []int64{11000, 10800, 10600, 10400, 10200, 11500, 12000} {
		eng.Process(closeCandle(p))
	}

	select {
	case sig := <-eng.Signals():
		assert.Equal(t, "test_cross", sig.StrategyName)
		assert.Equal(t, ActionBuy, sig.Action)
	default:
		t.Fatal("expected a signal on the channel")
	}
}
