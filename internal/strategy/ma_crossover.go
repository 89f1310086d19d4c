package strategy

import (
	"fmt"
	"log"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// MACrossover trades the crossover of a fast and a slow moving average.
// Both averages are indicator.MA instances, so the smoothing algorithm
// (simple, exponential, relative or linear-weighted) comes from config
// rather than code.
//
// Buy: fast crosses above slow (golden cross).
// Sell: fast crosses below slow (death cross).
//
// An optional RSI filter suppresses buys when overbought and sells when
// oversold.
type MACrossover struct {
	name string
	fast *indicator.MA
	slow *indicator.MA
	qty  int64

	prevFast float64
	prevSlow float64
	havePrev bool

	rsi        *indicator.RSI
	overbought float64
	oversold   float64
	lastRSI    float64
}

// MACrossoverOpts configures a crossover strategy instance.
type MACrossoverOpts struct {
	Name       string
	MAType     indicator.MAType
	FastPeriod int
	SlowPeriod int
	Qty        int64
	RSIPeriod  int     // 0 disables the filter
	Overbought float64 // default 70
	Oversold   float64 // default 30
}

// NewMACrossover builds a crossover strategy from opts. FastPeriod must be
// strictly less than SlowPeriod.
func NewMACrossover(opts MACrossoverOpts) (*MACrossover, error) {
	if opts.FastPeriod >= opts.SlowPeriod {
		return nil, fmt.Errorf("%w: fast period %d must be below slow period %d",
			indicator.ErrInvalidParameter, opts.FastPeriod, opts.SlowPeriod)
	}
	fast, err := indicator.NewMA(opts.MAType, opts.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicator.NewMA(opts.MAType, opts.SlowPeriod)
	if err != nil {
		return nil, err
	}

	s := &MACrossover{
		name:       opts.Name,
		fast:       fast,
		slow:       slow,
		qty:        opts.Qty,
		overbought: opts.Overbought,
		oversold:   opts.Oversold,
	}
	if s.name == "" {
		s.name = "ma_crossover"
	}
	if s.overbought == 0 {
		s.overbought = 70
	}
	if s.oversold == 0 {
		s.oversold = 30
	}
	if opts.RSIPeriod > 0 {
		rsi, err := indicator.NewRSI(opts.RSIPeriod)
		if err != nil {
			return nil, err
		}
		s.rsi = rsi
	}
	return s, nil
}

func (s *MACrossover) Name() string {
	return s.name
}

func (s *MACrossover) OnTick(tick model.Tick) {
	// Candle-driven only.
}

func (s *MACrossover) OnCandle(candle model.Candle) *Signal {
	if s.rsi != nil {
		s.lastRSI = indicator.NextClose(s.rsi, &candle)
	}

	fastVal := indicator.NextClose(s.fast, &candle)
	slowVal := indicator.NextClose(s.slow, &candle)

	if !s.fast.Ready() || !s.slow.Ready() {
		return nil
	}

	if !s.havePrev {
		s.prevFast, s.prevSlow = fastVal, slowVal
		s.havePrev = true
		return nil
	}

	var sig *Signal

	switch {
	case s.prevFast <= s.prevSlow && fastVal > slowVal:
		if s.rsi != nil && s.rsi.Ready() && s.lastRSI > s.overbought {
			log.Printf("[strategy] %s: golden cross filtered, RSI %.1f > %.0f", s.name, s.lastRSI, s.overbought)
			break
		}
		sig = &Signal{
			StrategyName: s.name,
			Action:       ActionBuy,
			Token:        candle.Token,
			Exchange:     candle.Exchange,
			Qty:          s.qty,
			Reason:       "MA golden cross (fast > slow)",
		}
	case s.prevFast >= s.prevSlow && fastVal < slowVal:
		if s.rsi != nil && s.rsi.Ready() && s.lastRSI < s.oversold {
			log.Printf("[strategy] %s: death cross filtered, RSI %.1f < %.0f", s.name, s.lastRSI, s.oversold)
			break
		}
		sig = &Signal{
			StrategyName: s.name,
			Action:       ActionSell,
			Token:        candle.Token,
			Exchange:     candle.Exchange,
			Qty:          s.qty,
			Reason:       "MA death cross (fast < slow)",
		}
	}

	s.prevFast, s.prevSlow = fastVal, slowVal
	return sig
}

// Reset clears all state so the strategy can be rerun from scratch.
func (s *MACrossover) Reset() {
	s.fast.Reset()
	s.slow.Reset()
	if s.rsi != nil {
		s.rsi.Reset()
	}
	s.prevFast, s.prevSlow = 0, 0
	s.havePrev = false
	s.lastRSI = 0
}
