package indicator

import (
	"context"
	"log"
	"strings"

	"ta-enginev1/internal/model"
)

// MASpec declares one indicator instance: an algorithm tag from the MA
// family ("SMA", "EMA", "RMA", "LWMA") or "RSI", plus its period.
type MASpec struct {
	Type   string `json:"type"`
	Period int    `json:"period"`
}

// TFSpec groups the specs computed on one timeframe.
type TFSpec struct {
	TF    int      `json:"tf"` // seconds
	Specs []MASpec `json:"specs"`
}

// instanceSet holds the live instances for one token on one TF, parallel
// to the specs that built them.
type instanceSet struct {
	inds  []streamIndicator
	specs []MASpec
	names []string // display labels, cached
}

// Engine fans TF candles into per-token indicator instances and collects
// the computed points. Instances are built lazily on a token's first
// candle. Single-goroutine by design: the consumer loop owns it.
type Engine struct {
	specs   []TFSpec
	tfIndex map[int]int // TF seconds -> index into specs/state
	state   []map[string]*instanceSet
}

// NewEngine creates an engine for the given per-TF specs. Invalid specs
// are dropped when a set is first built; validate specs at config-parse
// time to fail earlier.
func NewEngine(specs []TFSpec) *Engine {
	e := &Engine{
		specs:   specs,
		tfIndex: make(map[int]int, len(specs)),
		state:   make([]map[string]*instanceSet, len(specs)),
	}
	for i, s := range specs {
		e.tfIndex[s.TF] = i
		e.state[i] = make(map[string]*instanceSet, 64)
	}
	return e
}

// newInstance is the dispatch table from spec tag to concrete type. The
// opaque "MA" tag is rejected: engine streams are named by their display
// label, which must identify the algorithm.
func newInstance(typ string, period int) (streamIndicator, error) {
	var (
		ind streamIndicator
		err error
	)
	switch MAType(strings.ToUpper(typ)) {
	case Simple:
		ind, err = NewSMA(period)
	case Exponential:
		ind, err = NewEMA(period)
	case Relative:
		ind, err = NewRMA(period)
	case Linear:
		ind, err = NewLWMA(period)
	case "RSI":
		ind, err = NewRSI(period)
	default:
		return nil, ErrInvalidParameter
	}
	if err != nil {
		return nil, err
	}
	return ind, nil
}

// buildSet constructs fresh instances from the TF's specs.
func (e *Engine) buildSet(tfIdx int) *instanceSet {
	specs := e.specs[tfIdx].Specs
	set := &instanceSet{
		inds:  make([]streamIndicator, 0, len(specs)),
		specs: make([]MASpec, 0, len(specs)),
		names: make([]string, 0, len(specs)),
	}
	for _, sp := range specs {
		ind, err := newInstance(sp.Type, sp.Period)
		if err != nil {
			log.Printf("[indicator] dropping invalid spec %s:%d: %v", sp.Type, sp.Period, err)
			continue
		}
		set.inds = append(set.inds, ind)
		set.specs = append(set.specs, sp)
		set.names = append(set.names, ind.String())
	}
	return set
}

// Process advances indicators with a final TF candle and returns the
// computed points. Forming candles must go through ProcessPeek instead.
func (e *Engine) Process(c model.TFCandle) []model.IndicatorPoint {
	tfIdx, ok := e.tfIndex[c.TF]
	if !ok {
		return nil
	}

	key := c.Key()
	set := e.state[tfIdx][key]
	if set == nil {
		set = e.buildSet(tfIdx)
		e.state[tfIdx][key] = set
	}

	points := make([]model.IndicatorPoint, 0, len(set.inds))
	for i, ind := range set.inds {
		v := NextClose(ind, &c)
		points = append(points, model.IndicatorPoint{
			Name:     set.names[i],
			Token:    c.Token,
			Exchange: c.Exchange,
			TF:       c.TF,
			Value:    v,
			TS:       c.TS,
			Ready:    ind.Ready(),
		})
	}
	return points
}

// ProcessPeek computes preview points for a forming candle via Peek,
// leaving indicator state untouched. Tokens that have not produced a
// final candle yet are skipped; Process seeds them first.
func (e *Engine) ProcessPeek(c model.TFCandle) []model.IndicatorPoint {
	tfIdx, ok := e.tfIndex[c.TF]
	if !ok {
		return nil
	}
	set := e.state[tfIdx][c.Key()]
	if set == nil {
		return nil
	}

	points := make([]model.IndicatorPoint, 0, len(set.inds))
	for i, ind := range set.inds {
		points = append(points, model.IndicatorPoint{
			Name:     set.names[i],
			Token:    c.Token,
			Exchange: c.Exchange,
			TF:       c.TF,
			Value:    ind.Peek(c.ClosePrice()),
			TS:       c.TS,
			Ready:    ind.Ready(),
			Live:     true,
		})
	}
	return points
}

// Run consumes TF candles and emits computed points until ctx is done or
// the channel closes. Forming candles are ignored; the peek loop handles
// those out of band.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.TFCandle, pointCh chan<- model.IndicatorPoint) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if c.Forming {
				continue
			}
			for _, p := range e.Process(c) {
				select {
				case pointCh <- p:
				default:
					// consumer behind, drop rather than stall the stream
				}
			}
		}
	}
}

// TFs returns the configured timeframes in spec order.
func (e *Engine) TFs() []int {
	tfs := make([]int, len(e.specs))
	for i, s := range e.specs {
		tfs[i] = s.TF
	}
	return tfs
}
