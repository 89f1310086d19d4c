// Package portfolio tracks positions, P&L and risk limits.
//
// It maintains a real-time view of open positions, computes unrealized
// P&L from the latest prices, and gates new trades through the risk
// manager. All money amounts are int64 paise.
package portfolio

import (
	"sync"

	"ta-enginev1/internal/model"
)

// Position is a single instrument position.
type Position struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	Qty      int64  `json:"qty"`       // positive = long, negative = short
	AvgPrice int64  `json:"avg_price"` // average entry price in paise
	LastLTP  int64  `json:"last_ltp"`  // last traded price in paise
}

// UnrealizedPnL returns the position's unrealized P&L in paise.
func (p *Position) UnrealizedPnL() int64 {
	return (p.LastLTP - p.AvgPrice) * p.Qty
}

// Exposure returns the absolute notional of the position in paise.
func (p *Position) Exposure() int64 {
	return abs64(p.LastLTP * p.Qty)
}

// Portfolio tracks all open positions.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*Position // key = "exchange:token"
}

// New creates an empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*Position),
	}
}

// Apply updates the position book with a fill. Buys increase the position
// at a new weighted average price; sells reduce it. A position closed to
// zero is removed from the book.
func (pf *Portfolio) Apply(exchange, token string, buy bool, qty, price int64) {
	key := exchange + ":" + token
	pf.mu.Lock()
	defer pf.mu.Unlock()

	pos, ok := pf.positions[key]
	if !ok {
		pos = &Position{Token: token, Exchange: exchange}
		pf.positions[key] = pos
	}
	pos.LastLTP = price

	signed := qty
	if !buy {
		signed = -qty
	}

	switch {
	case pos.Qty == 0 || (pos.Qty > 0) == (signed > 0):
		// Opening or adding: weighted average entry.
		totalCost := pos.AvgPrice*abs64(pos.Qty) + price*qty
		pos.Qty += signed
		if pos.Qty != 0 {
			pos.AvgPrice = totalCost / abs64(pos.Qty)
		}
	default:
		// Reducing or flipping.
		pos.Qty += signed
		if pos.Qty == 0 {
			delete(pf.positions, key)
			return
		}
		if (pos.Qty > 0) == (signed > 0) {
			// Flipped through zero: the remainder entered at this fill.
			pos.AvgPrice = price
		}
	}
}

// UpdatePrice marks a position to the candle's close.
func (pf *Portfolio) UpdatePrice(candle model.Candle) {
	key := candle.Exchange + ":" + candle.Token
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pos, ok := pf.positions[key]; ok {
		pos.LastLTP = candle.Close
	}
}

// Positions returns a snapshot of all open positions.
func (pf *Portfolio) Positions() []Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, *p)
	}
	return result
}

// Snapshot exports the book as model.Position records for reporting and
// persistence.
func (pf *Portfolio) Snapshot() []model.Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]model.Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, model.Position{
			Token:       p.Token,
			Exchange:    p.Exchange,
			ProductType: "INTRADAY",
			Qty:         p.Qty,
			AvgPrice:    p.AvgPrice,
			LastPrice:   p.LastLTP,
		})
	}
	return result
}

// TotalUnrealizedPnL sums unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() int64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total int64
	for _, p := range pf.positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// TotalExposure sums absolute notional across all positions.
func (pf *Portfolio) TotalExposure() int64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total int64
	for _, p := range pf.positions {
		total += p.Exposure()
	}
	return total
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
