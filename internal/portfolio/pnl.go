package portfolio

import (
	"sync"
	"time"
)

// Trade is a completed trade for P&L accounting.
type Trade struct {
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	Action    string    `json:"action"` // BUY or SELL
	Qty       int64     `json:"qty"`
	Price     int64     `json:"price"` // paise
	Timestamp time.Time `json:"timestamp"`
}

// PnLTracker tracks realized and unrealized P&L using per-instrument
// weighted-average cost basis.
type PnLTracker struct {
	mu          sync.RWMutex
	trades      []Trade
	realizedPnL int64
	costBasis   map[string]costEntry // key = "exchange:token"
}

type costEntry struct {
	Qty      int64
	AvgPrice int64 // paise
}

// NewPnLTracker creates a P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]Trade, 0, 500),
		costBasis: make(map[string]costEntry),
	}
}

// RecordTrade records a trade, updates the cost basis and returns the
// realized P&L (paise) this trade produced, if any.
func (p *PnLTracker) RecordTrade(trade Trade) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, trade)
	key := trade.Exchange + ":" + trade.Token
	entry := p.costBasis[key]

	var realized int64

	if trade.Action == "BUY" {
		if entry.Qty == 0 {
			entry.Qty = trade.Qty
			entry.AvgPrice = trade.Price
		} else {
			totalCost := entry.AvgPrice*entry.Qty + trade.Price*trade.Qty
			entry.Qty += trade.Qty
			if entry.Qty > 0 {
				entry.AvgPrice = totalCost / entry.Qty
			}
		}
	} else {
		// Sells realize P&L against the average entry; selling more than
		// held realizes only the held quantity.
		sellQty := trade.Qty
		if sellQty > entry.Qty {
			sellQty = entry.Qty
		}
		realized = (trade.Price - entry.AvgPrice) * sellQty
		entry.Qty -= sellQty
		if entry.Qty <= 0 {
			entry.Qty = 0
			entry.AvgPrice = 0
		}
		p.realizedPnL += realized
	}

	p.costBasis[key] = entry
	return realized
}

// RealizedPnL returns total realized P&L in paise.
func (p *PnLTracker) RealizedPnL() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// UnrealizedPnL computes unrealized P&L from current prices, keyed
// "exchange:token" in paise.
func (p *PnLTracker) UnrealizedPnL(currentPrices map[string]int64) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var unrealized int64
	for key, entry := range p.costBasis {
		if entry.Qty <= 0 {
			continue
		}
		if price, ok := currentPrices[key]; ok {
			unrealized += (price - entry.AvgPrice) * entry.Qty
		}
	}
	return unrealized
}

// Trades returns a snapshot of all recorded trades.
func (p *PnLTracker) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary aggregates realized and unrealized results.
type PnLSummary struct {
	RealizedPnL   int64 `json:"realized_pnl"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`
	TotalPnL      int64 `json:"total_pnl"`
	TotalTrades   int   `json:"total_trades"`
	OpenPositions int   `json:"open_positions"`
}

// Summary returns the current P&L summary at the given prices.
func (p *PnLTracker) Summary(currentPrices map[string]int64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var unrealized int64
	openPositions := 0
	for key, entry := range p.costBasis {
		if entry.Qty <= 0 {
			continue
		}
		openPositions++
		if price, ok := currentPrices[key]; ok {
			unrealized += (price - entry.AvgPrice) * entry.Qty
		}
	}

	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		TotalTrades:   len(p.trades),
		OpenPositions: openPositions,
	}
}
