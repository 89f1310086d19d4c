package portfolio

import (
	"log"
	"sync"
)

// RiskLimits defines trade-gating thresholds.
type RiskLimits struct {
	MaxPositionSize  int64   `json:"max_position_size"`  // max qty per instrument
	MaxDailyLoss     int64   `json:"max_daily_loss"`     // paise
	MaxOpenPositions int     `json:"max_open_positions"` // concurrent positions
	MaxExposure      int64   `json:"max_exposure"`       // total notional, paise
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`   // 0-100
}

// DefaultRiskLimits returns conservative defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:  100,
		MaxDailyLoss:     500000, // ₹5,000
		MaxOpenPositions: 5,
		MaxExposure:      10000000, // ₹1,00,000
		MaxDrawdownPct:   5.0,
	}
}

// RiskManager validates trades against limits and tracks equity.
type RiskManager struct {
	mu        sync.RWMutex
	limits    RiskLimits
	portfolio *Portfolio

	dailyPnL   int64
	equity     int64
	peakEquity int64
}

// NewRiskManager creates a RiskManager over a portfolio with starting equity.
func NewRiskManager(limits RiskLimits, pf *Portfolio, initialEquity int64) *RiskManager {
	return &RiskManager{
		limits:     limits,
		portfolio:  pf,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// CanTrade reports whether a new trade passes every limit. When it does
// not, the second return names the violated limit.
func (rm *RiskManager) CanTrade(token, exchange string, qty int64) (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	positions := rm.portfolio.Positions()

	key := exchange + ":" + token
	isNew := true
	for _, pos := range positions {
		if pos.Exchange+":"+pos.Token == key {
			isNew = false
			break
		}
	}
	if isNew && len(positions) >= rm.limits.MaxOpenPositions {
		return false, "max open positions reached"
	}

	if qty > rm.limits.MaxPositionSize || qty < -rm.limits.MaxPositionSize {
		return false, "position size exceeds limit"
	}

	if rm.limits.MaxExposure > 0 && rm.portfolio.TotalExposure() > rm.limits.MaxExposure {
		return false, "max exposure exceeded"
	}

	if rm.dailyPnL < -rm.limits.MaxDailyLoss {
		return false, "max daily loss reached"
	}

	if rm.peakEquity > 0 {
		drawdown := float64(rm.peakEquity-rm.equity) / float64(rm.peakEquity) * 100
		if drawdown > rm.limits.MaxDrawdownPct {
			return false, "max drawdown exceeded"
		}
	}

	return true, ""
}

// RecordPnL folds realized P&L into daily and equity tracking.
func (rm *RiskManager) RecordPnL(pnl int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dailyPnL += pnl
	rm.equity += pnl
	if rm.equity > rm.peakEquity {
		rm.peakEquity = rm.equity
	}

	log.Printf("[risk] daily P&L: %d, equity: %d, peak: %d", rm.dailyPnL, rm.equity, rm.peakEquity)
}

// ResetDaily clears the daily P&L counter. Call at market open.
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = 0
}

// Status returns the current risk state for diagnostics endpoints.
func (rm *RiskManager) Status() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	drawdown := 0.0
	if rm.peakEquity > 0 {
		drawdown = float64(rm.peakEquity-rm.equity) / float64(rm.peakEquity) * 100
	}

	return map[string]interface{}{
		"daily_pnl":    rm.dailyPnL,
		"equity":       rm.equity,
		"peak_equity":  rm.peakEquity,
		"drawdown_pct": drawdown,
		"limits":       rm.limits,
	}
}
