package model

// Position is one tracked position. Qty is signed: positive long,
// negative short. Prices are paise.
type Position struct {
	Token         string `json:"token"`
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol"`
	ProductType   string `json:"product_type"`
	Qty           int64  `json:"qty"`
	AvgPrice      int64  `json:"avg_price"`
	LastPrice     int64  `json:"last_price"`
	RealizedPnL   int64  `json:"realized_pnl"`
}

// UnrealizedPnL is the mark-to-market profit in paise.
func (p *Position) UnrealizedPnL() int64 {
	return (p.LastPrice - p.AvgPrice) * p.Qty
}

// Key identifies the position: "exchange:token".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Token
}
