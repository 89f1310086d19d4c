package model

import "time"

// Order is a broker or paper order. Prices are paise.
type Order struct {
	OrderID         string    `json:"order_id"`
	Token           string    `json:"token"`
	Exchange        string    `json:"exchange"`
	TradingSymbol   string    `json:"trading_symbol"`
	TransactionType string    `json:"transaction_type"` // BUY, SELL
	OrderType       string    `json:"order_type"`       // MARKET, LIMIT
	ProductType     string    `json:"product_type"`     // INTRADAY, DELIVERY
	Qty             int64     `json:"qty"`
	Price           int64     `json:"price"`  // limit price, 0 for market
	Status          string    `json:"status"` // PLACED, COMPLETE, REJECTED
	FilledQty       int64     `json:"filled_qty"`
	AvgPrice        int64     `json:"avg_price"` // fill average, paise
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
