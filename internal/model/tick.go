package model

import "time"

// Tick is one market observation from the feed. Prices travel the whole
// pipeline as int64 paise (1 rupee = 100 paise); conversion to float64
// happens only at the indicator boundary via ClosePrice.
type Tick struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"`   // last traded price, paise
	Qty      int64     `json:"qty"`     // last traded quantity
	TickTS   time.Time `json:"tick_ts"` // exchange timestamp, UTC
}
