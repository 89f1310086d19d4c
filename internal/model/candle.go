package model

import (
	"encoding/json"
	"time"
)

// Candle is a 1-second OHLCV bar for one instrument. Prices are int64
// paise end to end; the float conversion is confined to ClosePrice.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"` // bucket start, UTC, second-aligned
	Open       int64     `json:"open"`
	High       int64     `json:"high"`
	Low        int64     `json:"low"`
	Close      int64     `json:"close"`
	Volume     int64     `json:"volume"`
	TicksCount int       `json:"ticks_count"`
}

// Key identifies the instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// ClosePrice returns the closing price in rupees. This is the capability
// indicator.NextClose consumes, and the single paise→float64 boundary.
func (c *Candle) ClosePrice() float64 {
	return float64(c.Close) / 100.0
}

// JSON encodes the candle, swallowing the error for hot-path callers.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
