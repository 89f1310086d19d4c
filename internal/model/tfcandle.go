package model

import (
	"encoding/json"
	"time"
)

// TFCandle is a resampled OHLCV bar for a configurable timeframe. TF is
// the bucket length in seconds (60 = 1 minute). A Forming candle is a
// preview of a bucket that has not closed yet; only the final emission
// (Forming=false) may advance indicator state.
type TFCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"` // bucket start, UTC, TF-aligned
	Open     int64     `json:"open"`
	High     int64     `json:"high"`
	Low      int64     `json:"low"`
	Close    int64     `json:"close"`
	Volume   int64     `json:"volume"`
	Count    int       `json:"count"` // 1s candles merged into this bucket
	Forming  bool      `json:"forming"`
}

// Key identifies the instrument: "exchange:token".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Token
}

// ClosePrice returns the closing price in rupees.
func (c *TFCandle) ClosePrice() float64 {
	return float64(c.Close) / 100.0
}

// StreamKey names the Redis stream this candle is published on:
// "candle:{TF}s:{exchange}:{token}".
func (c *TFCandle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token
}

// JSON encodes the TF candle, swallowing the error for hot-path callers.
func (c *TFCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
