package model

import (
	"encoding/json"
	"time"
)

// IndicatorPoint is one computed indicator value for a token on a TF.
// Name is the indicator's display label ("SMA(9)", "RSI(14)"), which also
// names its output stream. Live marks preview values computed from a
// forming candle; they never advance indicator state and may be revised
// until the bucket closes.
type IndicatorPoint struct {
	Name     string    `json:"name"`
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"` // timestamp of the candle that produced it
	Ready    bool      `json:"ready"`
	Live     bool      `json:"live"`
}

// StreamKey names the Redis stream points are published on:
// "ind:{name}:{TF}s:{exchange}:{token}".
func (p *IndicatorPoint) StreamKey() string {
	return "ind:" + p.Name + ":" + Itoa(p.TF) + "s:" + p.Exchange + ":" + p.Token
}

// PubSubChannel names the Redis Pub/Sub channel for live subscribers:
// "pub:" + StreamKey.
func (p *IndicatorPoint) PubSubChannel() string {
	return "pub:ind:" + p.Name + ":" + Itoa(p.TF) + "s:" + p.Exchange + ":" + p.Token
}

// JSON encodes the point, swallowing the error for hot-path callers.
func (p *IndicatorPoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
