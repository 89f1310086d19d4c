// Package closedetector captures the session closing price. After the
// 15:30 bell the exchange keeps publishing settlement ticks; once the
// price holds constant for StableFor, that price is the close and the
// feed can disconnect.
package closedetector

import (
	"log"
	"time"
)

// Detector watches post-close ticks for price stability.
type Detector struct {
	lastPrice   int64
	stableSince time.Time
	closeTime   time.Time

	// StableFor is how long the price must sit unchanged to count as the
	// closing price.
	StableFor time.Duration

	// MaxGrace is the hard disconnect deadline past closeTime, in case
	// the price never settles.
	MaxGrace time.Duration
}

// New creates a Detector for the given close time with the default 30s
// stability window and 5m grace.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose reports whether now is past the session close.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records one tick and reports whether the feed should
// disconnect: either the price stabilized or the grace deadline passed.
func (d *Detector) Observe(tickPrice int64, now time.Time) bool {
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		log.Printf("[closedetector] hard deadline %v reached, disconnecting", d.MaxGrace)
		return true
	}

	if !d.IsPostClose(now) {
		d.lastPrice = tickPrice
		return false
	}

	if tickPrice != d.lastPrice {
		d.lastPrice = tickPrice
		d.stableSince = now
		return false
	}

	if d.stableSince.IsZero() {
		d.stableSince = now
		return false
	}

	if now.Sub(d.stableSince) >= d.StableFor {
		log.Printf("[closedetector] price %d stable for %v after close, closing price captured",
			d.lastPrice, d.StableFor)
		return true
	}

	return false
}

// ClosingPrice returns the last observed price.
func (d *Detector) ClosingPrice() int64 {
	return d.lastPrice
}
