// Package indicator implements streaming technical-analysis indicators:
// one value in, one value out, O(1) work and fixed state per instance.
//
// Every type follows the same contract. Next consumes a single observation
// and returns the updated output, which is defined from the very first
// input; there is no warm-up gap where the output would be missing.
// Instances are not safe for concurrent use; the engine owns one instance
// per token/TF pair and drives it from a single goroutine.
package indicator

import "fmt"

// Indicator is the streaming indicator contract.
type Indicator interface {
	// Next consumes one input value and returns the updated output.
	Next(v float64) float64

	// Period returns the configured lookback length.
	Period() int

	// Reset restores the freshly-constructed state.
	Reset()

	// String returns the display label, e.g. "LWMA(4)".
	fmt.Stringer
}

// ClosePricer is implemented by bar-like inputs that carry a closing
// price. model.Candle and model.TFCandle satisfy it, converting paise to
// rupees at this boundary.
type ClosePricer interface {
	ClosePrice() float64
}

// NextClose advances ind with the closing price of bar. It is exactly
// equivalent to ind.Next(bar.ClosePrice()).
func NextClose[T ClosePricer](ind Indicator, bar T) float64 {
	return ind.Next(bar.ClosePrice())
}

// streamIndicator is the full per-instance surface the engine and the MA
// selector rely on: the public contract plus readiness, the last output,
// non-mutating previews and state checkpoints. Every concrete type in
// this package implements it.
type streamIndicator interface {
	Indicator
	Ready() bool
	Value() float64
	Peek(v float64) float64
	Snapshottable
}
