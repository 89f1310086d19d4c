// Package execution turns strategy signals into order fills.
//
// The only executor shipped here is the paper one: fills are simulated
// with configurable slippage and journaled to SQLite. A live broker
// executor would implement the same interface.
package execution

import (
	"context"

	"ta-enginev1/internal/strategy"
)

// OrderResult is the outcome of an order placement.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // FILLED, REJECTED, ERROR
	Message string `json:"message"`
	Signal  strategy.Signal
}

// Executor consumes strategy signals and places orders.
type Executor interface {
	// Run blocks until ctx is cancelled or signalCh is closed.
	Run(ctx context.Context, signalCh <-chan strategy.Signal)

	// Results returns the channel of order outcomes.
	Results() <-chan OrderResult
}
