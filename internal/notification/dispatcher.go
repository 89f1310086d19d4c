package notification

import (
	"context"
	"fmt"
	"log"

	"ta-enginev1/internal/execution"
	"ta-enginev1/internal/strategy"
)

// SignalAlert formats a strategy signal as an alert.
func SignalAlert(sig strategy.Signal) Alert {
	return Alert{
		Level:   LevelInfo,
		Title:   fmt.Sprintf("%s %s", sig.StrategyName, sig.Action),
		Message: fmt.Sprintf("%s %s:%s qty=%d reason=%s", sig.Action, sig.Exchange, sig.Token, sig.Qty, sig.Reason),
	}
}

// FillAlert formats an order result as an alert. Rejections and errors
// escalate the severity.
func FillAlert(res execution.OrderResult) Alert {
	level := LevelInfo
	if res.Status != "FILLED" {
		level = LevelWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("Order %s %s", res.OrderID, res.Status),
		Message: fmt.Sprintf("%s %s:%s qty=%d %s", res.Signal.Action, res.Signal.Exchange, res.Signal.Token, res.Signal.Qty, res.Message),
	}
}

// Dispatcher drains an executor's result channel and forwards each fill
// or rejection to a notifier.
type Dispatcher struct {
	notifier Notifier
}

func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{notifier: n}
}

// WatchResults blocks until ctx is cancelled or the channel closes.
func (d *Dispatcher) WatchResults(ctx context.Context, results <-chan execution.OrderResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := d.notifier.Send(ctx, FillAlert(res)); err != nil {
				log.Printf("[notify] order alert failed: %v", err)
			}
		}
	}
}
