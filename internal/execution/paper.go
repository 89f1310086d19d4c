package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/strategy"
)

// Fill is a simulated order fill.
type Fill struct {
	OrderID   string          `json:"order_id"`
	Signal    strategy.Signal `json:"signal"`
	FillPrice int64           `json:"fill_price"` // paise
	FillQty   int64           `json:"fill_qty"`
	FilledAt  time.Time       `json:"filled_at"`
	Slippage  int64           `json:"slippage"` // paise
}

// PaperExecutor simulates execution without broker calls. Market orders
// fill at the last marked price for the instrument, adjusted by slippage;
// limit orders fill at their limit, adjusted the same way.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []Fill
	orders   []model.Order
	marks    map[string]int64 // "exchange:token" -> last price in paise
	resultCh chan OrderResult
	orderSeq int64

	slippageBps int64
	journal     *Journal // optional
}

// NewPaperExecutor creates a paper trading executor. slippageBps is the
// simulated slippage in basis points (5 = 0.05%). journal may be nil.
func NewPaperExecutor(resultBufferSize int, slippageBps int64, journal *Journal) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 1000),
		marks:       make(map[string]int64),
		resultCh:    make(chan OrderResult, resultBufferSize),
		slippageBps: slippageBps,
		journal:     journal,
	}
}

// Results returns the channel of order results.
func (p *PaperExecutor) Results() <-chan OrderResult {
	return p.resultCh
}

// Mark records the current price for an instrument so market orders have a
// fill reference. Call it from the candle path.
func (p *PaperExecutor) Mark(exchange, token string, price int64) {
	p.mu.Lock()
	p.marks[exchange+":"+token] = price
	p.mu.Unlock()
}

// Fills returns a snapshot of all fills so far.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Orders returns the simulated order book, every order placed with its
// terminal status.
func (p *PaperExecutor) Orders() []model.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Order, len(p.orders))
	copy(cp, p.orders)
	return cp
}

// Run consumes strategy signals and simulates execution. Blocks until ctx
// is cancelled or signalCh is closed.
func (p *PaperExecutor) Run(ctx context.Context, signalCh <-chan strategy.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			p.Execute(sig)
		}
	}
}

// Execute fills a single signal synchronously.
func (p *PaperExecutor) Execute(sig strategy.Signal) {
	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	now := time.Now()
	order := model.Order{
		OrderID:         orderID,
		Token:           sig.Token,
		Exchange:        sig.Exchange,
		TransactionType: string(sig.Action),
		OrderType:       "LIMIT",
		ProductType:     "INTRADAY",
		Qty:             sig.Qty,
		Price:           sig.Price,
		Status:          "PLACED",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sig.Price == 0 {
		order.OrderType = "MARKET"
	}

	fillPrice := sig.Price
	if fillPrice == 0 {
		fillPrice = p.marks[sig.Exchange+":"+sig.Token]
	}

	if fillPrice == 0 {
		order.Status = "REJECTED"
		p.orders = append(p.orders, order)
		p.mu.Unlock()
		log.Printf("[paper] %s %s:%s rejected, no mark price", sig.Action, sig.Exchange, sig.Token)
		select {
		case p.resultCh <- OrderResult{
			OrderID: orderID,
			Status:  "REJECTED",
			Message: "no mark price for instrument",
			Signal:  sig,
		}:
		default:
		}
		return
	}

	var slippage int64
	if p.slippageBps > 0 {
		slippage = fillPrice * p.slippageBps / 10000
		if sig.Action == strategy.ActionBuy {
			fillPrice += slippage
		} else {
			fillPrice -= slippage
		}
	}

	fill := Fill{
		OrderID:   orderID,
		Signal:    sig,
		FillPrice: fillPrice,
		FillQty:   sig.Qty,
		FilledAt:  time.Now(),
		Slippage:  slippage,
	}
	p.fills = append(p.fills, fill)
	order.Status = "COMPLETE"
	order.FilledQty = sig.Qty
	order.AvgPrice = fillPrice
	order.UpdatedAt = fill.FilledAt
	p.orders = append(p.orders, order)
	p.mu.Unlock()

	if p.journal != nil {
		if err := p.journal.RecordFill(fill); err != nil {
			log.Printf("[paper] WARNING: journal write failed: %v", err)
		}
	}

	log.Printf("[paper] %s %s %s:%s qty=%d price=%d (slip=%d) order=%s reason=%s",
		sig.Action, sig.StrategyName, sig.Exchange, sig.Token,
		sig.Qty, fillPrice, slippage, orderID, sig.Reason)

	select {
	case p.resultCh <- OrderResult{
		OrderID: orderID,
		Status:  "FILLED",
		Message: fmt.Sprintf("paper filled at %d", fillPrice),
		Signal:  sig,
	}:
	default:
	}
}
