package execution

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/internal/strategy"
)

func TestPaperExecutor_MarketOrderFillsAtMark(t *testing.T) {
	p := NewPaperExecutor(16, 10, nil) // 10 bps slippage

	p.Mark("NSE", "99926000", 250000) // ₹2500.00

	p.Execute(strategy.Signal{
		StrategyName: "test",
		Action:       strategy.ActionBuy,
		Token:        "99926000",
		Exchange:     "NSE",
		Qty:          10,
	})

	fills := p.Fills()
	require.Len(t, fills, 1)

	// 10 bps of 250000 = 250 paise, added on a buy.
	assert.Equal(t, int64(250250), fills[0].FillPrice)
	assert.Equal(t, int64(250), fills[0].Slippage)
	assert.Equal(t, int64(10), fills[0].FillQty)

	res := <-p.Results()
	assert.Equal(t, "FILLED", res.Status)
}

func TestPaperExecutor_SellSlipsDown(t *testing.T) {
	p := NewPaperExecutor(16, 10, nil)
	p.Mark("NSE", "99926000", 250000)

	p.Execute(strategy.Signal{
		Action:   strategy.ActionSell,
		Token:    "99926000",
		Exchange: "NSE",
		Qty:      5,
	})

	fills := p.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, int64(249750), fills[0].FillPrice)
}

func TestPaperExecutor_LimitOrderUsesSignalPrice(t *testing.T) {
	p := NewPaperExecutor(16, 0, nil) // no slippage

	p.Execute(strategy.Signal{
		Action:   strategy.ActionBuy,
		Token:    "99926000",
		Exchange: "NSE",
		Qty:      1,
		Price:    123400,
	})

	fills := p.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, int64(123400), fills[0].FillPrice)
	assert.Zero(t, fills[0].Slippage)
}

func TestPaperExecutor_RejectsWithoutMark(t *testing.T) {
	p := NewPaperExecutor(16, 5, nil)

	p.Execute(strategy.Signal{
		Action:   strategy.ActionBuy,
		Token:    "11111111",
		Exchange: "NSE",
		Qty:      1,
	})

	assert.Empty(t, p.Fills())
	res := <-p.Results()
	assert.Equal(t, "REJECTED", res.Status)
}

func TestPaperExecutor_OrderBook(t *testing.T) {
	p := NewPaperExecutor(16, 0, nil)
	p.Mark("NSE", "99926000", 250000)

	p.Execute(strategy.Signal{
		Action:   strategy.ActionBuy,
		Token:    "99926000",
		Exchange: "NSE",
		Qty:      5,
	})
	p.Execute(strategy.Signal{
		Action:   strategy.ActionSell,
		Token:    "11111111",
		Exchange: "NSE",
		Qty:      1,
	})

	orders := p.Orders()
	require.Len(t, orders, 2)

	assert.Equal(t, "COMPLETE", orders[0].Status)
	assert.Equal(t, "MARKET", orders[0].OrderType)
	assert.Equal(t, int64(5), orders[0].FilledQty)
	assert.Equal(t, int64(250000), orders[0].AvgPrice)

	assert.Equal(t, "REJECTED", orders[1].Status)
	assert.Zero(t, orders[1].FilledQty)
}

func TestJournal_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewJournal(dbPath)
	require.NoError(t, err)
	defer j.Close()

	p := NewPaperExecutor(16, 0, j)
	p.Mark("NSE", "99926000", 100000)

	p.Execute(strategy.Signal{
		StrategyName: "lwma_cross",
		Action:       strategy.ActionBuy,
		Token:        "99926000",
		Exchange:     "NSE",
		Qty:          10,
		Reason:       "MA golden cross (fast > slow)",
	})
	p.Execute(strategy.Signal{
		StrategyName: "lwma_cross",
		Action:       strategy.ActionSell,
		Token:        "99926000",
		Exchange:     "NSE",
		Qty:          10,
	})

	trades, err := j.Trades(10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Newest first.
	assert.Equal(t, "SELL", trades[0].Action)
	assert.Equal(t, "BUY", trades[1].Action)
	assert.Equal(t, "lwma_cross", trades[1].Strategy)
	assert.Equal(t, int64(100000), trades[1].Price)
	assert.Equal(t, "MA golden cross (fast > slow)", trades[1].Reason)
}
