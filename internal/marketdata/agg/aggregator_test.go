package agg

import (
	"context"
	"testing"
	"time"

	"ta-enginev1/internal/model"
)

func runAgg(t *testing.T, agg *Aggregator) (chan model.Tick, chan model.Candle, func() []model.Candle) {
	t.Helper()
	tickCh := make(chan model.Tick, 100)
	candleCh := make(chan model.Candle, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	stop := func() []model.Candle {
		time.Sleep(200 * time.Millisecond)
		cancel()
		<-done
		var out []model.Candle
		for {
			select {
			case c := <-candleCh:
				out = append(out, c)
			default:
				return out
			}
		}
	}
	return tickCh, candleCh, stop
}

func TestAggregator_BasicCandle(t *testing.T) {
	agg := New()
	tickCh, _, stop := runAgg(t, agg)

	now := time.Now().UTC().Truncate(time.Second)

	// three ticks in one second, then one in the next to force the flush
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50000, Qty: 10, TickTS: now}
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50500, Qty: 20, TickTS: now.Add(200 * time.Millisecond)}
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 49800, Qty: 5, TickTS: now.Add(500 * time.Millisecond)}
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50100, Qty: 15, TickTS: now.Add(time.Second)}

	candles := stop()
	if len(candles) < 1 {
		t.Fatalf("expected at least 1 candle, got %d", len(candles))
	}

	c := candles[0]
	if c.Open != 50000 {
		t.Errorf("expected open=50000, got %d", c.Open)
	}
	if c.High != 50500 {
		t.Errorf("expected high=50500, got %d", c.High)
	}
	if c.Low != 49800 {
		t.Errorf("expected low=49800, got %d", c.Low)
	}
	if c.Close != 49800 {
		t.Errorf("expected close=49800, got %d", c.Close)
	}
	if c.TicksCount != 3 {
		t.Errorf("expected ticks_count=3, got %d", c.TicksCount)
	}
	if c.Volume != 35 {
		t.Errorf("expected volume=35, got %d", c.Volume)
	}
}

func TestAggregator_MultipleTokens(t *testing.T) {
	agg := New()
	tickCh, _, stop := runAgg(t, agg)

	now := time.Now().UTC().Truncate(time.Second)

	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50000, Qty: 10, TickTS: now}
	tickCh <- model.Tick{Token: "2885", Exchange: "NSE", Price: 30000, Qty: 5, TickTS: now}

	// next second flushes both
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50100, Qty: 1, TickTS: now.Add(time.Second)}
	tickCh <- model.Tick{Token: "2885", Exchange: "NSE", Price: 30100, Qty: 1, TickTS: now.Add(time.Second)}

	candles := stop()
	if len(candles) < 2 {
		t.Errorf("expected at least 2 candles, got %d", len(candles))
	}
}

func TestAggregator_LateTick(t *testing.T) {
	agg := New()
	dropCh := make(chan struct{}, 10)
	agg.OnDroppedTick = func() {
		dropCh <- struct{}{}
	}
	tickCh, _, stop := runAgg(t, agg)

	now := time.Now().UTC().Truncate(time.Second)

	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 50000, Qty: 10, TickTS: now}
	// a tick a full second behind its open bucket must be discarded
	tickCh <- model.Tick{Token: "3045", Exchange: "NSE", Price: 49000, Qty: 5, TickTS: now.Add(-1 * time.Second)}

	stop()

	close(dropCh)
	dropped := 0
	for range dropCh {
		dropped++
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped tick, got %d", dropped)
	}
}
