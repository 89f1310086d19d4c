package tfbuilder

import (
	"testing"
	"time"

	"ta-enginev1/internal/model"
)

func TestBuilder_StaleCandle_Rejected(t *testing.T) {
	b := New([]int{60}) // default 2s tolerance
	outCh := make(chan model.TFCandle, 5000)

	now := time.Now().UTC()
	bucket := now.Unix() - (now.Unix() % 60)

	staleCount := 0
	b.OnStaleCandle = func() { staleCount++ }

	// establish state, then advance to the next bucket
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+5, 0).UTC(),
		Open: 100, High: 110, Low: 90, Close: 105, Volume: 1,
	}, outCh)
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+65, 0).UTC(),
		Open: 200, High: 210, Low: 190, Close: 205, Volume: 1,
	}, outCh)
	for len(outCh) > 0 {
		<-outCh
	}

	// a candle from the previous bucket lags the forming bucket by 60s,
	// well past the 2s tolerance
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+10, 0).UTC(),
		Open: 50, High: 60, Low: 40, Close: 55, Volume: 1,
	}, outCh)

	if staleCount != 1 {
		t.Errorf("expected 1 stale rejection, got %d", staleCount)
	}
	for len(outCh) > 0 {
		c := <-outCh
		if c.Open == 50 {
			t.Fatalf("stale candle should not have been processed: %+v", c)
		}
	}
}

func TestBuilder_StaleCandle_WithinTolerance_Accepted(t *testing.T) {
	b := New([]int{60})
	outCh := make(chan model.TFCandle, 100)

	now := time.Now().UTC()
	bucket := now.Unix() - (now.Unix() % 60)

	staleCount := 0
	b.OnStaleCandle = func() { staleCount++ }

	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+1, 0).UTC(),
		Open: 100, High: 110, Low: 90, Close: 105, Volume: 1,
	}, outCh)

	if staleCount != 0 {
		t.Errorf("expected 0 stale callbacks, got %d", staleCount)
	}
	if len(outCh) == 0 {
		t.Error("expected forming candle output")
	}
}

func TestBuilder_StaleTolerance_Disabled(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 0
	outCh := make(chan model.TFCandle, 5000)

	staleCount := 0
	b.OnStaleCandle = func() { staleCount++ }

	now := time.Now().UTC()
	bucket := now.Unix() - (now.Unix() % 60)
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+65, 0).UTC(),
		Open: 200, High: 210, Low: 190, Close: 205, Volume: 1,
	}, outCh)
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+125, 0).UTC(),
		Open: 300, High: 310, Low: 290, Close: 305, Volume: 1,
	}, outCh)

	// way behind, but the check is off
	b.process(model.Candle{
		Token: "NIFTY", Exchange: "NSE",
		TS:   time.Unix(bucket+1, 0).UTC(),
		Open: 50, High: 60, Low: 40, Close: 55, Volume: 1,
	}, outCh)

	if staleCount != 0 {
		t.Errorf("expected 0 stale callbacks with tolerance disabled, got %d", staleCount)
	}
}
