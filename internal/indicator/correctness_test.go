package indicator

import (
	"errors"
	"math"
	"testing"

	"ta-enginev1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(closePaise int64) model.Candle {
	return model.Candle{
		Token: "TEST", Exchange: "NSE",
		Open: closePaise, High: closePaise + 50, Low: closePaise - 50, Close: closePaise,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// Construction
// ────────────────────────────────────────────────────────────

func TestConstructors_PeriodValidation(t *testing.T) {
	bad := []func() error{
		func() error { _, err := NewSMA(0); return err },
		func() error { _, err := NewEMA(0); return err },
		func() error { _, err := NewRMA(0); return err },
		func() error { _, err := NewLWMA(0); return err },
		func() error { _, err := NewRSI(0); return err },
		func() error { _, err := NewMA(Simple, 0); return err },
		func() error { _, err := NewMA(Exponential, -3); return err },
		func() error { _, err := NewMA(Relative, 0); return err },
		func() error { _, err := NewMA(Linear, 0); return err },
	}
	for i, mk := range bad {
		if err := mk(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("constructor %d: expected ErrInvalidParameter, got %v", i, err)
		}
	}

	good := []func() error{
		func() error { _, err := NewSMA(1); return err },
		func() error { _, err := NewEMA(1); return err },
		func() error { _, err := NewRMA(1); return err },
		func() error { _, err := NewLWMA(1); return err },
		func() error { _, err := NewRSI(1); return err },
		func() error { _, err := NewMA(Simple, 1); return err },
	}
	for i, mk := range good {
		if err := mk(); err != nil {
			t.Errorf("constructor %d: period=1 should succeed, got %v", i, err)
		}
	}
}

func TestDisplayLabels(t *testing.T) {
	sma, _ := NewSMA(5)
	ema, _ := NewEMA(7)
	rma, _ := NewRMA(7)
	lwma, _ := NewLWMA(5)
	rsi, _ := NewRSI(14)
	ma := DefaultMA()

	cases := map[string]string{
		sma.String():  "SMA(5)",
		ema.String():  "EMA(7)",
		rma.String():  "RMA(7)",
		lwma.String(): "LWMA(5)",
		rsi.String():  "RSI(14)",
		ma.String():   "MA(9)",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("label: got %q, want %q", got, want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_PartialAndFullWindows(t *testing.T) {
	// SMA(3) on 100, 102, 104, 103, 105:
	// partial windows average what has arrived, so 100.0, 101.0, then
	// 102.0, 103.0, 104.0 once the window fills.
	sma, _ := NewSMA(3)
	inputs := []float64{100, 102, 104, 103, 105}
	expected := []float64{100.0, 101.0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, v := range inputs {
		got := sma.Next(v)
		assertClose(t, "SMA(3)", got, expected[i], 1e-9)
		if sma.Ready() != ready[i] {
			t.Errorf("input %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
	}
}

func TestSMA_PeekDoesNotDrift(t *testing.T) {
	sma, _ := NewSMA(3)
	for _, v := range []float64{100, 102, 104} {
		sma.Next(v)
	}

	// Peek with 106: (102+104+106)/3 = 104
	peeked := sma.Peek(106)
	assertClose(t, "SMA Peek", peeked, 104.0, 1e-9)
	assertClose(t, "SMA Value after Peek", sma.Value(), 102.0, 1e-9)

	// Next must agree with what Peek promised.
	assertClose(t, "SMA Next after Peek", sma.Next(106), peeked, 1e-12)
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_ReferenceVector(t *testing.T) {
	// EMA(3): alpha = 2/(3+1) = 0.5. First input passes through.
	// 2.0 → 2.0
	// 5.0 → 0.5*5.0  + 0.5*2.0   = 3.5
	// 1.0 → 0.5*1.0  + 0.5*3.5   = 2.25
	// 6.25 → 0.5*6.25 + 0.5*2.25 = 4.25
	ema, _ := NewEMA(3)
	inputs := []float64{2.0, 5.0, 1.0, 6.25}
	expected := []float64{2.0, 3.5, 2.25, 4.25}

	for i, v := range inputs {
		assertClose(t, "EMA(3)", ema.Next(v), expected[i], 1e-12)
	}
	if !ema.Ready() {
		t.Error("EMA(3) should be ready after 4 inputs")
	}
}

func TestEMA_PeekMatchesNext(t *testing.T) {
	ema, _ := NewEMA(5)
	for _, v := range []float64{10, 12, 9, 14} {
		ema.Next(v)
	}
	before := ema.Value()
	peeked := ema.Peek(20)
	assertClose(t, "EMA Value after Peek", ema.Value(), before, 0)
	assertClose(t, "EMA Next vs Peek", ema.Next(20), peeked, 0)
}

// ────────────────────────────────────────────────────────────
// RMA
// ────────────────────────────────────────────────────────────

func TestRMA_ReferenceVector(t *testing.T) {
	// RMA(3): alpha = 1/3.
	// 2.0 → 2.0
	// 5.0 → 5/3 + 4/3          = 3.0
	// 1.0 → 1/3 + 2.0          = 7/3
	// 6.25 → 6.25/3 + (2/3)*7/3 = 25/12 + 14/9
	rma, _ := NewRMA(3)
	inputs := []float64{2.0, 5.0, 1.0, 6.25}
	expected := []float64{2.0, 3.0, 7.0 / 3.0, 25.0/12.0 + 14.0/9.0}

	for i, v := range inputs {
		assertClose(t, "RMA(3)", rma.Next(v), expected[i], 1e-12)
	}
}

func TestRMA_MatchesEMAWithWilderAlpha(t *testing.T) {
	// RMA(n) is defined as EMA with alpha = 1/n; the output sequences
	// must be bit-identical.
	rma, _ := NewRMA(7)
	ema, _ := NewEMAWithAlpha(7, 1.0/7.0)

	inputs := []float64{3.5, 9.25, 1.125, 42, 7, 7, 7, 0.001, 88.5, 12}
	for i, v := range inputs {
		a, b := rma.Next(v), ema.Next(v)
		if a != b {
			t.Fatalf("input %d: RMA=%v, EMAWithAlpha=%v", i, a, b)
		}
	}
	if rma.Ready() != ema.Ready() {
		t.Error("Ready disagrees between RMA and the equivalent EMA")
	}
}

// ────────────────────────────────────────────────────────────
// LWMA
// ────────────────────────────────────────────────────────────

func TestLWMA_ReferenceVector(t *testing.T) {
	// LWMA(4) on 4, 5, 6, 6, 6, 6, 2:
	// partial: 4/1, (4+10)/3, (4+10+18)/6
	// full:    (4+10+18+24)/10 = 5.6
	//          (5+12+18+24)/10 = 5.9
	//          (6+12+18+24)/10 = 6.0
	//          (6+12+18+8)/10  = 4.4
	lwma, _ := NewLWMA(4)
	inputs := []float64{4, 5, 6, 6, 6, 6, 2}
	expected := []float64{4.0, 14.0 / 3.0, 32.0 / 6.0, 5.6, 5.9, 6.0, 4.4}
	ready := []bool{false, false, false, true, true, true, true}

	for i, v := range inputs {
		assertClose(t, "LWMA(4)", lwma.Next(v), expected[i], 1e-9)
		if lwma.Ready() != ready[i] {
			t.Errorf("input %d: Ready()=%v, want %v", i, lwma.Ready(), ready[i])
		}
	}
}

func TestLWMA_PeekDoesNotDrift(t *testing.T) {
	lwma, _ := NewLWMA(4)
	for _, v := range []float64{4, 5, 6, 6, 6} {
		lwma.Next(v)
	}
	before := lwma.Value()
	peeked := lwma.Peek(2)
	assertClose(t, "LWMA Value after Peek", lwma.Value(), before, 0)
	assertClose(t, "LWMA Next vs Peek", lwma.Next(2), peeked, 0)
}

// ────────────────────────────────────────────────────────────
// Algorithm-independent properties
// ────────────────────────────────────────────────────────────

func freshIndicators(t *testing.T, period int) map[string]streamIndicator {
	t.Helper()
	sma, err := NewSMA(period)
	if err != nil {
		t.Fatal(err)
	}
	ema, err := NewEMA(period)
	if err != nil {
		t.Fatal(err)
	}
	rma, err := NewRMA(period)
	if err != nil {
		t.Fatal(err)
	}
	lwma, err := NewLWMA(period)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]streamIndicator{
		"SMA": sma, "EMA": ema, "RMA": rma, "LWMA": lwma,
	}
}

func TestPeriodOne_IsIdentity(t *testing.T) {
	// SMA(1), RMA(1), LWMA(1) pass inputs through unchanged.
	for name, ind := range freshIndicators(t, 1) {
		if name == "EMA" {
			continue // EMA(1) has alpha=1 and is also identity, checked below
		}
		for _, v := range []float64{7, -3.5, 0, 1234.5678} {
			if got := ind.Next(v); got != v {
				t.Errorf("%s(1).Next(%v) = %v, want identity", name, v, got)
			}
		}
	}

	ema, _ := NewEMA(1) // alpha = 2/2 = 1
	for _, v := range []float64{7, -3.5, 0} {
		if got := ema.Next(v); got != v {
			t.Errorf("EMA(1).Next(%v) = %v, want identity", v, got)
		}
	}
}

func TestConstantInput_YieldsConstant(t *testing.T) {
	for name, ind := range freshIndicators(t, 5) {
		for i := 0; i < 12; i++ {
			if got := ind.Next(42.5); got != 42.5 {
				t.Errorf("%s: constant input step %d: got %v, want 42.5", name, i, got)
			}
		}
	}
}

func TestReset_MatchesFreshInstance(t *testing.T) {
	inputs := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3.5}
	for name, ind := range freshIndicators(t, 4) {
		for _, v := range inputs {
			ind.Next(v)
		}
		ind.Reset()
		ind.Reset() // double reset behaves like single

		fresh := freshIndicators(t, 4)[name]
		for i, v := range inputs {
			a, b := ind.Next(v), fresh.Next(v)
			if a != b {
				t.Errorf("%s: step %d after Reset: got %v, fresh %v", name, i, a, b)
			}
		}
	}
}

func TestNextClose_UsesClosingPrice(t *testing.T) {
	// NextClose(ind, bar) must equal Next(bar.ClosePrice()); the candle
	// carries paise, the indicator sees rupees.
	a, _ := NewLWMA(3)
	b, _ := NewLWMA(3)

	for _, paise := range []int64{10000, 10250, 9975, 10400} {
		bar := candle(paise)
		got := NextClose(a, &bar)
		want := b.Next(float64(paise) / 100.0)
		if got != want {
			t.Errorf("NextClose(%d paise) = %v, want %v", paise, got, want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_FirstOutputNeutral(t *testing.T) {
	rsi, _ := NewRSI(14)
	assertClose(t, "RSI first output", rsi.Next(100), 50.0, 0)
}

func TestRSI_MonotoneMoves(t *testing.T) {
	up, _ := NewRSI(5)
	up.Next(100)
	for i := 1; i <= 10; i++ {
		v := up.Next(100 + float64(i))
		if i > 0 && v != 100.0 {
			t.Fatalf("all-gains step %d: RSI=%v, want 100", i, v)
		}
	}

	down, _ := NewRSI(5)
	down.Next(100)
	for i := 1; i <= 10; i++ {
		v := down.Next(100 - float64(i))
		if v != 0.0 {
			t.Fatalf("all-losses step %d: RSI=%v, want 0", i, v)
		}
	}
}

func TestRSI_PeekDoesNotDrift(t *testing.T) {
	rsi, _ := NewRSI(3)
	for _, v := range []float64{100, 102, 101, 104, 103} {
		rsi.Next(v)
	}
	peeked := rsi.Peek(110)
	assertClose(t, "RSI Next vs Peek", rsi.Next(110), peeked, 0)
}
