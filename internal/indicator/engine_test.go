package indicator

import (
	"context"
	"math"
	"testing"
	"time"

	"ta-enginev1/internal/model"
)

func makeTFCandle(token string, tf int, closePaise int64) model.TFCandle {
	return model.TFCandle{
		Token:    token,
		Exchange: "NSE",
		TF:       tf,
		TS:       time.Now().UTC(),
		Open:     closePaise,
		High:     closePaise + 100,
		Low:      closePaise - 100,
		Close:    closePaise,
		Volume:   100,
		Count:    60,
	}
}

func TestEngine_SMA20(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 20}}},
	})

	// 25 candles closing at 100.00 rupees (10000 paise).
	for i := 0; i < 25; i++ {
		points := engine.Process(makeTFCandle("SBIN", 60, 10000))
		if len(points) != 1 {
			t.Fatalf("candle %d: expected 1 point, got %d", i, len(points))
		}
		p := points[0]
		if wantReady := i >= 19; p.Ready != wantReady {
			t.Errorf("candle %d: Ready=%v, want %v", i, p.Ready, wantReady)
		}
		if math.Abs(p.Value-100.0) > 0.001 {
			t.Errorf("candle %d: expected SMA=100.0, got %.4f", i, p.Value)
		}
		if p.Name != "SMA(20)" {
			t.Errorf("candle %d: expected name=SMA(20), got %s", i, p.Name)
		}
	}
}

func TestEngine_MultiSpec(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{
			{Type: "SMA", Period: 5},
			{Type: "EMA", Period: 5},
			{Type: "RMA", Period: 5},
			{Type: "LWMA", Period: 5},
			{Type: "RSI", Period: 14},
		}},
	})

	for i := 0; i < 20; i++ {
		points := engine.Process(makeTFCandle("A", 60, int64(10000+i*100)))
		if len(points) != 5 {
			t.Fatalf("candle %d: expected 5 points, got %d", i, len(points))
		}
	}
}

func TestEngine_RejectsOpaqueMATag(t *testing.T) {
	// Specs must name the algorithm: streams are keyed by display label
	// and "MA(9)" would not identify one.
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{
			{Type: "MA", Period: 9},
			{Type: "LWMA", Period: 9},
		}},
	})

	points := engine.Process(makeTFCandle("B", 60, 10000))
	if len(points) != 1 {
		t.Fatalf("expected the MA spec to be dropped, got %d points", len(points))
	}
	if points[0].Name != "LWMA(9)" {
		t.Errorf("expected LWMA(9), got %s", points[0].Name)
	}
}

func TestEngine_MultiTF(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 5}}},
		{TF: 300, Specs: []MASpec{{Type: "EMA", Period: 10}}},
	})

	points60 := engine.Process(makeTFCandle("X", 60, 5000))
	if len(points60) != 1 || points60[0].TF != 60 {
		t.Fatalf("TF=60: got %+v", points60)
	}

	points300 := engine.Process(makeTFCandle("X", 300, 5000))
	if len(points300) != 1 || points300[0].TF != 300 {
		t.Fatalf("TF=300: got %+v", points300)
	}

	if points := engine.Process(makeTFCandle("X", 900, 5000)); len(points) != 0 {
		t.Errorf("unconfigured TF=900: expected 0 points, got %d", len(points))
	}
}

func TestEngine_TokensAreIndependent(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 2}}},
	})

	engine.Process(makeTFCandle("AAA", 60, 10000))
	engine.Process(makeTFCandle("AAA", 60, 20000))
	points := engine.Process(makeTFCandle("BBB", 60, 30000))

	// BBB's first candle: its own fresh SMA, unaffected by AAA.
	if math.Abs(points[0].Value-300.0) > 0.001 {
		t.Errorf("BBB first value: got %.4f, want 300.0", points[0].Value)
	}
}

func TestEngine_RunSkipsFormingCandles(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 5}}},
	})

	forming := makeTFCandle("Y", 60, 5000)
	forming.Forming = true

	tfCh := make(chan model.TFCandle, 10)
	pointCh := make(chan model.IndicatorPoint, 10)

	tfCh <- forming
	close(tfCh)
	engine.Run(context.Background(), tfCh, pointCh)

	select {
	case p := <-pointCh:
		t.Fatalf("forming candle produced point %+v", p)
	default:
	}
}

func TestProcessPeek_NilBeforeProcess(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 5}}},
	})

	forming := makeTFCandle("Z", 60, 5000)
	forming.Forming = true

	if points := engine.ProcessPeek(forming); points != nil {
		t.Fatalf("expected nil before any Process, got %d points", len(points))
	}
}

func TestProcessPeek_LivePoints(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 5}}},
	})

	for i := 0; i < 5; i++ {
		engine.Process(makeTFCandle("T1", 60, 10000))
	}

	forming := makeTFCandle("T1", 60, 11000)
	forming.Forming = true

	points := engine.ProcessPeek(forming)
	if len(points) != 1 {
		t.Fatalf("expected 1 peek point, got %d", len(points))
	}
	if !points[0].Live {
		t.Error("expected Live=true on peek point")
	}
	if !points[0].Ready {
		t.Error("expected Ready=true on peek point")
	}

	// (100*4 + 110)/5 = 102.00
	if math.Abs(points[0].Value-102.0) > 0.01 {
		t.Errorf("peek value: got %.4f, want 102.00", points[0].Value)
	}
}

func TestProcessPeek_DoesNotMutateState(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60, Specs: []MASpec{{Type: "SMA", Period: 5}}},
	})

	for i := 0; i < 5; i++ {
		engine.Process(makeTFCandle("M1", 60, 10000))
	}
	baseline := engine.Process(makeTFCandle("M1", 60, 10000))

	forming := makeTFCandle("M1", 60, 99999)
	forming.Forming = true
	engine.ProcessPeek(forming)

	after := engine.Process(makeTFCandle("M1", 60, 10000))
	if math.Abs(after[0].Value-baseline[0].Value) > 0.001 {
		t.Errorf("ProcessPeek mutated state: before=%.4f after=%.4f",
			baseline[0].Value, after[0].Value)
	}
}

func TestEngine_TFs(t *testing.T) {
	engine := NewEngine([]TFSpec{
		{TF: 60}, {TF: 300}, {TF: 900},
	})
	tfs := engine.TFs()
	want := []int{60, 300, 900}
	if len(tfs) != len(want) {
		t.Fatalf("TFs: got %v, want %v", tfs, want)
	}
	for i := range want {
		if tfs[i] != want[i] {
			t.Errorf("TFs[%d]: got %d, want %d", i, tfs[i], want[i])
		}
	}
}
