package indicator

import (
	"encoding/json"
	"testing"
)

// roundTrip snapshots ind, restores into fresh, and verifies the two
// produce bit-identical continuations. The snapshot goes through JSON the
// way the Redis and SQLite stores carry it.
func roundTrip(t *testing.T, name string, ind, fresh streamIndicator, continuation []float64) {
	t.Helper()

	snap := ind.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("%s: marshal: %v", name, err)
	}
	var decoded IndicatorSnapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s: unmarshal: %v", name, err)
	}

	if err := fresh.RestoreFromSnapshot(decoded); err != nil {
		t.Fatalf("%s: restore: %v", name, err)
	}
	if fresh.Value() != ind.Value() {
		t.Fatalf("%s: restored Value=%v, want %v", name, fresh.Value(), ind.Value())
	}
	if fresh.Ready() != ind.Ready() {
		t.Fatalf("%s: restored Ready=%v, want %v", name, fresh.Ready(), ind.Ready())
	}

	for i, v := range continuation {
		a, b := ind.Next(v), fresh.Next(v)
		if a != b {
			t.Fatalf("%s: continuation step %d: original=%v restored=%v", name, i, a, b)
		}
	}
}

func TestSnapshotRoundTrip_AllTypes(t *testing.T) {
	warmup := []float64{101.5, 99.25, 103, 100, 104.75, 102}
	continuation := []float64{105, 98.5, 101, 107.25}

	mk := map[string]func() streamIndicator{
		"SMA":  func() streamIndicator { s, _ := NewSMA(4); return s },
		"EMA":  func() streamIndicator { e, _ := NewEMA(4); return e },
		"RMA":  func() streamIndicator { r, _ := NewRMA(4); return r },
		"LWMA": func() streamIndicator { l, _ := NewLWMA(4); return l },
		"RSI":  func() streamIndicator { r, _ := NewRSI(4); return r },
		"MA":   func() streamIndicator { m, _ := NewMA(Linear, 4); return m },
	}

	for name, newInd := range mk {
		t.Run(name, func(t *testing.T) {
			ind := newInd()
			for _, v := range warmup {
				ind.Next(v)
			}
			roundTrip(t, name, ind, newInd(), continuation)
		})
	}
}

func TestSnapshotRoundTrip_PartialWindow(t *testing.T) {
	// Snapshot mid-warmup: the restored instance must finish filling the
	// window exactly as the original would.
	lwma, _ := NewLWMA(5)
	lwma.Next(10)
	lwma.Next(20)

	fresh, _ := NewLWMA(5)
	roundTrip(t, "LWMA partial", lwma, fresh, []float64{30, 40, 50, 60})
}

func TestRestore_BufPeriodMismatch(t *testing.T) {
	sma, _ := NewSMA(4)
	snap := sma.Snapshot()
	snap.Buf = snap.Buf[:2]

	fresh, _ := NewSMA(4)
	if err := fresh.RestoreFromSnapshot(snap); err == nil {
		t.Fatal("expected error for buf/period mismatch")
	}

	lwma, _ := NewLWMA(4)
	lsnap := lwma.Snapshot()
	lsnap.Buf = lsnap.Buf[:1]
	lfresh, _ := NewLWMA(4)
	if err := lfresh.RestoreFromSnapshot(lsnap); err == nil {
		t.Fatal("expected error for lwma buf/period mismatch")
	}
}

func TestEngineSnapshot_RoundTrip(t *testing.T) {
	specs := []TFSpec{
		{TF: 60, Specs: []MASpec{
			{Type: "SMA", Period: 3},
			{Type: "LWMA", Period: 4},
			{Type: "RSI", Period: 3},
		}},
	}
	engine := NewEngine(specs)

	for i := 0; i < 8; i++ {
		engine.Process(makeTFCandle("SBIN", 60, int64(10000+i*50)))
		engine.Process(makeTFCandle("TCS", 60, int64(350000-i*100)))
	}

	snap, err := SnapshotEngine(engine, "1234-0")
	if err != nil {
		t.Fatal(err)
	}
	if snap.StreamID != "1234-0" {
		t.Errorf("StreamID: got %s", snap.StreamID)
	}
	if len(snap.Tokens) != 2 {
		t.Fatalf("expected 2 token snapshots, got %d", len(snap.Tokens))
	}

	restored, err := RestoreEngine(specs, snap)
	if err != nil {
		t.Fatal(err)
	}

	// Both engines must continue identically.
	for i := 0; i < 5; i++ {
		c := makeTFCandle("SBIN", 60, int64(10500+i*75))
		a := engine.Process(c)
		b := restored.Process(c)
		if len(a) != len(b) {
			t.Fatalf("step %d: point counts differ: %d vs %d", i, len(a), len(b))
		}
		for j := range a {
			if a[j].Value != b[j].Value {
				t.Errorf("step %d point %s: original=%v restored=%v", i, a[j].Name, a[j].Value, b[j].Value)
			}
		}
	}
}

func TestRestoreEngine_ToleratesSpecDrift(t *testing.T) {
	oldSpecs := []TFSpec{
		{TF: 60, Specs: []MASpec{
			{Type: "SMA", Period: 3},
			{Type: "EMA", Period: 5},
		}},
	}
	engine := NewEngine(oldSpecs)
	for i := 0; i < 6; i++ {
		engine.Process(makeTFCandle("INFY", 60, int64(150000+i*200)))
	}

	snap, err := SnapshotEngine(engine, "")
	if err != nil {
		t.Fatal(err)
	}

	// New specs drop the EMA and add an LWMA; the SMA must carry over.
	newSpecs := []TFSpec{
		{TF: 60, Specs: []MASpec{
			{Type: "SMA", Period: 3},
			{Type: "LWMA", Period: 4},
		}},
	}
	restored, err := RestoreEngine(newSpecs, snap)
	if err != nil {
		t.Fatal(err)
	}

	points := restored.Process(makeTFCandle("INFY", 60, 151300))
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}

	// The surviving SMA continues from its restored window.
	ref, _ := NewSMA(3)
	for i := 0; i < 6; i++ {
		ref.Next(float64(150000+i*200) / 100.0)
	}
	want := ref.Next(1513.0)
	if points[0].Value != want {
		t.Errorf("restored SMA: got %v, want %v", points[0].Value, want)
	}

	// The new LWMA starts cold: first output equals first input.
	if points[1].Value != 1513.0 {
		t.Errorf("cold LWMA first output: got %v, want 1513.0", points[1].Value)
	}
	if points[1].Ready {
		t.Error("cold LWMA should not be ready")
	}
}

func TestRestoreEngine_NilSnapshot(t *testing.T) {
	if _, err := RestoreEngine([]TFSpec{{TF: 60}}, nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
}
