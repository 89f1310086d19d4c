package indicator

import (
	"math"
	"math/rand"
	"testing"
)

// bruteLWMA recomputes the weighted average from the raw history: weights
// 1..n over the last n values (or 1..count while the window is filling).
func bruteLWMA(history []float64, period int) float64 {
	n := period
	if len(history) < n {
		n = len(history)
	}
	window := history[len(history)-n:]

	var weightedSum, weight float64
	for i, v := range window {
		w := float64(i + 1)
		weightedSum += w * v
		weight += w
	}
	return weightedSum / weight
}

func TestLWMA_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, period := range []int{1, 2, 3, 4, 7, 20, 50} {
		lwma, err := NewLWMA(period)
		if err != nil {
			t.Fatal(err)
		}

		var history []float64
		for i := 0; i < 3*period+10; i++ {
			v := rng.Float64()*2000 - 1000
			history = append(history, v)

			got := lwma.Next(v)
			want := bruteLWMA(history, period)
			if math.Abs(got-want) > 1e-6*math.Max(1, math.Abs(want)) {
				t.Fatalf("period=%d step=%d: incremental=%v brute=%v", period, i, got, want)
			}
		}
	}
}

func TestLWMA_SteadyState(t *testing.T) {
	// After period+1 equal inputs the whole window is that value, so the
	// output equals it exactly.
	lwma, _ := NewLWMA(6)
	lwma.Next(3.25)
	lwma.Next(99)
	for i := 0; i < 7; i++ {
		lwma.Next(12.5)
	}
	if got := lwma.Value(); got != 12.5 {
		t.Errorf("steady state: got %v, want 12.5", got)
	}
}

func TestLWMA_PeekMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	lwma, _ := NewLWMA(5)

	var history []float64
	for i := 0; i < 30; i++ {
		v := rng.Float64() * 500
		probe := rng.Float64() * 500

		peeked := lwma.Peek(probe)
		want := bruteLWMA(append(append([]float64(nil), history...), probe), 5)
		if math.Abs(peeked-want) > 1e-6 {
			t.Fatalf("step %d: Peek=%v brute=%v", i, peeked, want)
		}

		history = append(history, v)
		lwma.Next(v)
	}
}
