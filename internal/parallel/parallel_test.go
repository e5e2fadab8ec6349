package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversEveryIndex(t *testing.T) {
	cfg := Default()
	n := 1000

	var hits [1000]int32
	cfg.For(n, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	})

	for i, h := range hits {
		if h != 1 {
			t.Errorf("index %d ran %d times, want 1", i, h)
		}
	}
}

func TestForZeroIterations(t *testing.T) {
	var calls int64
	Default().For(0, func(_ int) {
		atomic.AddInt64(&calls, 1)
	})
	if calls != 0 {
		t.Errorf("empty loop ran the body %d times", calls)
	}
}

func TestForZeroConfigRunsInline(t *testing.T) {
	var cfg Config

	// Inline execution visits the indices in order, which a concurrent
	// split would not guarantee.
	var order []int
	cfg.For(5, func(i int) {
		order = append(order, i)
	})

	for i, got := range order {
		if got != i {
			t.Fatalf("got order %v, want ascending", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("ran %d iterations, want 5", len(order))
	}
}

func TestForMinPerWorkerKeepsSmallLoopsInline(t *testing.T) {
	cfg := Config{Workers: 8, MinPerWorker: 100}

	var order []int
	cfg.For(50, func(i int) {
		order = append(order, i)
	})

	if len(order) != 50 || order[0] != 0 || order[49] != 49 {
		t.Fatalf("small loop was not run inline: %v", order)
	}
}

func TestForPairCoversProduct(t *testing.T) {
	cfg := Default()
	outer, inner := 7, 13

	var hits [7][13]int32
	cfg.ForPair(outer, inner, func(i, j int) {
		atomic.AddInt32(&hits[i][j], 1)
	})

	for i := range hits {
		for j := range hits[i] {
			if hits[i][j] != 1 {
				t.Errorf("pair (%d, %d) ran %d times, want 1", i, j, hits[i][j])
			}
		}
	}
}
