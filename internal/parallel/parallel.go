// Package parallel provides chunked parallel loops for the CPU compute
// paths.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a loop is split across goroutines. The zero value
// runs every loop inline.
type Config struct {
	// Workers is the number of goroutines to spread the work over.
	Workers int
	// MinPerWorker is the smallest number of iterations worth handing to
	// a goroutine. Loops over cheap items should raise it; the
	// convolution kernels iterate whole output planes and keep it at 1.
	MinPerWorker int
}

// Default returns a configuration sized to the machine.
func Default() Config {
	return Config{Workers: runtime.NumCPU(), MinPerWorker: 1}
}

// For runs f(i) for every i in [0, n). Iterations must not write shared
// state: once n is large enough they run concurrently, in contiguous
// chunks of the index space.
func (c Config) For(n int, f func(i int)) {
	workers := c.Workers
	if c.MinPerWorker > 0 && workers > n/c.MinPerWorker {
		workers = n / c.MinPerWorker
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForPair runs f(i, j) over the product [0, outer) x [0, inner) by
// splitting the flattened index space. The independence requirement of
// For applies to the pairs.
func (c Config) ForPair(outer, inner int, f func(i, j int)) {
	c.For(outer*inner, func(k int) {
		f(k/inner, k%inner)
	})
}
