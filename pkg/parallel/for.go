// Package parallel provides the work-sharing primitives used by the
// per-minibatch-node and per-edge inner loops of the sampler.
package parallel

import (
	"sync"
)

// For splits [0, n) into one contiguous chunk per worker and runs body
// concurrently, once per worker, as body(worker, lo, hi). Chunks differ in
// size by at most one. body invocations for worker w always receive the same
// index range for the same (n, workers) pair, so per-thread RNG streams stay
// aligned across runs.
func For(n, workers int, body func(worker, lo, hi int)) {
	if n <= 0 {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	chunk := n / workers
	surplus := n % workers

	var wg sync.WaitGroup
	lo := 0
	for w := 0; w < workers; w++ {
		hi := lo + chunk
		if w < surplus {
			hi++
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			body(w, lo, hi)
		}(w, lo, hi)
		lo = hi
	}
	wg.Wait()
}

// ForEach runs body(worker, i) for every i in [0, n), scheduled as in For.
func ForEach(n, workers int, body func(worker, i int)) {
	For(n, workers, func(w, lo, hi int) {
		for i := lo; i < hi; i++ {
			body(w, i)
		}
	})
}
