package dynamo

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers is the number of goroutines ParallelFor spreads work over.
var Workers = runtime.NumCPU()

// ParallelFor executes fn over [0, n) split into contiguous chunks and
// returns once every chunk has finished. Ranges shorter than minChunk run on
// the calling goroutine.
func ParallelFor(n, minChunk int, fn func(start, end int)) {
	workers := Workers
	if n <= minChunk || workers <= 1 {
		fn(0, n)
		return
	}

	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		start := start
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}

	_ = g.Wait()
}
