// Package parallel splits an index range across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize runs fn over [0, items) split into one range per CPU core.
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeWorkers(items, runtime.NumCPU(), fn)
}

// ParallelizeWorkers runs fn over [0, items) split into at most workers
// contiguous ranges and returns when every range is done. A non-positive
// count means one worker per CPU core. fn must be safe to call concurrently
// on disjoint ranges.
func ParallelizeWorkers(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, items)
	if workers == 1 {
		fn(0, items)
		return
	}

	// ceil(items / workers) so the last range absorbs the remainder
	span := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < items; start += span {
		end := min(start+span, items)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(start, end)
		}()
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn inline when items is at most threshold and
// like ParallelizeWorkers otherwise.
func ParallelizeWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if items <= threshold {
		fn(0, items)
		return
	}
	ParallelizeWorkers(items, workers, fn)
}
