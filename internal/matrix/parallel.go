package matrix

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelThreshold is the n+m at which rows are spread over
// goroutines. Below it the scheduling cost outweighs the row work.
const DefaultParallelThreshold = 128

// Workers returns the number of goroutines used for row-parallel work.
func Workers() int {
	w := cpuid.CPU.LogicalCores
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if p := runtime.GOMAXPROCS(0); p < w {
		w = p
	}
	return max(w, 1)
}

// ParallelRows calls fn over [0, rows) in contiguous ranges. Rows must be
// independent of each other: fn may run concurrently for different ranges.
func ParallelRows(rows int, parallel bool, fn func(lo, hi int)) {
	workers := Workers()
	if !parallel || workers == 1 || rows < 2 {
		fn(0, rows)
		return
	}
	workers = min(workers, rows)
	per := (rows + workers - 1) / workers

	var g errgroup.Group
	for lo := 0; lo < rows; lo += per {
		hi := min(lo+per, rows)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
