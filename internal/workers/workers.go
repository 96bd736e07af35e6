// Package workers sizes and runs the bounded fan-outs used by the tree builder
// and the transfer executor.
package workers

import (
	"log/slog"
	"math"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"
)

// Capacity is the number of logical CPUs minus the share currently busy,
// never less than one.
func Capacity() int {
	count, err := cpu.Counts(true)
	if err != nil || count < 1 {
		slog.Debug("workers cpu count", "error", err)
		return 1
	}

	var busy float64
	// interval 0 compares against the previous call
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		busy = pct[0]
	}
	return capacityFor(count, busy)
}

func capacityFor(count int, busyPercent float64) int {
	avail := count - int(math.Floor(busyPercent*float64(count)/100))
	return max(1, avail)
}

// Pool bounds parallelism. Max > 0 pins the bound, Max == 0 uses Capacity.
type Pool struct {
	Max int
}

// Sequential runs everything in index order on the calling goroutine.
var Sequential = Pool{Max: 1}

// Size returns the parallelism for n independent items.
func (p Pool) Size(n int) int {
	if n <= 0 {
		return 0
	}
	limit := p.Max
	if limit <= 0 {
		limit = Capacity()
	}
	return min(limit, n)
}

// Each calls fn(i) for i in [0, n) and returns once every call has finished.
// fn records its own failures so one item never cancels its siblings.
func (p Pool) Each(n int, fn func(i int)) {
	size := p.Size(n)
	if size == 0 {
		return
	}
	if size == 1 {
		for i := range n {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(size)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
