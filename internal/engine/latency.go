package engine

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const latencyWindowSize = 256

// latencyWindow keeps the most recent per-frame processing times.
type latencyWindow struct {
	samples []float64 // milliseconds, ring buffer
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]float64, size)}
}

func (l *latencyWindow) add(d time.Duration) {
	l.samples[l.next] = float64(d) / float64(time.Millisecond)
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.full = true
	}
}

func (l *latencyWindow) len() int {
	if l.full {
		return len(l.samples)
	}
	return l.next
}

// quantiles returns the empirical p50 and p95 in milliseconds, or zeros when
// no sample has been recorded.
func (l *latencyWindow) quantiles() (p50, p95 float64) {
	n := l.len()
	if n == 0 {
		return 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, l.samples[:n])
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.95, stat.Empirical, sorted, nil)
}
