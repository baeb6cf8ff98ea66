package diagnostics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const startWindow = 1024

// LatencySummary describes recent start-signal latencies
type LatencySummary struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// startSummary keeps a sliding window of latencies in milliseconds
type startSummary struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

func newStartSummary() *startSummary {
	return &startSummary{samples: make([]float64, 0, startWindow)}
}

func (s *startSummary) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) < startWindow {
		s.samples = append(s.samples, ms)
		return
	}
	s.samples[s.next] = ms
	s.next = (s.next + 1) % startWindow
}

func (s *startSummary) summary() LatencySummary {
	s.mu.Lock()
	sorted := append([]float64(nil), s.samples...)
	s.mu.Unlock()

	if len(sorted) == 0 {
		return LatencySummary{}
	}
	sort.Float64s(sorted)

	toDur := func(ms float64) time.Duration { return time.Duration(ms * float64(time.Millisecond)) }
	return LatencySummary{
		Count: len(sorted),
		Mean:  toDur(stat.Mean(sorted, nil)),
		P50:   toDur(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:   toDur(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		Max:   toDur(sorted[len(sorted)-1]),
	}
}
