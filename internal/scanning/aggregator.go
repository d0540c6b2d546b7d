package scanning

import (
	"slices"
	"sync"
)

// Aggregator collects the results of one job, keyed by port.
type Aggregator struct {
	mu      sync.Mutex
	results map[int]Result
}

// NewAggregator creates an empty aggregator sized for hint results.
func NewAggregator(hint int) *Aggregator {
	return &Aggregator{
		results: make(map[int]Result, hint),
	}
}

// Record stores r. It is safe for concurrent use and returns false if a
// result for the same port was already recorded.
func (a *Aggregator) Record(r Result) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.results[r.Target.Port]; exists {
		return false
	}
	a.results[r.Target.Port] = r
	return true
}

// Len returns the number of recorded results.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Snapshot returns a copy of all results sorted by ascending port.
func (a *Aggregator) Snapshot() []Result {
	a.mu.Lock()
	out := make([]Result, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	a.mu.Unlock()

	slices.SortFunc(out, func(x, y Result) int {
		return x.Target.Port - y.Target.Port
	})
	return out
}
