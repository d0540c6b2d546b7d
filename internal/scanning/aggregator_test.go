package scanning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_RejectsDuplicates(t *testing.T) {
	agg := NewAggregator(2)

	assert.True(t, agg.Record(Result{Target: Target{Port: 80}, Outcome: Open()}))
	assert.False(t, agg.Record(Result{Target: Target{Port: 80}, Outcome: Closed()}))
	assert.Equal(t, 1, agg.Len())

	snap := agg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StateOpen, snap[0].Outcome.State, "first result wins")
}

func TestAggregator_SnapshotSorted(t *testing.T) {
	agg := NewAggregator(0)
	for _, p := range []int{443, 22, 8080, 80, 1} {
		agg.Record(Result{Target: Target{Port: p}, Outcome: Closed()})
	}

	var ports []int
	for _, r := range agg.Snapshot() {
		ports = append(ports, r.Target.Port)
	}
	assert.Equal(t, []int{1, 22, 80, 443, 8080}, ports)
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	agg := NewAggregator(1)
	agg.Record(Result{Target: Target{Port: 1}, Outcome: Open()})

	snap := agg.Snapshot()
	snap[0].Outcome = Closed()

	assert.Equal(t, StateOpen, agg.Snapshot()[0].Outcome.State)
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	agg := NewAggregator(1000)

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := w*100 + 1; p <= (w+1)*100; p++ {
				agg.Record(Result{Target: Target{Port: p}, Outcome: Open()})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, agg.Len())
	snap := agg.Snapshot()
	for i, r := range snap {
		require.Equal(t, i+1, r.Target.Port)
	}
}
