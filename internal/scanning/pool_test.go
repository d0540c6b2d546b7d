package scanning

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
)

// funcProber adapts a function to the Prober interface.
type funcProber func(ctx context.Context, target Target, timeout time.Duration) Outcome

func (f funcProber) Probe(ctx context.Context, target Target, timeout time.Duration) Outcome {
	return f(ctx, target, timeout)
}

func fillQueue(t *testing.T, r PortRange) *Queue {
	t.Helper()
	q := NewQueue()
	for target := range Targets("127.0.0.1", r) {
		require.NoError(t, q.Enqueue(target))
	}
	q.Close()
	return q
}

func TestPool_ProbesEveryTargetOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := NewMockProber(ctrl)

	r := PortRange{Min: 1, Max: 200}
	prober.EXPECT().
		Probe(gomock.Any(), gomock.Any(), 50*time.Millisecond).
		DoAndReturn(func(_ context.Context, target Target, _ time.Duration) Outcome {
			if target.Port%10 == 0 {
				return Open()
			}
			return Closed()
		}).
		Times(r.Count())

	agg := NewAggregator(r.Count())
	pool := NewPool(PoolConfig{Size: 8, Timeout: 50 * time.Millisecond},
		fillQueue(t, r), prober, agg, logging.NewDiscard(), nil)

	pool.Start(context.Background())
	require.NoError(t, pool.Wait())

	assert.Equal(t, r.Count(), pool.Processed())
	results := agg.Snapshot()
	require.Len(t, results, r.Count())
	for i, res := range results {
		assert.Equal(t, i+1, res.Target.Port)
	}
}

func TestPool_NeverExceedsSize(t *testing.T) {
	const size = 4
	var inFlight, peak atomic.Int32

	prober := funcProber(func(context.Context, Target, time.Duration) Outcome {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Closed()
	})

	r := PortRange{Min: 1, Max: 100}
	pool := NewPool(PoolConfig{Size: size, Timeout: time.Second},
		fillQueue(t, r), prober, NewAggregator(r.Count()), logging.NewDiscard(), nil)

	pool.Start(context.Background())
	require.NoError(t, pool.Wait())

	assert.Equal(t, r.Count(), pool.Processed())
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Positive(t, peak.Load())
}

func TestPool_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	prober := funcProber(func(context.Context, Target, time.Duration) Outcome {
		once.Do(cancel)
		time.Sleep(time.Millisecond)
		return Closed()
	})

	r := PortRange{Min: 1, Max: 10000}
	agg := NewAggregator(r.Count())
	pool := NewPool(PoolConfig{Size: 4, Timeout: time.Second},
		fillQueue(t, r), prober, agg, logging.NewDiscard(), nil)

	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		_ = pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}

	assert.Less(t, agg.Len(), r.Count())
	assert.Equal(t, agg.Len(), pool.Processed())
}

func TestPool_StartIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	prober := funcProber(func(context.Context, Target, time.Duration) Outcome {
		calls.Add(1)
		return Closed()
	})

	r := PortRange{Min: 1, Max: 50}
	pool := NewPool(PoolConfig{Size: 2, Timeout: time.Second},
		fillQueue(t, r), prober, NewAggregator(r.Count()), logging.NewDiscard(), nil)

	pool.Start(context.Background())
	pool.Start(context.Background())
	require.NoError(t, pool.Wait())

	assert.Equal(t, int32(r.Count()), calls.Load())
}

func TestPool_RateLimit(t *testing.T) {
	prober := funcProber(func(context.Context, Target, time.Duration) Outcome {
		return Closed()
	})

	// Burst is one, so 6 probes at 50/s need at least 5 intervals of 20ms.
	r := PortRange{Min: 1, Max: 6}
	pool := NewPool(PoolConfig{Size: 3, Timeout: time.Second, RateLimit: 50},
		fillQueue(t, r), prober, NewAggregator(r.Count()), logging.NewDiscard(), nil)

	start := time.Now()
	pool.Start(context.Background())
	require.NoError(t, pool.Wait())

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, r.Count(), pool.Processed())
}

func TestPool_SizeClamped(t *testing.T) {
	pool := NewPool(PoolConfig{Size: 0}, NewQueue(), nil, NewAggregator(0), nil, nil)
	assert.Equal(t, 1, pool.Size())
}

func TestPool_RecordsProbeMetrics(t *testing.T) {
	prober := funcProber(func(_ context.Context, target Target, _ time.Duration) Outcome {
		switch target.Port {
		case 1:
			return Open()
		case 2:
			return TimedOut()
		case 3:
			return Failed(ReasonResourceExhausted)
		default:
			return Closed()
		}
	})

	rec := metrics.NewRegistry()
	r := PortRange{Min: 1, Max: 5}
	pool := NewPool(PoolConfig{Size: 2, Timeout: time.Second},
		fillQueue(t, r), prober, NewAggregator(r.Count()), logging.NewDiscard(), rec)

	pool.Start(context.Background())
	require.NoError(t, pool.Wait())

	for outcome, want := range map[string]float64{"open": 1, "timeout": 1, "error": 1, "closed": 2} {
		got := rec.Value(metrics.MetricProbesTotal, metrics.Labels{metrics.LabelOutcome: outcome})
		assert.Equal(t, want, got, outcome)
	}
	assert.Equal(t, float64(0), rec.Value(metrics.MetricActiveWorkers, nil))
}
