package scanning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// Size is the number of worker goroutines to create.
	Size int
	// Timeout bounds each connection attempt.
	Timeout time.Duration
	// RateLimit is the maximum number of probes per second across all
	// workers (0 = no limit).
	RateLimit int
}

// Pool runs a fixed number of workers that drain a Queue, probe each
// target and record the outcome in an Aggregator.
type Pool struct {
	config     PoolConfig
	queue      *Queue
	prober     Prober
	aggregator *Aggregator
	limiter    *rate.Limiter
	logger     *logging.Logger
	metrics    metrics.Recorder

	group     errgroup.Group
	startOnce sync.Once
	active    atomic.Int32
	processed atomic.Int64
}

// NewPool creates a pool. Workers do not start until Start is called.
func NewPool(config PoolConfig, queue *Queue, prober Prober, aggregator *Aggregator,
	logger *logging.Logger, recorder metrics.Recorder) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	pool := &Pool{
		config:     config,
		queue:      queue,
		prober:     prober,
		aggregator: aggregator,
		logger:     logger.WithComponent("pool"),
		metrics:    recorder,
	}

	if config.RateLimit > 0 {
		pool.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return pool
}

// Start launches the workers. Cancelling ctx stops workers from picking up
// new targets; probes already in flight run to their own timeout.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"timeout", p.config.Timeout,
			"rate_limit", p.config.RateLimit)

		for id := range p.config.Size {
			p.group.Go(func() error {
				return p.run(ctx, id)
			})
		}
	})
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	err := p.group.Wait()
	p.metrics.SetActiveWorkers(0)
	return err
}

// Processed returns the number of targets probed so far.
func (p *Pool) Processed() int {
	return int(p.processed.Load())
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return p.config.Size
}

// run executes the worker loop.
func (p *Pool) run(ctx context.Context, id int) error {
	p.metrics.SetActiveWorkers(int(p.active.Add(1)))
	defer func() {
		p.metrics.SetActiveWorkers(int(p.active.Add(-1)))
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		target, ok := p.queue.Dequeue()
		if !ok {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		p.execute(ctx, id, target)
	}
}

// execute probes one target and records its result.
func (p *Pool) execute(ctx context.Context, id int, target Target) {
	start := time.Now()
	outcome := p.prober.Probe(ctx, target, p.config.Timeout)
	duration := time.Since(start)

	if !p.aggregator.Record(Result{Target: target, Outcome: outcome, Duration: duration}) {
		p.logger.Warn("Duplicate result discarded", "port", target.Port, "worker_id", id)
		return
	}
	p.processed.Add(1)

	p.metrics.ObserveProbe(string(outcome.State), duration)
	p.metrics.SetQueueDepth(p.queue.Len())

	if outcome.State == StateError {
		p.logger.Debug("Probe failed",
			"address", target.Address(),
			"reason", outcome.Reason,
			"worker_id", id)
	}
}
