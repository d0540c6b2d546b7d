package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/resolver"
)

// JobState is the lifecycle state of a Coordinator.
type JobState string

const (
	JobCreated   JobState = "created"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	// JobFailed is entered when validation or resolution aborts the job
	// before any probe is sent.
	JobFailed JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// Coordinator runs one Job: it resolves the host, feeds the work queue,
// waits for the pool to drain and builds the Report.
type Coordinator struct {
	id       string
	job      Job
	prober   Prober
	resolver resolver.Resolver
	logger   *logging.Logger
	metrics  metrics.Recorder

	mu    sync.RWMutex
	state JobState
	pool  *Pool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProber replaces the TCP prober.
func WithProber(p Prober) Option {
	return func(c *Coordinator) { c.prober = p }
}

// WithResolver replaces the system resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(c *Coordinator) { c.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = r }
}

// WithJobID overrides the generated job ID.
func WithJobID(id string) Option {
	return func(c *Coordinator) { c.id = id }
}

// NewCoordinator creates a coordinator in the created state.
func NewCoordinator(job Job, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:       uuid.NewString(),
		job:      job,
		prober:   NewTCPProber(),
		resolver: &resolver.SystemResolver{},
		logger:   logging.Default(),
		metrics:  metrics.Noop{},
		state:    JobCreated,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("coordinator").WithJobID(c.id)
	return c
}

// ID returns the job ID.
func (c *Coordinator) ID() string {
	return c.id
}

// Job returns the job being run.
func (c *Coordinator) Job() Job {
	return c.job
}

// State returns the current lifecycle state.
func (c *Coordinator) State() JobState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Progress returns the number of ports probed and the total to probe.
func (c *Coordinator) Progress() (done, total int) {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()

	total = c.job.Ports().Count()
	if pool != nil {
		done = pool.Processed()
	}
	return done, total
}

func (c *Coordinator) setState(s JobState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Run executes the job. It returns a complete report and nil on success.
// If ctx is cancelled mid-scan it returns the partial report together with
// a CANCELED error. Validation and resolution failures return an empty
// report and a VALIDATION or RESOLUTION error before any probe is sent.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.state != JobCreated {
		state := c.state
		c.mu.Unlock()
		return nil, errors.NewScanError(errors.CodeScanFailed,
			fmt.Sprintf("job already %s", state))
	}
	c.state = JobRunning
	c.mu.Unlock()

	start := time.Now()
	report := &Report{
		JobID:     c.id,
		Host:      c.job.Host,
		PortRange: c.job.Ports(),
		StartedAt: start,
		OpenPorts: []int{},
		Errors:    []PortError{},
	}

	if err := c.job.Validate(); err != nil {
		return c.fail(report, err)
	}

	address, err := c.resolver.Resolve(ctx, c.job.Host)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(JobCancelled)
			c.finish(report, start)
			return report, errors.ErrCanceled(c.job.Host, ctx.Err())
		}
		if !errors.IsCode(err, errors.CodeResolution) {
			err = errors.ErrResolution(c.job.Host, err)
		}
		return c.fail(report, err)
	}
	report.Address = address

	results := c.scan(ctx, address)
	buildReport(report, results)

	state := JobCompleted
	if report.Counts.Total < report.PortRange.Count() {
		state = JobCancelled
	}
	c.setState(state)
	c.finish(report, start)

	c.metrics.ScanFinished(string(state), report.Elapsed, len(report.OpenPorts))
	c.logger.InfoScan("Scan finished", c.job.Host,
		"state", state,
		"open", report.Counts.Open,
		"closed", report.Counts.Closed,
		"timeout", report.Counts.Timeout,
		"errors", report.Counts.Error,
		"elapsed", report.Elapsed)

	if state == JobCancelled {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		return report, errors.ErrCanceled(c.job.Host, cause).
			WithContext("scanned", report.Counts.Total).
			WithContext("total", report.PortRange.Count())
	}
	return report, nil
}

// scan drives the pool over every target and returns the sorted results.
func (c *Coordinator) scan(ctx context.Context, address string) []Result {
	ports := c.job.Ports()
	queue := NewQueue()
	aggregator := NewAggregator(ports.Count())
	pool := NewPool(PoolConfig{
		Size:      c.job.EffectiveConcurrency(),
		Timeout:   c.job.Timeout,
		RateLimit: c.job.RateLimit,
	}, queue, c.prober, aggregator, c.logger, c.metrics)

	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()

	c.metrics.ScanStarted()
	c.logger.InfoScan("Scan started", c.job.Host,
		"address", address,
		"ports", ports.String(),
		"workers", pool.Size(),
		"timeout", c.job.Timeout)

	pool.Start(ctx)

	enqueued := 0
	for target := range Targets(address, ports) {
		if ctx.Err() != nil {
			break
		}
		if err := queue.Enqueue(target); err != nil {
			break
		}
		enqueued++
	}
	queue.Close()
	c.metrics.SetQueueDepth(queue.Len())

	if enqueued < ports.Count() {
		c.logger.Warn("Enqueue stopped early", "enqueued", enqueued, "total", ports.Count())
	}

	_ = pool.Wait()
	return aggregator.Snapshot()
}

func (c *Coordinator) fail(report *Report, err error) (*Report, error) {
	c.setState(JobFailed)
	c.finish(report, report.StartedAt)
	c.logger.ErrorScan("Scan aborted", c.job.Host, err)
	return report, err
}

func (c *Coordinator) finish(report *Report, start time.Time) {
	report.State = c.State()
	report.FinishedAt = time.Now()
	report.Elapsed = report.FinishedAt.Sub(start)
}

// Scan is a convenience wrapper that runs job with opts and returns its report.
func Scan(ctx context.Context, job Job, opts ...Option) (*Report, error) {
	return NewCoordinator(job, opts...).Run(ctx)
}
