// Package watch repeats a scan on a cron schedule and reports which ports
// opened or closed between consecutive runs.
package watch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/scanning"
)

// Runner executes one scan.
type Runner func(ctx context.Context) (*scanning.Report, error)

// Handler receives every finished report with its diff against the
// previous complete report. It is called from the scheduler goroutine.
type Handler func(report *scanning.Report, diff Diff)

// Diff lists ports whose open state changed between two reports.
type Diff struct {
	Opened []int `json:"opened" yaml:"opened"`
	Closed []int `json:"closed" yaml:"closed"`
	// First is set when there was no previous report to compare with.
	First bool `json:"first" yaml:"first"`
}

// Changed reports whether any port changed state.
func (d Diff) Changed() bool {
	return len(d.Opened) > 0 || len(d.Closed) > 0
}

// Compare returns the ports open in curr but not prev, and the reverse.
// Only ports inside both reports' ranges are considered.
func Compare(prev, curr *scanning.Report) Diff {
	if prev == nil {
		return Diff{Opened: slices.Clone(curr.OpenPorts), Closed: []int{}, First: true}
	}

	inBoth := func(port int) bool {
		return prev.PortRange.Contains(port) && curr.PortRange.Contains(port)
	}

	diff := Diff{Opened: []int{}, Closed: []int{}}
	for _, p := range curr.OpenPorts {
		if inBoth(p) && !slices.Contains(prev.OpenPorts, p) {
			diff.Opened = append(diff.Opened, p)
		}
	}
	for _, p := range prev.OpenPorts {
		if inBoth(p) && !slices.Contains(curr.OpenPorts, p) {
			diff.Closed = append(diff.Closed, p)
		}
	}
	return diff
}

// Watcher runs a scan on a schedule. Runs never overlap: a tick that fires
// while the previous scan is still going is skipped.
type Watcher struct {
	schedule string
	run      Runner
	handler  Handler
	logger   *logging.Logger
	cron     *cron.Cron

	mu       sync.Mutex
	previous *scanning.Report
	runs     int
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a watcher. schedule accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 5m".
func New(schedule string, run Runner, handler Handler, logger *logging.Logger) (*Watcher, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("invalid schedule %q", schedule), err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if handler == nil {
		handler = func(*scanning.Report, Diff) {}
	}

	logger = logger.WithComponent("watch")
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		schedule: schedule,
		run:      run,
		handler:  handler,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetBaseline sets the report the first run is compared against.
func (w *Watcher) SetBaseline(report *scanning.Report) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.previous = report
}

// Start schedules the scan. It does not run one immediately; call RunOnce
// first for that.
func (w *Watcher) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		if _, err := w.RunOnce(w.ctx); err != nil {
			w.logger.Warn("Scheduled scan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}

	w.cron.Start()
	w.logger.Info("Watching", "schedule", w.schedule, "next_run", w.NextRun())
	return nil
}

// Stop cancels any running scan and waits for it to return.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
	w.logger.Info("Watch stopped", "runs", w.Runs())
}

// NextRun returns when the next scheduled scan fires, or the zero time if
// the watcher has not been started.
func (w *Watcher) NextRun() time.Time {
	entries := w.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Runs returns the number of scans executed.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// RunOnce runs one scan, diffs it against the previous complete report and
// passes both to the handler. Incomplete reports are handed to the handler
// with an empty diff and do not replace the baseline.
func (w *Watcher) RunOnce(ctx context.Context) (Diff, error) {
	report, err := w.run(ctx)

	w.mu.Lock()
	w.runs++
	prev := w.previous
	w.mu.Unlock()

	if report == nil {
		return Diff{}, err
	}

	if !report.Complete() {
		diff := Diff{Opened: []int{}, Closed: []int{}}
		w.handler(report, diff)
		return diff, err
	}

	diff := Compare(prev, report)
	w.mu.Lock()
	w.previous = report
	w.mu.Unlock()

	if diff.Changed() && !diff.First {
		w.logger.Info("Open ports changed",
			"target", report.Host,
			"opened", diff.Opened,
			"closed", diff.Closed)
	}
	w.handler(report, diff)
	return diff, err
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
