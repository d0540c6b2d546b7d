// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

// Recorder defines the metrics hooks used by the scan engine.
// This interface allows scans to run with or without a Prometheus registry.
type Recorder interface {
	// ObserveProbe records one finished connection attempt and its outcome.
	ObserveProbe(outcome string, duration time.Duration)

	// ScanStarted marks a scan job as running.
	ScanStarted()

	// ScanFinished records the terminal state of a scan job.
	ScanFinished(state string, duration time.Duration, openPorts int)

	// SetActiveWorkers sets the number of workers currently running.
	SetActiveWorkers(count int)

	// SetQueueDepth sets the number of targets waiting in the work queue.
	SetQueueDepth(depth int)
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) ObserveProbe(string, time.Duration) {}
func (Noop) ScanStarted() {}
func (Noop) ScanFinished(string, time.Duration, int) {}
func (Noop) SetActiveWorkers(int) {}
func (Noop) SetQueueDepth(int) {}

// Ensure that both implementations satisfy Recorder.
var (
	_ Recorder = Noop{}
	_ Recorder = (*Registry)(nil)
	_ Recorder = (*PrometheusMetrics)(nil)
)
