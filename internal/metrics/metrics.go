// Package metrics provides monitoring and metrics collection for portsweep.
// It offers a lightweight in-memory Registry with counters, gauges and
// last-value histograms, and a Prometheus-backed recorder for export.
package metrics

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Predefined metric names recorded by the scan engine.
const (
	MetricProbesTotal   = "probes_total"
	MetricProbeDuration = "probe_duration_seconds"
	MetricScansTotal    = "scans_total"
	MetricScanDuration  = "scan_duration_seconds"
	MetricActiveScans   = "scans_active"
	MetricOpenPorts     = "open_ports"
	MetricActiveWorkers = "workers_active"
	MetricQueueDepth    = "queue_depth"
)

// Common label keys.
const (
	LabelOutcome = "outcome"
	LabelState   = "state"
)

// Registry holds all metrics in memory. It implements Recorder, which makes
// it useful for library callers and tests that want to inspect what a scan
// recorded without a Prometheus registry.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.Add(name, 1, labels)
}

// Add increments a counter metric by delta.
func (r *Registry) Add(name string, delta float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += delta
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeCounter,
		Value:     delta,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics[makeKey(name, labels)] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric. Only the last observed
// value is kept.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value = value
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeHistogram,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Value returns the current value of a metric, or 0 if it was never recorded.
func (r *Registry) Value(name string, labels Labels) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if metric, ok := r.metrics[makeKey(name, labels)]; ok {
		return metric.Value
	}
	return 0
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// ObserveProbe implements Recorder.
func (r *Registry) ObserveProbe(outcome string, duration time.Duration) {
	r.Counter(MetricProbesTotal, Labels{LabelOutcome: outcome})
	r.Histogram(MetricProbeDuration, duration.Seconds(), nil)
}

// ScanStarted implements Recorder.
func (r *Registry) ScanStarted() {
	r.Add(MetricActiveScans, 1, nil)
}

// ScanFinished implements Recorder.
func (r *Registry) ScanFinished(state string, duration time.Duration, openPorts int) {
	r.Add(MetricActiveScans, -1, nil)
	r.Counter(MetricScansTotal, Labels{LabelState: state})
	r.Histogram(MetricScanDuration, duration.Seconds(), nil)
	r.Gauge(MetricOpenPorts, float64(openPorts), nil)
}

// SetActiveWorkers implements Recorder.
func (r *Registry) SetActiveWorkers(count int) {
	r.Gauge(MetricActiveWorkers, float64(count), nil)
}

// SetQueueDepth implements Recorder.
func (r *Registry) SetQueueDepth(depth int) {
	r.Gauge(MetricQueueDepth, float64(depth), nil)
}

// makeKey creates a unique key for a metric based on name and labels.
// Label keys are sorted so the key does not depend on map order.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry *Registry
}

// NewTimer creates a timer that records into registry when stopped.
func NewTimer(registry *Registry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop records the elapsed time as a histogram value and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	return duration
}
