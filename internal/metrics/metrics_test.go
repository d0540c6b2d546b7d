package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestMetricType(t *testing.T) {
	tests := []struct {
		name       string
		metricType MetricType
		expected   string
	}{
		{"counter type", TypeCounter, "counter"},
		{"gauge type", TypeGauge, "gauge"},
		{"histogram type", TypeHistogram, "histogram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.metricType) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.metricType))
			}
		})
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("Registry should not be nil")
	}
	if !registry.IsEnabled() {
		t.Error("Registry should be enabled by default")
	}
	if len(registry.GetMetrics()) != 0 {
		t.Error("New registry should be empty")
	}
}

func TestRegistryEnableDisable(t *testing.T) {
	registry := NewRegistry()

	registry.SetEnabled(false)
	registry.Counter("disabled_counter", nil)
	registry.Gauge("disabled_gauge", 1, nil)
	registry.Histogram("disabled_histogram", 1, nil)

	if n := len(registry.GetMetrics()); n != 0 {
		t.Errorf("Disabled registry recorded %d metrics", n)
	}

	registry.SetEnabled(true)
	registry.Counter("enabled_counter", nil)
	if got := registry.Value("enabled_counter", nil); got != 1 {
		t.Errorf("Expected counter 1 after re-enabling, got %v", got)
	}
}

func TestRegistryCounter(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelOutcome: "open"}

	registry.Counter("probes", labels)
	registry.Counter("probes", labels)
	registry.Add("probes", 3, labels)
	registry.Counter("probes", Labels{LabelOutcome: "closed"})

	if got := registry.Value("probes", labels); got != 5 {
		t.Errorf("Expected 5, got %v", got)
	}
	if got := registry.Value("probes", Labels{LabelOutcome: "closed"}); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}

	metrics := registry.GetMetrics()
	if len(metrics) != 2 {
		t.Fatalf("Expected 2 metrics, got %d", len(metrics))
	}
	for _, m := range metrics {
		if m.Type != TypeCounter {
			t.Errorf("Expected counter type, got %s", m.Type)
		}
	}
}

func TestRegistryGaugeAndHistogram(t *testing.T) {
	registry := NewRegistry()

	registry.Gauge("depth", 10, nil)
	registry.Gauge("depth", 4, nil)
	registry.Histogram("latency", 0.5, nil)
	registry.Histogram("latency", 0.25, nil)

	if got := registry.Value("depth", nil); got != 4 {
		t.Errorf("Expected gauge 4, got %v", got)
	}
	if got := registry.Value("latency", nil); got != 0.25 {
		t.Errorf("Expected histogram 0.25, got %v", got)
	}
	if got := registry.Value("missing", nil); got != 0 {
		t.Errorf("Expected 0 for missing metric, got %v", got)
	}
}

func TestMakeKeyIsOrderIndependent(t *testing.T) {
	a := makeKey("m", Labels{"a": "1", "b": "2", "c": "3"})
	b := makeKey("m", Labels{"c": "3", "a": "1", "b": "2"})
	if a != b {
		t.Errorf("Keys differ: %q vs %q", a, b)
	}
	if a != "m:a=1:b=2:c=3" {
		t.Errorf("Unexpected key %q", a)
	}
	if makeKey("m", nil) != "m" {
		t.Error("Key without labels should be the name")
	}
}

func TestLabelsAreCopied(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelState: "completed"}
	registry.Counter(MetricScansTotal, labels)
	labels[LabelState] = "mutated"

	for _, m := range registry.GetMetrics() {
		if m.Labels[LabelState] != "completed" {
			t.Errorf("Registry kept a reference to caller labels: %v", m.Labels)
		}
	}
}

func TestRegistryRecorder(t *testing.T) {
	registry := NewRegistry()

	registry.ScanStarted()
	registry.ObserveProbe("open", time.Millisecond)
	registry.ObserveProbe("closed", time.Millisecond)
	registry.ObserveProbe("closed", 2*time.Millisecond)
	registry.SetActiveWorkers(8)
	registry.SetQueueDepth(100)
	registry.ScanFinished("completed", time.Second, 1)

	checks := []struct {
		name   string
		labels Labels
		want   float64
	}{
		{MetricProbesTotal, Labels{LabelOutcome: "open"}, 1},
		{MetricProbesTotal, Labels{LabelOutcome: "closed"}, 2},
		{MetricProbeDuration, nil, 0.002},
		{MetricActiveScans, nil, 0},
		{MetricScansTotal, Labels{LabelState: "completed"}, 1},
		{MetricScanDuration, nil, 1},
		{MetricOpenPorts, nil, 1},
		{MetricActiveWorkers, nil, 8},
		{MetricQueueDepth, nil, 100},
	}
	for _, c := range checks {
		if got := registry.Value(c.name, c.labels); got != c.want {
			t.Errorf("%s%v: expected %v, got %v", c.name, c.labels, c.want, got)
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				registry.ObserveProbe("timeout", time.Microsecond)
				registry.SetQueueDepth(1)
				_ = registry.GetMetrics()
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * perGoroutine)
	if got := registry.Value(MetricProbesTotal, Labels{LabelOutcome: "timeout"}); got != want {
		t.Errorf("Expected %v probes, got %v", want, got)
	}
}

func TestRegistryReset(t *testing.T) {
	registry := NewRegistry()
	registry.Counter("c", nil)
	registry.Reset()
	if len(registry.GetMetrics()) != 0 {
		t.Error("Reset should clear all metrics")
	}
}

func TestTimer(t *testing.T) {
	registry := NewRegistry()
	timer := NewTimer(registry, "op_seconds", Labels{"op": "scan"})
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()

	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected at least 5ms, got %v", elapsed)
	}
	if got := registry.Value("op_seconds", Labels{"op": "scan"}); got <= 0 {
		t.Errorf("Expected positive duration, got %v", got)
	}
}
