package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// freshRegistry swaps Registry for an empty one and returns a restore func.
func freshRegistry() func() {
	oldRegistry := Registry
	Registry = prometheus.NewRegistry()

	// Re-register standard collectors
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return func() { Registry = oldRegistry }
}

// findMetric returns the first sample of the named family whose labels
// include all of want.
func findMetric(t *testing.T, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, name, labels)
	if m == nil {
		t.Fatalf("metric %s %v not found", name, labels)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, name, labels)
	if m == nil {
		t.Fatalf("metric %s %v not found", name, labels)
	}
	return m.GetGauge().GetValue()
}

func TestInitMetrics(t *testing.T) {
	defer freshRegistry()()

	m := InitMetrics("test-node", ":7780", "1.0.0")
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	// Verify all metrics are initialized
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"FramesSent", m.FramesSent},
		{"FramesReceived", m.FramesReceived},
		{"BytesSent", m.BytesSent},
		{"BytesReceived", m.BytesReceived},
		{"Applied", m.Applied},
		{"DecodeErrors", m.DecodeErrors},
		{"QueueDrops", m.QueueDrops},
		{"QueuedFrames", m.QueuedFrames},
		{"Published", m.Published},
		{"PublishFailures", m.PublishFailures},
		{"Evicted", m.Evicted},
		{"Accepted", m.Accepted},
		{"Dialed", m.Dialed},
		{"DialFailures", m.DialFailures},
		{"DuplicateConnections", m.DuplicateConnections},
		{"Connections", m.Connections},
		{"Transitions", m.Transitions},
		{"NodeInfo", m.NodeInfo},
	}

	for _, tt := range tests {
		if tt.metric == nil {
			t.Errorf("%s is nil", tt.name)
		}
	}
}

func TestInitMetrics_NodeInfo(t *testing.T) {
	defer freshRegistry()()

	_ = InitMetrics("test-node", "10.0.0.1:7780", "1.2.3")

	got := gaugeValue(t, "aaarepl_node_info", map[string]string{
		"node":    "test-node",
		"listen":  "10.0.0.1:7780",
		"version": "1.2.3",
	})
	if got != 1 {
		t.Errorf("node_info = %v, want 1", got)
	}
}

func TestMetricsCounterIncrement(t *testing.T) {
	defer freshRegistry()()

	m := InitMetrics("test-node", ":7780", "1.0.0")

	m.FramesSent.Add(100)
	m.BytesSent.Add(1024)

	if got := counterValue(t, "aaarepl_frames_sent_total", map[string]string{"node": "test-node"}); got != 100 {
		t.Errorf("frames_sent_total = %v, want 100", got)
	}
	if got := counterValue(t, "aaarepl_bytes_sent_total", nil); got != 1024 {
		t.Errorf("bytes_sent_total = %v, want 1024", got)
	}
}

func TestMetricsGaugeSet(t *testing.T) {
	defer freshRegistry()()

	m := InitMetrics("test-node", ":7780", "1.0.0")

	m.Connections.WithLabelValues("open").Set(3)
	m.QueuedFrames.Set(7)

	if got := gaugeValue(t, "aaarepl_connections", map[string]string{"state": "open"}); got != 3 {
		t.Errorf("connections{state=open} = %v, want 3", got)
	}
	if got := gaugeValue(t, "aaarepl_queued_frames", nil); got != 7 {
		t.Errorf("queued_frames = %v, want 7", got)
	}
}
