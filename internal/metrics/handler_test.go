package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandler(t *testing.T) {
	defer freshRegistry()()

	// Initialize metrics
	m := InitMetrics("test-node", ":7780", "1.0.0")

	// Set some values
	m.FramesSent.Add(100)
	m.QueuedFrames.Set(5)

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "application/openmetrics-text") {
		t.Errorf("Unexpected content type: %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	bodyStr := string(body)

	expectedMetrics := []string{
		"aaarepl_frames_sent_total",
		"aaarepl_queued_frames",
		"aaarepl_node_info",
		"go_goroutines",       // Standard Go metrics
		"process_cpu_seconds", // Standard process metrics
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("Expected metric %s not found in response", metric)
		}
	}

	if !strings.Contains(bodyStr, `aaarepl_frames_sent_total{node="test-node"} 100`) {
		t.Error("Expected frames_sent_total with value 100")
	}

	if !strings.Contains(bodyStr, `aaarepl_queued_frames{node="test-node"} 5`) {
		t.Error("Expected queued_frames with value 5")
	}
}

func TestHandler_EmptyRegistry(t *testing.T) {
	oldRegistry := Registry
	Registry = prometheus.NewRegistry()
	defer func() { Registry = oldRegistry }()

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	// Should still return 200 OK
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestHandler_LabeledMetrics(t *testing.T) {
	defer freshRegistry()()

	m := InitMetrics("test-node", ":7780", "1.0.0")

	m.Connections.WithLabelValues("open").Set(2)
	m.Transitions.WithLabelValues("open", "draining").Inc()

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, `aaarepl_connections{node="test-node",state="open"} 2`) {
		t.Error("Expected connections gauge for open state")
	}

	if !strings.Contains(bodyStr, `aaarepl_connection_transitions_total{from="open",node="test-node",to="draining"} 1`) {
		t.Error("Expected transition counter for open -> draining")
	}
}
