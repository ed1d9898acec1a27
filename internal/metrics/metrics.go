// Package metrics provides Prometheus metrics for aaarepl nodes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all aaarepl metrics.
var Registry = prometheus.NewRegistry()

// ReplicationMetrics holds all Prometheus metrics for a replication node.
type ReplicationMetrics struct {
	// Transport (counters, summed over connections)
	FramesSent     prometheus.Counter
	FramesReceived prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter

	// Processing
	Applied      prometheus.Counter
	DecodeErrors *prometheus.CounterVec // labels: reason
	QueueDrops   prometheus.Counter
	QueuedFrames prometheus.Gauge

	// Node
	Published            prometheus.Counter
	PublishFailures      prometheus.Counter
	Evicted              prometheus.Counter
	Accepted             prometheus.Counter
	Dialed               prometheus.Counter
	DialFailures         prometheus.Counter
	DuplicateConnections prometheus.Counter

	// Connection lifecycle
	Connections *prometheus.GaugeVec   // labels: state
	Transitions *prometheus.CounterVec // labels: from, to

	// Node info (constant labels exposed as a gauge)
	NodeInfo *prometheus.GaugeVec // labels: listen, version
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics initializes all metrics with the given node name as a constant label.
func InitMetrics(nodeName, listenAddr, version string) *ReplicationMetrics {
	constLabels := prometheus.Labels{
		"node": nodeName,
	}
	factory := promauto.With(Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	m := &ReplicationMetrics{
		FramesSent:     counter("aaarepl_frames_sent_total", "Total replication frames written to peers"),
		FramesReceived: counter("aaarepl_frames_received_total", "Total replication frames read from peers"),
		BytesSent:      counter("aaarepl_bytes_sent_total", "Total envelope bytes written to peers"),
		BytesReceived:  counter("aaarepl_bytes_received_total", "Total envelope bytes read from peers"),
		Applied:        counter("aaarepl_applied_total", "Replicated mutations handed to the local store"),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "aaarepl_dropped_messages_total",
			Help:        "Received messages dropped before reaching the store",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		QueueDrops: counter("aaarepl_queue_drops_total", "Frames discarded by drop-oldest backpressure"),
		QueuedFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "aaarepl_queued_frames",
			Help:        "Frames waiting in connection queues",
			ConstLabels: constLabels,
		}),

		Published:            counter("aaarepl_publish_total", "Local mutations published to the cluster"),
		PublishFailures:      counter("aaarepl_publish_failures_total", "Per-peer delivery failures during publish"),
		Evicted:              counter("aaarepl_evicted_total", "Connections evicted after a write failure"),
		Accepted:             counter("aaarepl_accepted_total", "Inbound connections accepted"),
		Dialed:               counter("aaarepl_dialed_total", "Outbound connections established"),
		DialFailures:         counter("aaarepl_dial_failures_total", "Outbound connection attempts that failed"),
		DuplicateConnections: counter("aaarepl_duplicate_connections_total", "Connections closed because the link already existed"),

		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "aaarepl_connections",
			Help:        "Connections in the node table by state",
			ConstLabels: constLabels,
		}, []string{"state"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "aaarepl_connection_transitions_total",
			Help:        "Connection state transitions",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),

		NodeInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "aaarepl_node_info",
			Help:        "Node information",
			ConstLabels: constLabels,
		}, []string{"listen", "version"}),
	}

	m.NodeInfo.WithLabelValues(listenAddr, version).Set(1)

	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
