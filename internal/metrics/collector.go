package metrics

import (
	"context"
	"time"

	"github.com/tunnelmesh/aaarepl/internal/cluster"
	"github.com/tunnelmesh/aaarepl/internal/peer/connection"
)

// NodeSource is the part of a cluster node the collector reads.
type NodeSource interface {
	Stats() cluster.Stats
	AllInfo() []connection.ConnectionInfo
}

// Collector periodically copies node and connection counters into
// Prometheus metrics. Counters only ever grow by positive deltas.
type Collector struct {
	metrics *ReplicationMetrics
	node    NodeSource

	// Last snapshots for delta calculation
	lastNode  cluster.Stats
	lastConns map[string]connection.Stats // by connection ID
}

// NewCollector creates a new metrics collector.
func NewCollector(m *ReplicationMetrics, node NodeSource) *Collector {
	return &Collector{
		metrics:   m,
		node:      node,
		lastConns: make(map[string]connection.Stats),
	}
}

// Collect updates all metrics from the current state.
func (c *Collector) Collect() {
	if c.node == nil {
		return
	}
	c.collectNodeStats()
	c.collectConnectionStats()
}

// Run collects every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

func addDelta(counter interface{ Add(float64) }, current, last uint64) {
	if current > last {
		counter.Add(float64(current - last))
	}
}

func (c *Collector) collectNodeStats() {
	stats := c.node.Stats()
	last := c.lastNode

	addDelta(c.metrics.Published, stats.Published, last.Published)
	addDelta(c.metrics.PublishFailures, stats.PublishFailures, last.PublishFailures)
	addDelta(c.metrics.Evicted, stats.Evicted, last.Evicted)
	addDelta(c.metrics.Accepted, stats.Accepted, last.Accepted)
	addDelta(c.metrics.Dialed, stats.Dialed, last.Dialed)
	addDelta(c.metrics.DialFailures, stats.DialFailures, last.DialFailures)
	addDelta(c.metrics.DuplicateConnections, stats.Duplicates, last.Duplicates)

	// Store current for next delta
	c.lastNode = stats
}

// collectConnectionStats sums per-connection deltas. Counters of a
// connection that closed since the previous pass are lost.
func (c *Collector) collectConnectionStats() {
	infos := c.node.AllInfo()

	byState := make(map[connection.State]int)
	queued := 0
	seen := make(map[string]connection.Stats, len(infos))

	for _, info := range infos {
		byState[info.State]++
		queued += info.QueueDepth

		s := info.Stats
		last := c.lastConns[info.ID]

		addDelta(c.metrics.FramesSent, s.FramesSent, last.FramesSent)
		addDelta(c.metrics.FramesReceived, s.FramesReceived, last.FramesReceived)
		addDelta(c.metrics.BytesSent, s.BytesSent, last.BytesSent)
		addDelta(c.metrics.BytesReceived, s.BytesReceived, last.BytesReceived)
		addDelta(c.metrics.Applied, s.Applied, last.Applied)
		addDelta(c.metrics.QueueDrops, s.Dropped, last.Dropped)
		addDelta(c.metrics.DecodeErrors.WithLabelValues("malformed"), s.DecodeErrors, last.DecodeErrors)
		addDelta(c.metrics.DecodeErrors.WithLabelValues("unknown_type"), s.UnknownTypes, last.UnknownTypes)
		addDelta(c.metrics.DecodeErrors.WithLabelValues("listener_panic"), s.ListenerPanics, last.ListenerPanics)

		seen[info.ID] = s
	}
	c.lastConns = seen

	for _, state := range []connection.State{
		connection.StateConnecting,
		connection.StateOpen,
		connection.StateDraining,
		connection.StateClosed,
	} {
		c.metrics.Connections.WithLabelValues(state.String()).Set(float64(byState[state]))
	}
	c.metrics.QueuedFrames.Set(float64(queued))
}

// TransitionObserver returns a connection observer that counts state transitions.
func (c *Collector) TransitionObserver() connection.Observer {
	return TransitionObserver(c.metrics)
}

// TransitionObserver counts state transitions into m. Nodes take their
// observers at construction, before a Collector can exist.
func TransitionObserver(m *ReplicationMetrics) connection.Observer {
	return connection.ObserverFunc(func(t connection.Transition) {
		m.Transitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
	})
}
