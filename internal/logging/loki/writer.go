// Package loki provides a zerolog writer that ships node logs to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the Loki writer.
type Config struct {
	URL           string            // Loki base URL, e.g. "http://10.0.0.9:3100"
	Labels        map[string]string // Static stream labels
	BatchSize     int               // Entries per push (default: 100)
	MaxBuffered   int               // Entries kept while Loki is unreachable (default: 10000)
	FlushInterval time.Duration     // default: 5s
	Timeout       time.Duration     // HTTP timeout (default: 10s)
}

// Writer implements io.Writer and pushes log lines to Loki in batches. When
// the buffer is full the oldest lines are discarded so logging never blocks.
type Writer struct {
	url    string
	labels map[string]string
	client *http.Client

	mu          sync.Mutex
	buffer      []entry
	batchSize   int
	maxBuffered int

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	flushInterval time.Duration
	flushing      atomic.Bool
	flushTrigger  chan struct{}

	dropped     atomic.Uint64
	flushErrors atomic.Uint64
}

type entry struct {
	timestamp time.Time
	line      string
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewWriter creates a Loki writer. Call Start to begin pushing.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = max(10000, cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	labels := map[string]string{"job": "aaarepl"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &Writer{
		url:           strings.TrimSuffix(cfg.URL, "/") + "/loki/api/v1/push",
		labels:        labels,
		client:        &http.Client{Timeout: cfg.Timeout},
		buffer:        make([]entry, 0, cfg.BatchSize),
		batchSize:     cfg.BatchSize,
		maxBuffered:   cfg.MaxBuffered,
		flushInterval: cfg.FlushInterval,
		flushTrigger:  make(chan struct{}, 1),
		cancel:        func() {},
	}
}

// Write implements io.Writer. It never returns an error so an unreachable
// Loki cannot disrupt logging.
func (w *Writer) Write(p []byte) (n int, err error) {
	// zerolog reuses p
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	if len(w.buffer) >= w.maxBuffered {
		w.buffer = w.buffer[1:]
		w.dropped.Add(1)
	}
	w.buffer = append(w.buffer, entry{timestamp: time.Now(), line: line})
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushTrigger <- struct{}{}:
		default:
		}
	}

	return len(p), nil
}

// Start begins the background flush loop.
func (w *Writer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushTrigger:
				w.flush()
			}
		}
	}()
}

// Stop ends the flush loop and pushes what is left.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
	w.flush()
}

// flush pushes up to batchSize buffered entries per request until the
// buffer is empty or a push fails.
func (w *Writer) flush() {
	if !w.flushing.CompareAndSwap(false, true) {
		return
	}
	defer w.flushing.Store(false)

	for {
		w.mu.Lock()
		n := min(len(w.buffer), w.batchSize)
		if n == 0 {
			w.mu.Unlock()
			return
		}
		batch := make([]entry, n)
		copy(batch, w.buffer[:n])
		w.buffer = w.buffer[n:]
		w.mu.Unlock()

		if err := w.push(batch); err != nil {
			// Report to stderr, not the logger, to avoid a feedback loop.
			if w.flushErrors.Add(1) <= 3 {
				fmt.Fprintf(os.Stderr, "loki: %v\n", err)
			}
			return
		}
	}
}

func (w *Writer) push(batch []entry) error {
	values := make([][]string, len(batch))
	for i, e := range batch {
		// Loki expects nanosecond timestamps as strings
		values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
	}

	data, err := json.Marshal(pushRequest{
		Streams: []stream{{Stream: w.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send logs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// Buffered returns the number of entries waiting to be pushed.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Dropped returns how many entries were discarded because the buffer was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// FlushErrors returns the number of failed pushes.
func (w *Writer) FlushErrors() uint64 {
	return w.flushErrors.Load()
}
