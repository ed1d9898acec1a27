// Package tracing keeps a rolling runtime trace that can be downloaded after
// an incident, using the runtime FlightRecorder.
package tracing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/trace"
	"sync"
	"time"
)

// DefaultBufferSize is the default size of the trace ring buffer (10MB).
const DefaultBufferSize = 10 * 1024 * 1024

// DefaultMinAge is how much history the recorder tries to keep.
const DefaultMinAge = 30 * time.Second

// ErrNotEnabled is returned when a snapshot is requested from a recorder that
// is not running.
var ErrNotEnabled = errors.New("tracing not enabled")

// Recorder wraps a runtime flight recorder. Only one may run per process.
type Recorder struct {
	mu       sync.Mutex
	recorder *trace.FlightRecorder
}

// Start starts a flight recorder with a ring buffer of bufferSize bytes.
func Start(bufferSize int64) (*Recorder, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   DefaultMinAge,
		MaxBytes: uint64(bufferSize),
	})
	if err := fr.Start(); err != nil {
		return nil, fmt.Errorf("start flight recorder: %w", err)
	}

	return &Recorder{recorder: fr}, nil
}

// Enabled reports whether the recorder is running. A nil Recorder is disabled.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorder != nil
}

// Snapshot writes the current trace buffer to w in `go tool trace` format.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotEnabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recorder == nil {
		return ErrNotEnabled
	}
	_, err := r.recorder.WriteTo(w)
	return err
}

// Stop stops the recorder. It is safe to call Stop multiple times.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.Stop()
		r.recorder = nil
	}
}

// Handler serves a trace snapshot as a file download.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Enabled() {
			http.Error(w, ErrNotEnabled.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="aaarepl-%s.trace"`, time.Now().UTC().Format("20060102T150405Z")))

		if err := r.Snapshot(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
