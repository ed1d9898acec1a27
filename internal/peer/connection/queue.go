package connection

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// DefaultQueueSize is the number of frames buffered between the reader and
// the processor when no size is configured.
const DefaultQueueSize = 1024

// Backpressure selects what the reader does when the queue is full.
type Backpressure int

const (
	// BackpressureBlock stalls the reader until the processor catches up. The
	// sender then sees TCP flow control.
	BackpressureBlock Backpressure = iota

	// BackpressureDropOldest discards the oldest queued frame to make room.
	BackpressureDropOldest
)

// String returns the configuration name of the policy.
func (b Backpressure) String() string {
	switch b {
	case BackpressureBlock:
		return "block"
	case BackpressureDropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// ParseBackpressure parses "block" or "drop-oldest". Empty means block.
func ParseBackpressure(s string) (Backpressure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return BackpressureBlock, nil
	case "drop-oldest", "drop_oldest":
		return BackpressureDropOldest, nil
	default:
		return 0, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// frameQueue hands frames from exactly one producer (the read loop) to
// exactly one consumer (the process loop).
type frameQueue struct {
	ch      chan []byte
	policy  Backpressure
	dropped atomic.Uint64
}

func newFrameQueue(size int, policy Backpressure) *frameQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &frameQueue{
		ch:     make(chan []byte, size),
		policy: policy,
	}
}

// push enqueues a frame. It returns true if an older frame was discarded to
// make room. With BackpressureBlock it waits until there is room or ctx is done.
func (q *frameQueue) push(ctx context.Context, frame []byte) (bool, error) {
	if q.policy == BackpressureBlock {
		select {
		case q.ch <- frame:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	dropped := false
	for {
		select {
		case q.ch <- frame:
			return dropped, nil
		default:
		}

		// Full: evict the oldest entry. The consumer may have taken it first,
		// in which case the next send succeeds anyway.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}

		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
	}
}

// close signals the consumer that no more frames will arrive. Only the
// producer may call it.
func (q *frameQueue) close() {
	close(q.ch)
}

func (q *frameQueue) depth() int {
	return len(q.ch)
}
