package pipeline

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrChannelClosed is returned by Poll once the transport handle has been
// released underneath the consumer. It is fatal for the consumer loop.
var ErrChannelClosed = errors.New("transport channel closed")

// maxPollBatch bounds how many records one poll hands to the dispatcher
// so a saturated channel cannot starve the cancellation check.
const maxPollBatch = 4096

// TransportChannel is the bounded multi-producer, single-consumer queue
// between instrumentation producers and the consumer loop. Submit never
// blocks: when the channel is at capacity the record is dropped and the
// drop count incremented. FIFO order holds per producer; concurrent
// producers have no relative order guarantee.
type TransportChannel struct {
	ch     chan Record
	closed atomic.Bool

	submitted atomic.Int64
	dropped   atomic.Int64

	logger *zap.Logger
}

// NewTransportChannel creates a channel with the given slot capacity.
func NewTransportChannel(capacity int, logger *zap.Logger) *TransportChannel {
	return &TransportChannel{
		ch:     make(chan Record, capacity),
		logger: logger,
	}
}

// Submit offers one record to the channel. It returns false when the
// record was dropped, either because the channel is full or because it
// has been closed. Safe for concurrent use from any number of producers.
func (t *TransportChannel) Submit(r Record) bool {
	if t.closed.Load() {
		t.dropped.Add(1)
		return false
	}

	// The close below can race with a submit in flight; a send on the
	// closed channel panics and is counted as a drop.
	defer func() {
		if recover() != nil {
			t.dropped.Add(1)
		}
	}()

	select {
	case t.ch <- r:
		t.submitted.Add(1)
		return true
	default:
		t.dropped.Add(1)
		if t.logger != nil {
			t.logger.Debug("transport channel full, dropping record",
				zap.String("kind", r.Kind.String()),
				zap.Uint32("pid", r.PID),
			)
		}
		return false
	}
}

// Poll returns the records that became available within timeout, up to
// maxPollBatch. An empty slice on timeout is not an error. Only the
// single consumer may call Poll; it returns ErrChannelClosed once the
// channel is closed and drained.
func (t *TransportChannel) Poll(timeout time.Duration) ([]Record, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var batch []Record

	select {
	case r, ok := <-t.ch:
		if !ok {
			return nil, ErrChannelClosed
		}
		batch = append(batch, r)
	case <-timer.C:
		return nil, nil
	}

	for len(batch) < maxPollBatch {
		select {
		case r, ok := <-t.ch:
			if !ok {
				// Hand back what we already drained; the next poll
				// reports the closed channel.
				return batch, nil
			}
			batch = append(batch, r)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Close releases the channel. Idempotent. Submit calls racing with Close
// are counted as drops; the consumer observes ErrChannelClosed after the
// buffered records are drained.
func (t *TransportChannel) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	close(t.ch)
}

// Submitted returns the number of records accepted so far.
func (t *TransportChannel) Submitted() int64 {
	return t.submitted.Load()
}

// Dropped returns the number of records dropped so far.
func (t *TransportChannel) Dropped() int64 {
	return t.dropped.Load()
}

// Capacity returns the configured slot capacity.
func (t *TransportChannel) Capacity() int {
	return cap(t.ch)
}

// Utilization returns the percentage of slots currently occupied.
func (t *TransportChannel) Utilization() float64 {
	if cap(t.ch) == 0 {
		return 0
	}
	return float64(len(t.ch)) / float64(cap(t.ch)) * 100
}
