package pipeline

import (
	"sync"
	"sync/atomic"
)

// correlationShards keeps unrelated identities off each other's lock.
// Must be a power of two.
const correlationShards = 64

type correlationShard struct {
	mu      sync.Mutex
	pending map[uint32]uint64 // identity -> start timestamp (ns)
}

// CorrelationTable pairs start and end timestamps per operation identity
// (pid). At most one start is pending per identity: a second start for
// the same identity overwrites the first and the earlier interval is
// silently lost. An identity that starts but never ends would leak its
// entry, so the table carries a configurable bound; when a shard insert
// would exceed it, the oldest pending start in that shard is evicted and
// counted.
type CorrelationTable struct {
	shards [correlationShards]correlationShard

	size       atomic.Int64
	maxPending int
	evicted    atomic.Int64
}

// NewCorrelationTable creates a table bounded to maxPending entries.
// maxPending <= 0 means unbounded.
func NewCorrelationTable(maxPending int) *CorrelationTable {
	t := &CorrelationTable{maxPending: maxPending}
	for i := range t.shards {
		t.shards[i].pending = make(map[uint32]uint64)
	}
	return t
}

func (t *CorrelationTable) shard(key uint32) *correlationShard {
	return &t.shards[key&(correlationShards-1)]
}

// RecordStart inserts or overwrites the pending entry for key. It always
// succeeds.
func (t *CorrelationTable) RecordStart(key uint32, timestamp uint64) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[key]; !exists {
		if t.maxPending > 0 && int(t.size.Load()) >= t.maxPending {
			t.evictOldestLocked(s)
		}
		t.size.Add(1)
	}
	s.pending[key] = timestamp
}

// RecordEnd consumes the pending entry for key and returns the elapsed
// duration. A miss (no matching start, or already consumed) returns
// false and mutates nothing.
func (t *CorrelationTable) RecordEnd(key uint32, timestamp uint64) (uint64, bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.pending[key]
	if !ok {
		return 0, false
	}
	delete(s.pending, key)
	t.size.Add(-1)
	return timestamp - start, true
}

// evictOldestLocked drops the entry with the smallest start timestamp in
// s. Caller holds s.mu.
func (t *CorrelationTable) evictOldestLocked(s *correlationShard) {
	var (
		oldestKey uint32
		oldestTS  uint64
		found     bool
	)
	for k, ts := range s.pending {
		if !found || ts < oldestTS {
			oldestKey, oldestTS, found = k, ts, true
		}
	}
	if !found {
		return
	}
	delete(s.pending, oldestKey)
	t.size.Add(-1)
	t.evicted.Add(1)
}

// Pending returns the number of unmatched starts currently held.
func (t *CorrelationTable) Pending() int {
	return int(t.size.Load())
}

// Evicted returns how many pending starts were discarded to honor the
// bound.
func (t *CorrelationTable) Evicted() int64 {
	return t.evicted.Load()
}
