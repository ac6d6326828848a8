package pipeline

import (
	"sync"
	"sync/atomic"
)

// Op classifies a correlated syscall operation. The values match the
// keys the kernel side historically used for its aggregation map.
type Op uint32

const (
	OpWrite Op = 0
	OpRead  Op = 1
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "sys_write"
	case OpRead:
		return "sys_read"
	default:
		return "unknown"
	}
}

// IOCounter tallies correlated operations of one kind. Fields are
// monotonic for the life of the process and updated with atomic
// fetch-and-add, never under a lock spanning both fields.
type IOCounter struct {
	Count         atomic.Uint64
	TotalDuration atomic.Uint64 // nanoseconds
}

// Add folds one completed operation into the counter.
func (c *IOCounter) Add(duration uint64) {
	c.Count.Add(1)
	c.TotalDuration.Add(duration)
}

// DiskCounter tracks one block device's access pattern. LastSector zero
// is the never-seen sentinel; the classifier maintains it as the next
// expected contiguous sector.
type DiskCounter struct {
	LastSector atomic.Uint64
	Bytes      atomic.Uint64
	Sequential atomic.Uint64
	Random     atomic.Uint64
}

// CounterStore holds every aggregate counter keyed by its classification
// dimension. Records are created lazily on first observation and never
// deleted; racing initializers converge on a single instance per key.
type CounterStore struct {
	io    sync.Map // Op -> *IOCounter
	disk  sync.Map // uint32 device id -> *DiskCounter
	named sync.Map // CounterID -> *atomic.Uint64

	maxDevices     int
	deviceCount    atomic.Int64
	devicesSkipped atomic.Int64
}

// NewCounterStore creates a store tracking at most maxDevices distinct
// block devices. maxDevices <= 0 means unbounded.
func NewCounterStore(maxDevices int) *CounterStore {
	return &CounterStore{maxDevices: maxDevices}
}

// IO returns the counter for op, initializing it on first use.
func (s *CounterStore) IO(op Op) *IOCounter {
	if v, ok := s.io.Load(op); ok {
		return v.(*IOCounter)
	}
	v, _ := s.io.LoadOrStore(op, &IOCounter{})
	return v.(*IOCounter)
}

// Disk returns the counter for dev, initializing it on first use. Once
// the device cap is reached, unseen devices are not tracked: the second
// return is false and the skip is surfaced through DevicesSkipped rather
// than as an error. Evicting a live counter would break monotonicity, so
// the cap rejects instead.
func (s *CounterStore) Disk(dev uint32) (*DiskCounter, bool) {
	if v, ok := s.disk.Load(dev); ok {
		return v.(*DiskCounter), true
	}
	if s.maxDevices > 0 && int(s.deviceCount.Load()) >= s.maxDevices {
		s.devicesSkipped.Add(1)
		return nil, false
	}
	v, loaded := s.disk.LoadOrStore(dev, &DiskCounter{})
	if !loaded {
		s.deviceCount.Add(1)
	}
	return v.(*DiskCounter), true
}

// Named returns the plain tally counter for id, initializing it on first
// use.
func (s *CounterStore) Named(id CounterID) *atomic.Uint64 {
	if v, ok := s.named.Load(id); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := s.named.LoadOrStore(id, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// DevicesSkipped returns how many disk observations hit the device cap.
func (s *CounterStore) DevicesSkipped() int64 {
	return s.devicesSkipped.Load()
}

// TrackedDevices returns the number of distinct devices seen so far.
func (s *CounterStore) TrackedDevices() int {
	return int(s.deviceCount.Load())
}
