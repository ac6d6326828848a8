package pipeline

import "sync/atomic"

// IOStats is a point-in-time copy of one operation kind's counter.
type IOStats struct {
	Count         uint64
	TotalDuration uint64
	AvgDuration   uint64
}

// DiskStats is a point-in-time copy of one device's counter.
type DiskStats struct {
	Bytes      uint64
	Sequential uint64
	Random     uint64
}

// Snapshot is a read-only view of every aggregate the pipeline holds.
// The reporting collaborator pulls it; nothing is pushed.
type Snapshot struct {
	IO    map[Op]IOStats
	Disks map[uint32]DiskStats
	Named map[CounterID]uint64

	Submitted      int64
	Dropped        int64
	UnmatchedEnds  int64
	PendingStarts  int
	EvictedStarts  int64
	DevicesSkipped int64
	TraceOverflow  int64
}

func (s *CounterStore) snapshotInto(snap *Snapshot) {
	s.io.Range(func(k, v any) bool {
		c := v.(*IOCounter)
		count := c.Count.Load()
		total := c.TotalDuration.Load()
		st := IOStats{Count: count, TotalDuration: total}
		if count > 0 {
			st.AvgDuration = total / count
		}
		snap.IO[k.(Op)] = st
		return true
	})
	s.disk.Range(func(k, v any) bool {
		c := v.(*DiskCounter)
		snap.Disks[k.(uint32)] = DiskStats{
			Bytes:      c.Bytes.Load(),
			Sequential: c.Sequential.Load(),
			Random:     c.Random.Load(),
		}
		return true
	})
	s.named.Range(func(k, v any) bool {
		snap.Named[k.(CounterID)] = v.(*atomic.Uint64).Load()
		return true
	})
}
