package pipeline

import (
	"sync"
	"sync/atomic"
)

// TraceEvent is one retained deep-trace occurrence.
type TraceEvent struct {
	Timestamp uint64
	Counter   CounterID
}

// TraceLog retains individual deep-trace events up to a fixed capacity.
// Past the cap, events are still tallied by the counter store but no
// longer retained here; the overflow count says how many were shed.
type TraceLog struct {
	mu       sync.Mutex
	events   []TraceEvent
	capacity int
	overflow atomic.Int64
}

// NewTraceLog creates a log holding at most capacity events.
func NewTraceLog(capacity int) *TraceLog {
	return &TraceLog{
		events:   make([]TraceEvent, 0, capacity),
		capacity: capacity,
	}
}

// Append retains one event, or counts it as overflow once full.
func (l *TraceLog) Append(timestamp uint64, id CounterID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= l.capacity {
		l.overflow.Add(1)
		return
	}
	l.events = append(l.events, TraceEvent{Timestamp: timestamp, Counter: id})
}

// Events returns a copy of the retained events in arrival order.
func (l *TraceLog) Events() []TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TraceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Overflow returns how many events were shed after the log filled.
func (l *TraceLog) Overflow() int64 {
	return l.overflow.Load()
}
