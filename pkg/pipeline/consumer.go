package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// State describes where the consumer loop is in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pipeline wires the transport channel, correlation table, counter store
// and disk pattern classifier behind one consumer loop. Producers only
// call Submit; the single consumer goroutine owns every aggregate
// mutation, so no lock exists that a producer could contend on outside
// the channel itself.
type Pipeline struct {
	cfg    *Config
	logger *zap.Logger

	channel    *TransportChannel
	table      *CorrelationTable
	store      *CounterStore
	classifier *DiskPatternClassifier
	traceLog   *TraceLog // nil in cheap counting mode

	state         atomic.Int32
	unmatchedEnds atomic.Int64

	// OpenTelemetry instrumentation
	recordsProcessed metric.Int64Counter
	recordsUnmatched metric.Int64Counter
	startsEvicted    metric.Int64Counter
}

// New creates a pipeline from cfg. The returned pipeline is idle until
// Run is called.
func New(cfg *Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewCounterStore(cfg.MaxTrackedDevices)

	p := &Pipeline{
		cfg:        cfg,
		logger:     logger,
		channel:    NewTransportChannel(cfg.ChannelCapacity, logger),
		table:      NewCorrelationTable(cfg.MaxPendingStarts),
		store:      store,
		classifier: NewDiskPatternClassifier(store),
	}
	if cfg.DeepTrace {
		p.traceLog = NewTraceLog(cfg.TraceLogCapacity)
	}

	meter := otel.Meter("iotrace-pipeline")

	var err error
	p.recordsProcessed, err = meter.Int64Counter(
		"iotrace_records_processed_total",
		metric.WithDescription("Total records dispatched by the consumer loop"),
	)
	if err != nil {
		logger.Warn("Failed to create records processed counter", zap.Error(err))
	}

	p.recordsUnmatched, err = meter.Int64Counter(
		"iotrace_unmatched_ends_total",
		metric.WithDescription("End records with no pending start to correlate"),
	)
	if err != nil {
		logger.Warn("Failed to create unmatched ends counter", zap.Error(err))
	}

	p.startsEvicted, err = meter.Int64Counter(
		"iotrace_pending_starts_evicted_total",
		metric.WithDescription("Pending starts evicted to honor the correlation table bound"),
	)
	if err != nil {
		logger.Warn("Failed to create evicted starts counter", zap.Error(err))
	}

	return p, nil
}

// Submit offers one record to the transport channel on behalf of a
// producer. Never blocks.
func (p *Pipeline) Submit(r Record) bool {
	return p.channel.Submit(r)
}

// Channel exposes the transport channel. The handle owner, not the
// consumer loop, is responsible for closing it.
func (p *Pipeline) Channel() *TransportChannel {
	return p.channel
}

// State reports the consumer loop's current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run drives the consumer loop until ctx is cancelled or the channel
// fails underneath it. Cancellation is cooperative: an in-progress poll
// completes or times out before the loop observes it. A non-timeout poll
// failure is fatal and returned after being logged once.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("consumer loop starting",
		zap.Int("channel_capacity", p.cfg.ChannelCapacity),
		zap.Duration("poll_timeout", p.cfg.PollTimeout),
		zap.Uint32("target_pid", p.cfg.TargetPID),
		zap.Bool("deep_trace", p.cfg.DeepTrace),
	)
	defer p.state.Store(int32(StateStopped))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("consumer loop stopping",
				zap.Int64("submitted", p.channel.Submitted()),
				zap.Int64("dropped", p.channel.Dropped()),
			)
			return nil
		default:
		}

		p.state.Store(int32(StatePolling))
		batch, err := p.channel.Poll(p.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				p.logger.Info("transport channel closed, consumer loop stopping")
			} else {
				p.logger.Error("poll failed, consumer loop stopping", zap.Error(err))
			}
			return err
		}
		if len(batch) == 0 {
			continue
		}

		p.state.Store(int32(StateDispatching))
		for _, r := range batch {
			p.dispatch(ctx, r)
		}
		if p.recordsProcessed != nil {
			p.recordsProcessed.Add(ctx, int64(len(batch)))
		}
	}
}

// dispatch routes one record to the aggregate it feeds. Everything here
// is in-memory and non-blocking.
func (p *Pipeline) dispatch(ctx context.Context, r Record) {
	switch r.Kind {
	case KindReadStart, KindWriteStart:
		if p.cfg.TargetPID != 0 && r.PID != p.cfg.TargetPID {
			return
		}
		before := p.table.Evicted()
		p.table.RecordStart(r.PID, r.Timestamp)
		if evicted := p.table.Evicted() - before; evicted > 0 && p.startsEvicted != nil {
			p.startsEvicted.Add(ctx, evicted)
		}

	case KindReadEnd:
		p.finish(ctx, r, OpRead)

	case KindWriteEnd:
		p.finish(ctx, r, OpWrite)

	case KindDiskComplete:
		p.classifier.Observe(r.Dev, r.Sector, r.SectorCount)

	case KindSimpleCount:
		p.store.Named(r.Counter).Add(1)
		if p.traceLog != nil {
			p.traceLog.Append(r.Timestamp, r.Counter)
		}

	default:
		p.logger.Warn("unroutable record kind", zap.Uint32("kind", uint32(r.Kind)))
	}
}

// finish correlates an end record against its pending start. A miss is
// "nothing to correlate", not an error.
func (p *Pipeline) finish(ctx context.Context, r Record, op Op) {
	duration, ok := p.table.RecordEnd(r.PID, r.Timestamp)
	if !ok {
		p.unmatchedEnds.Add(1)
		if p.recordsUnmatched != nil {
			p.recordsUnmatched.Add(ctx, 1, metric.WithAttributes(
				attribute.String("op", op.String()),
			))
		}
		return
	}
	p.store.IO(op).Add(duration)
}

// Snapshot returns a read-only copy of every aggregate. Safe to call
// concurrently with the consumer loop; individual counters are read
// atomically.
func (p *Pipeline) Snapshot() *Snapshot {
	snap := &Snapshot{
		IO:    make(map[Op]IOStats),
		Disks: make(map[uint32]DiskStats),
		Named: make(map[CounterID]uint64),

		Submitted:      p.channel.Submitted(),
		Dropped:        p.channel.Dropped(),
		UnmatchedEnds:  p.unmatchedEnds.Load(),
		PendingStarts:  p.table.Pending(),
		EvictedStarts:  p.table.Evicted(),
		DevicesSkipped: p.store.DevicesSkipped(),
	}
	if p.traceLog != nil {
		snap.TraceOverflow = p.traceLog.Overflow()
	}
	p.store.snapshotInto(snap)
	return snap
}

// TraceEvents returns the retained deep-trace events, empty in cheap
// counting mode.
func (p *Pipeline) TraceEvents() []TraceEvent {
	if p.traceLog == nil {
		return nil
	}
	return p.traceLog.Events()
}
