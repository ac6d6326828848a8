//go:build linux
// +build linux

package tracer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/yairfalse/iotrace/pkg/pipeline"
)

// Names must match the BPF C source.
const (
	eventsMapName = "events"

	progEnterRead  = "trace_enter_read"
	progExitRead   = "trace_exit_read"
	progEnterWrite = "trace_enter_write"
	progExitWrite  = "trace_exit_write"
	progBlockRq    = "handle_block_rq_complete"
)

var sgxKprobes = map[string]string{
	"count_sgx_vma_access": "sgx_vma_access",
	"count_sgx_vma_fault":  "sgx_vma_fault",
	"count_sgx_encl_load":  "sgx_encl_load_page",
	"count_sgx_encl_ewb":   "__sgx_encl_ewb",
}

// Tracer is the Linux eBPF producer. It attaches the tracepoints and
// kprobes from the compiled object and pumps decoded records into the
// pipeline's transport channel.
type Tracer struct {
	cfg    Config
	pipe   *pipeline.Pipeline
	logger *zap.Logger

	coll   *ebpf.Collection
	links  []link.Link
	reader *ringbuf.Reader
	wg     sync.WaitGroup

	readErrors   atomic.Int64
	decodeErrors atomic.Int64
}

// New creates a tracer that submits into pipe. Nothing is loaded until
// Start.
func New(cfg Config, pipe *pipeline.Pipeline, logger *zap.Logger) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{cfg: cfg, pipe: pipe, logger: logger.Named("tracer")}, nil
}

// Start loads the BPF object, rewrites its constants, attaches every
// instrumentation point and starts the ring buffer pump.
func (t *Tracer) Start() error {
	if err := rlimit.RemoveMemlock(); err != nil {
		t.logger.Warn("Failed to remove memlock limit", zap.Error(err))
	}

	spec, err := ebpf.LoadCollectionSpec(t.cfg.ObjectPath)
	if err != nil {
		return fmt.Errorf("loading collection spec %s: %w", t.cfg.ObjectPath, err)
	}

	consts := map[string]interface{}{
		"targ_pid":   int32(t.cfg.TargetPID),
		"deep_trace": t.cfg.DeepTrace,
	}
	if err := spec.RewriteConstants(consts); err != nil {
		return fmt.Errorf("rewriting constants: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}
	t.coll = coll

	if err := t.attach(); err != nil {
		t.Close()
		return err
	}

	events := coll.Maps[eventsMapName]
	if events == nil {
		t.Close()
		return fmt.Errorf("map %q not found in object", eventsMapName)
	}
	reader, err := ringbuf.NewReader(events)
	if err != nil {
		t.Close()
		return fmt.Errorf("creating ring buffer reader: %w", err)
	}
	t.reader = reader

	t.wg.Add(1)
	go t.pump()

	t.logger.Info("tracer attached",
		zap.String("object", t.cfg.ObjectPath),
		zap.Uint32("target_pid", t.cfg.TargetPID),
		zap.Bool("deep_trace", t.cfg.DeepTrace),
		zap.Int("links", len(t.links)),
	)
	return nil
}

func (t *Tracer) attach() error {
	tracepoints := []struct {
		group, name, prog string
	}{
		{"syscalls", "sys_enter_read", progEnterRead},
		{"syscalls", "sys_exit_read", progExitRead},
		{"syscalls", "sys_enter_write", progEnterWrite},
		{"syscalls", "sys_exit_write", progExitWrite},
		{"block", "block_rq_complete", progBlockRq},
	}
	for _, tp := range tracepoints {
		prog := t.coll.Programs[tp.prog]
		if prog == nil {
			return fmt.Errorf("program %q not found in object", tp.prog)
		}
		l, err := link.Tracepoint(tp.group, tp.name, prog, nil)
		if err != nil {
			return fmt.Errorf("attaching %s/%s: %w", tp.group, tp.name, err)
		}
		t.links = append(t.links, l)
	}

	if !t.cfg.EnableSGX {
		return nil
	}
	for progName, symbol := range sgxKprobes {
		prog := t.coll.Programs[progName]
		if prog == nil {
			continue
		}
		l, err := link.Kprobe(symbol, prog, nil)
		if err != nil {
			t.logger.Warn("Failed to attach sgx kprobe, skipping",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		t.links = append(t.links, l)
	}
	return nil
}

// pump moves records from the kernel ring buffer into the transport
// channel until the reader is closed.
func (t *Tracer) pump() {
	defer t.wg.Done()

	for {
		record, err := t.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			t.readErrors.Add(1)
			t.logger.Warn("Failed to read from ring buffer", zap.Error(err))
			continue
		}

		r, err := pipeline.DecodeRecord(record.RawSample)
		if err != nil {
			t.decodeErrors.Add(1)
			t.logger.Warn("Failed to decode record", zap.Error(err))
			continue
		}
		t.pipe.Submit(r)
	}
}

// Close detaches everything and releases the transport handle. The
// pipeline's channel is closed last so the consumer loop sees a clean
// end of stream.
func (t *Tracer) Close() error {
	if t.reader != nil {
		t.reader.Close()
	}
	t.wg.Wait()

	for _, l := range t.links {
		l.Close()
	}
	t.links = nil
	if t.coll != nil {
		t.coll.Close()
		t.coll = nil
	}

	t.pipe.Channel().Close()
	t.logger.Info("tracer closed",
		zap.Int64("read_errors", t.readErrors.Load()),
		zap.Int64("decode_errors", t.decodeErrors.Load()),
	)
	return nil
}
