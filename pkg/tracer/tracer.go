// Package tracer loads the kernel instrumentation and feeds its ring
// buffer into a pipeline. It owns the transport handle: closing the
// tracer releases the ring buffer and the attached programs, while the
// consumer loop keeps draining what was already submitted.
package tracer

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned on platforms without eBPF support.
var ErrNotSupported = errors.New("ebpf tracing is only supported on linux")

// Config holds tracer configuration.
type Config struct {
	// ObjectPath locates the compiled BPF object (see bpf/tracer.bpf.c)
	ObjectPath string `json:"object_path" yaml:"object_path"`

	// TargetPID restricts kernel-side start events to one process; zero
	// traces everything
	TargetPID uint32 `json:"target_pid" yaml:"target_pid"`

	// DeepTrace makes the kernel side emit individual trace events in
	// addition to start/end pairs
	DeepTrace bool `json:"deep_trace" yaml:"deep_trace"`

	// EnableSGX attaches the enclave kprobes. Attachment failures are
	// tolerated: not every kernel exposes the symbols.
	EnableSGX bool `json:"enable_sgx" yaml:"enable_sgx"`
}

// DefaultConfig returns default tracer configuration.
func DefaultConfig() Config {
	return Config{
		ObjectPath: "tracer.bpf.o",
	}
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ObjectPath == "" {
		return fmt.Errorf("object_path must be set")
	}
	return nil
}
