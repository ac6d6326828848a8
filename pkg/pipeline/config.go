package pipeline

import (
	"fmt"
	"time"
)

// Config holds pipeline configuration
type Config struct {
	// ChannelCapacity is the number of record slots in the transport
	// channel. Producers that find the channel full drop their record.
	ChannelCapacity int `json:"channel_capacity" yaml:"channel_capacity"`

	// PollTimeout bounds each consumer poll; an empty poll is not an error
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout"`

	// TargetPID restricts start-event correlation to one process identity.
	// Zero observes everything.
	TargetPID uint32 `json:"target_pid" yaml:"target_pid"`

	// DeepTrace enables the detailed timing mode: individual trace events
	// are retained in the trace log in addition to being tallied. Off means
	// cheap counting mode.
	DeepTrace bool `json:"deep_trace" yaml:"deep_trace"`

	// TraceLogCapacity caps the deep-trace log; excess events are counted
	// but not retained
	TraceLogCapacity int `json:"trace_log_capacity" yaml:"trace_log_capacity"`

	// MaxPendingStarts caps the correlation table. When the bound is hit
	// the oldest pending start in the affected shard is evicted, surfaced
	// as a metric rather than an error.
	MaxPendingStarts int `json:"max_pending_starts" yaml:"max_pending_starts"`

	// MaxTrackedDevices caps distinct per-device counters
	MaxTrackedDevices int `json:"max_tracked_devices" yaml:"max_tracked_devices"`
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		ChannelCapacity:   32768,
		PollTimeout:       500 * time.Millisecond,
		TargetPID:         0,
		DeepTrace:         false,
		TraceLogCapacity:  65536,
		MaxPendingStarts:  1024,
		MaxTrackedDevices: 64,
	}
}

// Validate checks configuration sanity
func (c *Config) Validate() error {
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive, got %d", c.ChannelCapacity)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive, got %v", c.PollTimeout)
	}
	if c.DeepTrace && c.TraceLogCapacity <= 0 {
		return fmt.Errorf("trace_log_capacity must be positive in deep trace mode, got %d", c.TraceLogCapacity)
	}
	if c.MaxPendingStarts <= 0 {
		return fmt.Errorf("max_pending_starts must be positive, got %d", c.MaxPendingStarts)
	}
	if c.MaxTrackedDevices <= 0 {
		return fmt.Errorf("max_tracked_devices must be positive, got %d", c.MaxTrackedDevices)
	}
	return nil
}
