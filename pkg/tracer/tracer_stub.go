//go:build !linux
// +build !linux

package tracer

import (
	"go.uber.org/zap"

	"github.com/yairfalse/iotrace/pkg/pipeline"
)

// Tracer is a stub on non-Linux platforms.
type Tracer struct{}

// New fails: kernel instrumentation requires Linux.
func New(cfg Config, pipe *pipeline.Pipeline, logger *zap.Logger) (*Tracer, error) {
	return nil, ErrNotSupported
}

func (t *Tracer) Start() error {
	return ErrNotSupported
}

func (t *Tracer) Close() error {
	return nil
}
