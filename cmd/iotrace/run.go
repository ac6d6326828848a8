package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yairfalse/iotrace/pkg/pipeline"
	"github.com/yairfalse/iotrace/pkg/stats"
	"github.com/yairfalse/iotrace/pkg/tracer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach the kernel instrumentation and aggregate until interrupted",
	RunE:  runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	reader := setupTelemetry()
	defer dumpMetrics(reader, logger)

	pipeCfg := pipeline.DefaultConfig()
	if v := viper.GetInt("channel_capacity"); v > 0 {
		pipeCfg.ChannelCapacity = v
	}
	if v := viper.GetDuration("poll_timeout"); v > 0 {
		pipeCfg.PollTimeout = v
	}
	pipeCfg.TargetPID = viper.GetUint32("target_pid")
	pipeCfg.DeepTrace = viper.GetBool("deep_trace")

	pipe, err := pipeline.New(pipeCfg, logger)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	traceCfg := tracer.Config{
		ObjectPath: viper.GetString("bpf_object"),
		TargetPID:  pipeCfg.TargetPID,
		DeepTrace:  pipeCfg.DeepTrace,
		EnableSGX:  viper.GetBool("enable_sgx"),
	}
	tr, err := tracer.New(traceCfg, pipe, logger)
	if err != nil {
		return fmt.Errorf("creating tracer: %w", err)
	}
	if err := tr.Start(); err != nil {
		return fmt.Errorf("starting tracer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		// The tracer owns the transport handle: on shutdown it closes
		// the channel and the consumer drains to end of stream.
		errCh <- pipe.Run(context.Background())
	}()

	logger.Info("iotrace running, interrupt to stop")
	<-ctx.Done()
	logger.Info("shutting down")

	if err := tr.Close(); err != nil {
		logger.Warn("Failed to close tracer", zap.Error(err))
	}

	if err := <-errCh; err != nil && !errors.Is(err, pipeline.ErrChannelClosed) {
		return fmt.Errorf("consumer loop failed: %w", err)
	}

	return writeResults(pipe, logger)
}

// writeResults pulls the final snapshot and renders the CSV report.
func writeResults(pipe *pipeline.Pipeline, logger *zap.Logger) error {
	outputDir := viper.GetString("output_dir")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	snap := pipe.Snapshot()

	partitions, err := stats.LoadPartitions()
	if err != nil {
		logger.Warn("Failed to load partitions, device names unresolved", zap.Error(err))
	}

	ioPath := filepath.Join(outputDir, "io.csv")
	f, err := os.Create(ioPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", ioPath, err)
	}
	defer f.Close()

	disks := stats.BuildDiskReports(partitions, snap)
	if err := stats.WriteIOReport(f, snap, disks); err != nil {
		return fmt.Errorf("writing io report: %w", err)
	}

	if events := pipe.TraceEvents(); len(events) > 0 {
		tracePath := filepath.Join(outputDir, "trace.csv")
		tf, err := os.Create(tracePath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", tracePath, err)
		}
		defer tf.Close()
		if err := stats.WriteTraceReport(tf, events); err != nil {
			return fmt.Errorf("writing trace report: %w", err)
		}
	}

	logger.Info("results written",
		zap.String("output_dir", outputDir),
		zap.Int64("submitted", snap.Submitted),
		zap.Int64("dropped", snap.Dropped),
		zap.Int64("unmatched_ends", snap.UnmatchedEnds),
		zap.Int("pending_starts", snap.PendingStarts),
	)
	return nil
}
