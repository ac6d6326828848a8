package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 20 * time.Millisecond
	return cfg
}

// runPipeline drives the consumer loop in the background and returns a
// stop function that cancels it and waits for the loop to finish.
func runPipeline(t *testing.T, p *Pipeline) (stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()

	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("consumer loop did not stop")
			return nil
		}
	}
}

// drain waits until the consumer has caught up with everything submitted.
func drain(t *testing.T, p *Pipeline, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Snapshot().Submitted == want && p.Channel().Utilization() == 0 {
			// One extra poll interval so the in-flight batch lands.
			time.Sleep(2 * p.cfg.PollTimeout)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("consumer did not drain %d records", want)
}

func TestPipelineEndToEnd(t *testing.T) {
	p, err := New(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	stop := runPipeline(t, p)

	// Two correlated read intervals for pid 5: 50ns and 40ns.
	p.Submit(Record{Kind: KindReadStart, PID: 5, Timestamp: 100})
	p.Submit(Record{Kind: KindReadEnd, PID: 5, Timestamp: 150})
	p.Submit(Record{Kind: KindReadStart, PID: 5, Timestamp: 160})
	p.Submit(Record{Kind: KindReadEnd, PID: 5, Timestamp: 200})
	drain(t, p, 4)

	require.NoError(t, stop())

	snap := p.Snapshot()
	read := snap.IO[OpRead]
	assert.Equal(t, uint64(2), read.Count)
	assert.Equal(t, uint64(90), read.TotalDuration)
	assert.Equal(t, uint64(45), read.AvgDuration)
	assert.Equal(t, StateStopped, p.State())
}

func TestPipelineDispatch(t *testing.T) {
	t.Run("write intervals feed the write counter", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindWriteStart, PID: 9, Timestamp: 1000})
		p.Submit(Record{Kind: KindWriteEnd, PID: 9, Timestamp: 1700})
		drain(t, p, 2)
		require.NoError(t, stop())

		snap := p.Snapshot()
		assert.Equal(t, uint64(1), snap.IO[OpWrite].Count)
		assert.Equal(t, uint64(700), snap.IO[OpWrite].TotalDuration)
		assert.Equal(t, uint64(0), snap.IO[OpRead].Count)
	})

	t.Run("unmatched end changes no counter", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindReadEnd, PID: 5, Timestamp: 150})
		drain(t, p, 1)
		require.NoError(t, stop())

		snap := p.Snapshot()
		assert.Equal(t, uint64(0), snap.IO[OpRead].Count)
		assert.Equal(t, int64(1), snap.UnmatchedEnds)
	})

	t.Run("disk records reach the classifier", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindDiskComplete, Dev: 1, Sector: 0, SectorCount: 8})
		p.Submit(Record{Kind: KindDiskComplete, Dev: 1, Sector: 8, SectorCount: 8})
		drain(t, p, 2)
		require.NoError(t, stop())

		snap := p.Snapshot()
		assert.Equal(t, uint64(1), snap.Disks[1].Sequential)
		assert.Equal(t, uint64(16*SectorSize), snap.Disks[1].Bytes)
	})

	t.Run("simple counts tally by counter id", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterSgxVMAFault, Timestamp: 1})
		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterSgxVMAFault, Timestamp: 2})
		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterKmalloc, Timestamp: 3})
		drain(t, p, 3)
		require.NoError(t, stop())

		snap := p.Snapshot()
		assert.Equal(t, uint64(2), snap.Named[CounterSgxVMAFault])
		assert.Equal(t, uint64(1), snap.Named[CounterKmalloc])
	})

	t.Run("target pid filter drops foreign starts", func(t *testing.T) {
		cfg := testConfig()
		cfg.TargetPID = 5
		p, err := New(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindReadStart, PID: 6, Timestamp: 100})
		p.Submit(Record{Kind: KindReadEnd, PID: 6, Timestamp: 150})
		p.Submit(Record{Kind: KindReadStart, PID: 5, Timestamp: 100})
		p.Submit(Record{Kind: KindReadEnd, PID: 5, Timestamp: 120})
		drain(t, p, 4)
		require.NoError(t, stop())

		snap := p.Snapshot()
		assert.Equal(t, uint64(1), snap.IO[OpRead].Count)
		assert.Equal(t, uint64(20), snap.IO[OpRead].TotalDuration)
		assert.Equal(t, int64(1), snap.UnmatchedEnds)
	})

	t.Run("deep trace retains individual events", func(t *testing.T) {
		cfg := testConfig()
		cfg.DeepTrace = true
		cfg.TraceLogCapacity = 2
		p, err := New(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		stop := runPipeline(t, p)

		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterSysRead, Timestamp: 10})
		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterSysWrite, Timestamp: 20})
		p.Submit(Record{Kind: KindSimpleCount, Counter: CounterSysRead, Timestamp: 30})
		drain(t, p, 3)
		require.NoError(t, stop())

		events := p.TraceEvents()
		require.Len(t, events, 2)
		assert.Equal(t, uint64(10), events[0].Timestamp)
		assert.Equal(t, CounterSysWrite, events[1].Counter)

		snap := p.Snapshot()
		assert.Equal(t, int64(1), snap.TraceOverflow)
		// Tallies still count the shed event.
		assert.Equal(t, uint64(2), snap.Named[CounterSysRead])
	})
}

func TestPipelineLifecycle(t *testing.T) {
	t.Run("cancellation stops the loop cleanly", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)

		stop := runPipeline(t, p)
		assert.NoError(t, stop())
		assert.Equal(t, StateStopped, p.State())
	})

	t.Run("closed channel is fatal for the loop", func(t *testing.T) {
		p, err := New(testConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			errCh <- p.Run(context.Background())
		}()

		time.Sleep(50 * time.Millisecond)
		p.Channel().Close()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrChannelClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer loop did not observe the closed channel")
		}
		assert.Equal(t, StateStopped, p.State())
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ChannelCapacity = 0
		_, err := New(cfg, nil)
		assert.Error(t, err)
	})
}
