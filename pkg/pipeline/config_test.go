package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("defaults validate", func(t *testing.T) {
		require.NoError(t, DefaultConfig().Validate())
	})

	t.Run("rejects bad values", func(t *testing.T) {
		cases := map[string]func(*Config){
			"zero channel capacity":  func(c *Config) { c.ChannelCapacity = 0 },
			"negative poll timeout":  func(c *Config) { c.PollTimeout = -time.Second },
			"zero pending bound":     func(c *Config) { c.MaxPendingStarts = 0 },
			"zero device bound":      func(c *Config) { c.MaxTrackedDevices = 0 },
			"deep trace without cap": func(c *Config) { c.DeepTrace = true; c.TraceLogCapacity = 0 },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				cfg := DefaultConfig()
				mutate(cfg)
				assert.Error(t, cfg.Validate())
			})
		}
	})
}
