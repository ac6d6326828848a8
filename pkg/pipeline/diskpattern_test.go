package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskPatternClassifier(t *testing.T) {
	observe := func() (*DiskPatternClassifier, *CounterStore) {
		store := NewCounterStore(0)
		return NewDiskPatternClassifier(store), store
	}

	t.Run("back-to-back contiguous requests classify sequential", func(t *testing.T) {
		c, store := observe()

		c.Observe(1, 0, 8)
		c.Observe(1, 8, 8)

		disk, ok := store.Disk(1)
		require.True(t, ok)
		assert.Equal(t, uint64(1), disk.Sequential.Load())
		assert.Equal(t, uint64(0), disk.Random.Load())
		assert.Equal(t, uint64(16), disk.LastSector.Load())
	})

	t.Run("a jump classifies random", func(t *testing.T) {
		c, store := observe()

		c.Observe(1, 0, 8)
		c.Observe(1, 100, 8)

		disk, ok := store.Disk(1)
		require.True(t, ok)
		assert.Equal(t, uint64(0), disk.Sequential.Load())
		assert.Equal(t, uint64(1), disk.Random.Load())
		assert.Equal(t, uint64(108), disk.LastSector.Load())
	})

	t.Run("first request for a fresh device is not classified", func(t *testing.T) {
		c, store := observe()

		c.Observe(7, 500, 16)

		disk, ok := store.Disk(7)
		require.True(t, ok)
		assert.Equal(t, uint64(0), disk.Sequential.Load())
		assert.Equal(t, uint64(0), disk.Random.Load())
		assert.Equal(t, uint64(516), disk.LastSector.Load())
		assert.Equal(t, uint64(16*SectorSize), disk.Bytes.Load())
	})

	t.Run("bytes accumulate across requests", func(t *testing.T) {
		c, store := observe()

		c.Observe(1, 0, 8)
		c.Observe(1, 8, 8)
		c.Observe(1, 200, 4)

		disk, ok := store.Disk(1)
		require.True(t, ok)
		assert.Equal(t, uint64(20*SectorSize), disk.Bytes.Load())
		assert.Equal(t, uint64(1), disk.Sequential.Load())
		assert.Equal(t, uint64(1), disk.Random.Load())
	})

	t.Run("devices classify independently", func(t *testing.T) {
		c, store := observe()

		c.Observe(1, 0, 8)
		c.Observe(2, 8, 8) // fresh device, not sequential relative to dev 1
		c.Observe(1, 8, 8)

		d1, ok := store.Disk(1)
		require.True(t, ok)
		d2, ok := store.Disk(2)
		require.True(t, ok)

		assert.Equal(t, uint64(1), d1.Sequential.Load())
		assert.Equal(t, uint64(0), d2.Sequential.Load())
		assert.Equal(t, uint64(0), d2.Random.Load())
	})

	t.Run("capped store ignores overflow devices", func(t *testing.T) {
		store := NewCounterStore(1)
		c := NewDiskPatternClassifier(store)

		c.Observe(1, 0, 8)
		c.Observe(2, 0, 8)

		assert.Equal(t, 1, store.TrackedDevices())
		assert.Equal(t, int64(1), store.DevicesSkipped())
	})
}
