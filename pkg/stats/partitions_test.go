package stats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartitionLine(t *testing.T) {
	t.Run("packs major and minor into the device id", func(t *testing.T) {
		p, err := ParsePartitionLine(" 259        0  250059096 nvme0n1")
		require.NoError(t, err)
		assert.Equal(t, "nvme0n1", p.Name)
		assert.Equal(t, uint32(271581184), p.Dev)
	})

	t.Run("minor ends up in the low bits", func(t *testing.T) {
		p, err := ParsePartitionLine("8 1 976760832 sda1")
		require.NoError(t, err)
		assert.Equal(t, uint32(8<<20|1), p.Dev)
	})

	t.Run("rejects malformed lines", func(t *testing.T) {
		_, err := ParsePartitionLine("259 0 250059096")
		assert.Error(t, err)

		_, err = ParsePartitionLine("x 0 250059096 nvme0n1")
		assert.Error(t, err)
	})
}

func TestParsePartitions(t *testing.T) {
	input := `major minor  #blocks  name

 259        0  250059096 nvme0n1
 259        1     524288 nvme0n1p1
   8        0  976762584 sda
`
	partitions, err := parsePartitions(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, partitions, 3)
	assert.Equal(t, "nvme0n1", partitions[0].Name)
	assert.Equal(t, "sda", partitions[2].Name)
}

func TestDeviceName(t *testing.T) {
	partitions := []Partition{
		{Name: "nvme0n1", Dev: 271581184},
		{Name: "sda", Dev: 8 << 20},
	}

	assert.Equal(t, "sda", DeviceName(partitions, 8<<20))
	assert.Equal(t, "unknown device", DeviceName(partitions, 42))
	assert.Equal(t, "unknown device", DeviceName(nil, 8<<20))
}
