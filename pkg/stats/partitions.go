// Package stats resolves pipeline aggregates into the operator-facing
// report: device names for disk counters and the CSV result files.
package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const procPartitionsPath = "/proc/partitions"

// Partition is one row of /proc/partitions.
type Partition struct {
	Name string
	Dev  uint32
}

// LoadPartitions reads the block devices currently known to the kernel.
func LoadPartitions() ([]Partition, error) {
	f, err := os.Open(procPartitionsPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procPartitionsPath, err)
	}
	defer f.Close()

	return parsePartitions(f)
}

// parsePartitions parses the /proc/partitions format:
//
//	major minor  #blocks  name
//
//	  259     0  250059096 nvme0n1
//	    8     0  976762584 sda
func parsePartitions(r io.Reader) ([]Partition, error) {
	var partitions []Partition

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "major") {
			continue
		}
		p, err := ParsePartitionLine(line)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading partitions: %w", err)
	}
	return partitions, nil
}

// ParsePartitionLine parses one data row of /proc/partitions. The device
// id packs major and minor the way the block tracepoint reports it:
// major<<20 | minor.
func ParsePartitionLine(line string) (Partition, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Partition{}, fmt.Errorf("malformed partition line %q: want 4 fields, got %d", line, len(fields))
	}

	major, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Partition{}, fmt.Errorf("parsing major in %q: %w", line, err)
	}
	minor, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Partition{}, fmt.Errorf("parsing minor in %q: %w", line, err)
	}

	return Partition{
		Name: fields[3],
		Dev:  uint32(major)<<20 | uint32(minor),
	}, nil
}

// DeviceName resolves a device id against the loaded partitions.
func DeviceName(partitions []Partition, dev uint32) string {
	for _, p := range partitions {
		if p.Dev == dev {
			return p.Name
		}
	}
	return "unknown device"
}
