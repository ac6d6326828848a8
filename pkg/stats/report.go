package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/yairfalse/iotrace/pkg/pipeline"
)

const (
	ioCSVHeader    = "dimension,unit,value,description"
	traceCSVHeader = "timestamp (ns),event"
)

// DiskReport is one device's access pattern, resolved to a name and
// reduced to integer percentages.
type DiskReport struct {
	Name              string
	Bytes             uint64
	PercentSequential uint64
	PercentRandom     uint64
}

// BuildDiskReports folds a snapshot's disk counters into per-device
// reports. Devices with no classified request report zero percentages.
func BuildDiskReports(partitions []Partition, snap *pipeline.Snapshot) []DiskReport {
	reports := make([]DiskReport, 0, len(snap.Disks))
	for dev, d := range snap.Disks {
		r := DiskReport{
			Name:  DeviceName(partitions, dev),
			Bytes: d.Bytes,
		}
		if total := d.Sequential + d.Random; total > 0 {
			r.PercentSequential = d.Sequential * 100 / total
			r.PercentRandom = d.Random * 100 / total
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Name < reports[j].Name })
	return reports
}

// sgxRows is the fixed reporting order of the enclave counters.
var sgxRows = []pipeline.CounterID{
	pipeline.CounterSgxEnclLoadPage,
	pipeline.CounterSgxEnclWB,
	pipeline.CounterSgxVMAAccess,
	pipeline.CounterSgxVMAFault,
}

// WriteIOReport renders the io.csv result: syscall counts with average
// durations, enclave counters, and per-device disk pattern rows.
func WriteIOReport(w io.Writer, snap *pipeline.Snapshot, disks []DiskReport) error {
	if _, err := fmt.Fprintln(w, ioCSVHeader); err != nil {
		return err
	}

	for _, id := range sgxRows {
		if _, err := fmt.Fprintf(w, "%s,#,%d,\n", id, snap.Named[id]); err != nil {
			return err
		}
	}

	read := snap.IO[pipeline.OpRead]
	write := snap.IO[pipeline.OpWrite]
	rows := []string{
		fmt.Sprintf("sys_read,#,%d,", read.Count),
		fmt.Sprintf("sys_read,ns,%d,", read.AvgDuration),
		fmt.Sprintf("sys_write,#,%d,", write.Count),
		fmt.Sprintf("sys_write,ns,%d,", write.AvgDuration),
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, row); err != nil {
			return err
		}
	}

	for _, d := range disks {
		if _, err := fmt.Fprintf(w, "disk_write_seq,%%,%d,%s\n", d.PercentSequential, d.Name); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "disk_write_rand,%%,%d,%s\n", d.PercentRandom, d.Name); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "disk_tot_written_bytes,#,%d,%s\n", d.Bytes, d.Name); err != nil {
			return err
		}
	}
	return nil
}

// WriteTraceReport renders the trace.csv result from the retained
// deep-trace events, one timestamped row per event.
func WriteTraceReport(w io.Writer, events []pipeline.TraceEvent) error {
	if _, err := fmt.Fprintln(w, traceCSVHeader); err != nil {
		return err
	}
	for _, e := range events {
		if _, err := fmt.Fprintf(w, "%d,%s\n", e.Timestamp, e.Counter); err != nil {
			return err
		}
	}
	return nil
}
