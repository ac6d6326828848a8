package pipeline

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the variant of an event record
type Kind uint32

const (
	KindInvalid Kind = iota
	KindReadStart
	KindReadEnd
	KindWriteStart
	KindWriteEnd
	KindDiskComplete
	KindSimpleCount

	kindMax
)

func (k Kind) String() string {
	switch k {
	case KindReadStart:
		return "read_start"
	case KindReadEnd:
		return "read_end"
	case KindWriteStart:
		return "write_start"
	case KindWriteEnd:
		return "write_end"
	case KindDiskComplete:
		return "disk_complete"
	case KindSimpleCount:
		return "simple_count"
	default:
		return "invalid"
	}
}

// CounterID names a plain tally counter carried by KindSimpleCount records.
// The first eight IDs are the deep-trace events the kernel side emits when
// detailed timing mode is on; the sgx_* IDs are fire-and-increment counters
// with no correlation.
type CounterID uint32

const (
	CounterSysRead CounterID = iota
	CounterSysWrite
	CounterPageAlloc
	CounterPageFree
	CounterKmalloc
	CounterKfree
	CounterDiskRead
	CounterDiskWrite
	CounterSgxEnclLoadPage
	CounterSgxEnclWB
	CounterSgxVMAAccess
	CounterSgxVMAFault
)

func (c CounterID) String() string {
	switch c {
	case CounterSysRead:
		return "sys-read"
	case CounterSysWrite:
		return "sys-write"
	case CounterPageAlloc:
		return "mm-page-alloc"
	case CounterPageFree:
		return "mm-page-free"
	case CounterKmalloc:
		return "kmalloc"
	case CounterKfree:
		return "kfree"
	case CounterDiskRead:
		return "disk-read"
	case CounterDiskWrite:
		return "disk-write"
	case CounterSgxEnclLoadPage:
		return "sgx_encl_load_page"
	case CounterSgxEnclWB:
		return "sgx_encl_wb"
	case CounterSgxVMAAccess:
		return "sgx_vma_access"
	case CounterSgxVMAFault:
		return "sgx_vma_fault"
	default:
		return "unknown"
	}
}

// RecordWireSize is the fixed size of one record on the transport.
// The layout must match struct event in pkg/tracer/bpf/tracer.bpf.c;
// the record size is negotiated at setup, not per message.
const RecordWireSize = 40

// Record is one observed occurrence. Immutable once produced; consumed
// exactly once by the consumer loop and then discarded.
type Record struct {
	Kind        Kind
	PID         uint32
	Timestamp   uint64 // nanoseconds, monotonic
	Dev         uint32
	Counter     CounterID
	Sector      uint64
	SectorCount uint32
}

// DecodeRecord parses the fixed little-endian wire layout:
//
//	offset 0  u32 kind
//	offset 4  u32 pid
//	offset 8  u64 timestamp
//	offset 16 u32 dev
//	offset 20 u32 counter
//	offset 24 u64 sector
//	offset 32 u32 sector_count
//	offset 36 u32 pad
func DecodeRecord(data []byte) (Record, error) {
	if len(data) < RecordWireSize {
		return Record{}, fmt.Errorf("record too small: got %d bytes, want %d", len(data), RecordWireSize)
	}

	r := Record{
		Kind:        Kind(binary.LittleEndian.Uint32(data[0:4])),
		PID:         binary.LittleEndian.Uint32(data[4:8]),
		Timestamp:   binary.LittleEndian.Uint64(data[8:16]),
		Dev:         binary.LittleEndian.Uint32(data[16:20]),
		Counter:     CounterID(binary.LittleEndian.Uint32(data[20:24])),
		Sector:      binary.LittleEndian.Uint64(data[24:32]),
		SectorCount: binary.LittleEndian.Uint32(data[32:36]),
	}

	if r.Kind == KindInvalid || r.Kind >= kindMax {
		return Record{}, fmt.Errorf("invalid record kind: %d", r.Kind)
	}

	return r, nil
}

// MarshalBinary renders the wire layout DecodeRecord parses.
func (r Record) MarshalBinary() ([]byte, error) {
	if r.Kind == KindInvalid || r.Kind >= kindMax {
		return nil, fmt.Errorf("invalid record kind: %d", r.Kind)
	}

	buf := make([]byte, RecordWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Kind))
	binary.LittleEndian.PutUint32(buf[4:8], r.PID)
	binary.LittleEndian.PutUint64(buf[8:16], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[16:20], r.Dev)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.Counter))
	binary.LittleEndian.PutUint64(buf[24:32], r.Sector)
	binary.LittleEndian.PutUint32(buf[32:36], r.SectorCount)
	return buf, nil
}
