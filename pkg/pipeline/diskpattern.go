package pipeline

// SectorSize is the fixed byte size of one sector as reported by the
// block layer tracepoint.
const SectorSize = 512

// DiskPatternClassifier turns a stream of completed block requests into
// per-device sequential/random classification and byte totals. The
// heuristic is O(1) per request: a request is sequential when it starts
// exactly where the device's previous request ended, random otherwise.
// No request history is kept beyond one counter record per device.
type DiskPatternClassifier struct {
	store *CounterStore
}

// NewDiskPatternClassifier classifies into the given store's per-device
// counters.
func NewDiskPatternClassifier(store *CounterStore) *DiskPatternClassifier {
	return &DiskPatternClassifier{store: store}
}

// Observe folds one completed request into the device's counter. The
// very first request seen for a device establishes LastSector without
// being classified, so it is never miscounted as random.
func (c *DiskPatternClassifier) Observe(dev uint32, sector uint64, sectorCount uint32) {
	counter, ok := c.store.Disk(dev)
	if !ok {
		return
	}

	if last := counter.LastSector.Load(); last != 0 {
		if sector == last {
			counter.Sequential.Add(1)
		} else {
			counter.Random.Add(1)
		}
	}
	counter.Bytes.Add(uint64(sectorCount) * SectorSize)
	counter.LastSector.Store(sector + uint64(sectorCount))
}
