// Package counters reads cumulative per-interface byte counters from the OS.
package counters

// Counters holds cumulative byte totals for one interface.
type Counters struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// Snapshot maps interface name to its cumulative counters. Loopback
// interfaces are never present.
type Snapshot map[string]Counters

// Source yields a fresh counter snapshot on every call.
type Source interface {
	Read() (Snapshot, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() (Snapshot, error)

// Read implements Source.
func (f SourceFunc) Read() (Snapshot, error) {
	return f()
}
