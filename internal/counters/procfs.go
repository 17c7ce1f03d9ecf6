package counters

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// ProcfsSource reads /proc/net/dev.
type ProcfsSource struct {
	fs       procfs.FS
	loopback map[string]struct{}
}

// NewProcfsSource builds a source rooted at procRoot. Names in loopback are
// dropped from every snapshot, as is "lo".
func NewProcfsSource(procRoot string, loopback map[string]struct{}) (*ProcfsSource, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	names := make(map[string]struct{}, len(loopback)+1)
	for name := range loopback {
		names[name] = struct{}{}
	}
	names["lo"] = struct{}{}
	return &ProcfsSource{fs: fs, loopback: names}, nil
}

// Read implements Source.
func (s *ProcfsSource) Read() (Snapshot, error) {
	netDev, err := s.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("read net/dev: %w", err)
	}

	snapshot := make(Snapshot, len(netDev))
	for name, line := range netDev {
		if _, skip := s.loopback[name]; skip {
			continue
		}
		snapshot[name] = Counters{RxBytes: line.RxBytes, TxBytes: line.TxBytes}
	}
	return snapshot, nil
}
