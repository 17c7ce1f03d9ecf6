package counters

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vishvananda/netlink"
)

const netDevFixture = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  900000    1000    0    0    0     0          0         0   900000    1000    0    0    0     0       0          0
  eth0: 123456     200    0    0    0     0          0         0    65432     150    0    0    0     0       0          0
 wlan0:  1000       10    0    0    0     0          0         0     2000      20    0    0    0     0       0          0
 lo1:     50         1    0    0    0     0          0         0       50       1    0    0    0     0       0          0
`

func TestProcfsSourceSkipsLoopback(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "net", "dev"), []byte(netDevFixture), 0o600); err != nil {
		t.Fatalf("write net/dev: %v", err)
	}

	source, err := NewProcfsSource(root, map[string]struct{}{"lo1": {}})
	if err != nil {
		t.Fatalf("NewProcfsSource: %v", err)
	}

	snapshot, err := source.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(snapshot) != 2 {
		t.Fatalf("expected 2 interfaces, got %d: %+v", len(snapshot), snapshot)
	}
	if got := snapshot["eth0"]; got.RxBytes != 123456 || got.TxBytes != 65432 {
		t.Fatalf("unexpected eth0 counters %+v", got)
	}
	if got := snapshot["wlan0"]; got.RxBytes != 1000 || got.TxBytes != 2000 {
		t.Fatalf("unexpected wlan0 counters %+v", got)
	}
	if _, ok := snapshot["lo"]; ok {
		t.Fatalf("lo must be filtered")
	}
}

func TestProcfsSourceMissingFile(t *testing.T) {
	t.Parallel()

	source, err := NewProcfsSource(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewProcfsSource: %v", err)
	}
	if _, err := source.Read(); err == nil {
		t.Fatalf("expected error without net/dev")
	}
}

func TestNetlinkSourceFiltersLoopback(t *testing.T) {
	t.Parallel()

	source := &NetlinkSource{list: func() ([]netlink.Link, error) {
		return []netlink.Link{
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{
				Name:       "lo",
				Flags:      net.FlagUp | net.FlagLoopback,
				Statistics: &netlink.LinkStatistics{RxBytes: 10, TxBytes: 10},
			}},
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{
				Name:       "eth0",
				Flags:      net.FlagUp,
				Statistics: &netlink.LinkStatistics{RxBytes: 300, TxBytes: 400},
			}},
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "nostats"}},
		}, nil
	}}

	snapshot, err := source.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected only eth0, got %+v", snapshot)
	}
	if got := snapshot["eth0"]; got.RxBytes != 300 || got.TxBytes != 400 {
		t.Fatalf("unexpected eth0 counters %+v", got)
	}
}

func TestNetlinkSourceError(t *testing.T) {
	t.Parallel()

	source := &NetlinkSource{list: func() ([]netlink.Link, error) {
		return nil, errors.New("permission denied")
	}}
	if _, err := source.Read(); err == nil {
		t.Fatalf("expected error")
	}
}
