package counters

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// NetlinkSource reads link statistics over rtnetlink.
type NetlinkSource struct {
	list func() ([]netlink.Link, error)
}

// NewNetlinkSource builds a source backed by netlink.LinkList.
func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{list: netlink.LinkList}
}

// Read implements Source.
func (s *NetlinkSource) Read() (Snapshot, error) {
	links, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	snapshot := make(Snapshot, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil || attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if attrs.Statistics == nil {
			continue
		}
		snapshot[attrs.Name] = Counters{
			RxBytes: attrs.Statistics.RxBytes,
			TxBytes: attrs.Statistics.TxBytes,
		}
	}
	return snapshot, nil
}
