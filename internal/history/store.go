// Package history keeps per-application traffic totals for a bounded window.
package history

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// SortKey selects the metric Records orders by.
type SortKey string

const (
	SortByDownload SortKey = "download"
	SortByUpload   SortKey = "upload"
	SortByTotal    SortKey = "total"
)

// ParseSortKey validates a user-supplied sort key. An empty value means total.
func ParseSortKey(value string) (SortKey, error) {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(value))); key {
	case "":
		return SortByTotal, nil
	case SortByDownload, SortByUpload, SortByTotal:
		return key, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", value)
	}
}

// Record accumulates traffic for one display name across process restarts.
type Record struct {
	Name          string    `json:"name"`
	TotalDownload uint64    `json:"total_download"`
	TotalUpload   uint64    `json:"total_upload"`
	Icon          string    `json:"icon,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Total is download plus upload.
func (r Record) Total() uint64 {
	return r.TotalDownload + r.TotalUpload
}

// Store is an in-memory ledger keyed by display name.
type Store struct {
	retention time.Duration

	mu      sync.Mutex
	records map[string]Record
}

// NewStore creates a store that evicts records unseen for longer than retention.
func NewStore(retention time.Duration) *Store {
	return &Store{
		retention: retention,
		records:   make(map[string]Record),
	}
}

// Record adds an interval's deltas to name. Zero traffic is ignored. The icon
// is replaced only when a non-empty one is supplied.
func (s *Store) Record(name string, download, upload uint64, icon string, now time.Time) {
	if download == 0 && upload == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		rec = Record{Name: name, FirstSeen: now}
	}
	rec.TotalDownload += download
	rec.TotalUpload += upload
	rec.LastSeen = now
	if icon != "" {
		rec.Icon = icon
	}
	s.records[name] = rec
}

// Records returns a copy of all records sorted descending by key, ties
// broken by name.
func (s *Store) Records(key SortKey) []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	metric := func(r Record) uint64 {
		switch key {
		case SortByDownload:
			return r.TotalDownload
		case SortByUpload:
			return r.TotalUpload
		default:
			return r.Total()
		}
	}

	sort.Slice(out, func(i, j int) bool {
		mi, mj := metric(out[i]), metric(out[j])
		if mi != mj {
			return mi > mj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Cleanup evicts records whose last activity is older than the retention
// period and reports how many were removed.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, rec := range s.records {
		if now.Sub(rec.LastSeen) > s.retention {
			delete(s.records, name)
			removed++
		}
	}
	return removed
}

// Totals sums download and upload over all retained records.
func (s *Store) Totals() (download, upload uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		download += rec.TotalDownload
		upload += rec.TotalUpload
	}
	return download, upload
}

// Len reports the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
