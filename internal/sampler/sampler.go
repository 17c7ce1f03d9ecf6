// Package sampler turns cumulative interface counters into interval deltas.
package sampler

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/netwatch-web/internal/counters"
)

// Sampler differences successive counter snapshots. It is safe for
// concurrent use: the periodic tick and on-demand refreshes share one.
type Sampler struct {
	source counters.Source
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	prev   counters.Snapshot
	prevAt time.Time
}

// New constructs a Sampler reading from source.
func New(source counters.Source, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sampler{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Sample reads current counters and returns the deltas against the previous
// read. The first call, and any interface without a baseline, yields zero.
// A counter that went backwards contributes zero for that sample.
//
// The read and the baseline swap happen under one lock, so overlapping
// callers observe counters in the order their baselines are installed.
func (s *Sampler) Sample() Sample {
	s.mu.Lock()
	now := s.now()
	current, err := s.source.Read()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("interface counter read failed", "err", err)
		return Sample{Timestamp: now.UTC()}
	}
	prev := s.prev
	prevAt := s.prevAt
	s.prev = current
	s.prevAt = now
	s.mu.Unlock()

	sample := Sample{
		Timestamp:  now.UTC(),
		Interfaces: make([]InterfaceRate, 0, len(current)),
	}
	if !prevAt.IsZero() {
		sample.ElapsedMS = now.Sub(prevAt).Milliseconds()
	}

	for name, cur := range current {
		rate := InterfaceRate{Name: name}
		if last, ok := prev[name]; ok {
			rate.DownloadBytes = Delta(cur.RxBytes, last.RxBytes)
			rate.UploadBytes = Delta(cur.TxBytes, last.TxBytes)
		}
		sample.DownloadBytes += rate.DownloadBytes
		sample.UploadBytes += rate.UploadBytes
		sample.Interfaces = append(sample.Interfaces, rate)
	}

	sort.Slice(sample.Interfaces, func(i, j int) bool {
		return sample.Interfaces[i].Name < sample.Interfaces[j].Name
	})

	return sample
}

// Delta returns current-previous, or zero when the counter regressed.
func Delta(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}
