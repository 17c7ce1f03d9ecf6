package procscan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/identity"
	"github.com/skobkin/netwatch-web/internal/sampler"
)

// Engine attributes accounting output to live processes and feeds the
// traffic history. At most one accounting cycle runs at a time.
type Engine struct {
	source   Source
	names    *identity.Cache
	history  *history.Store
	logger   *slog.Logger
	cooldown time.Duration
	timeout  time.Duration
	every    time.Duration
	now      func() time.Time

	mu              sync.Mutex
	live            map[Key]*Process
	baseline        map[Key]Counters
	lastSeen        map[Key]struct{}
	sampling        bool
	done            chan struct{}
	lastMaintenance time.Time
	stats           Stats
}

// NewEngine wires an engine to its collaborators. names and store may be nil.
func NewEngine(acct config.AccountingConfig, retention config.RetentionConfig, source Source, names *identity.Cache, store *history.Store, logger *slog.Logger) (*Engine, error) {
	if acct.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be > 0")
	}
	if acct.Timeout <= 0 {
		return nil, fmt.Errorf("accounting timeout must be > 0")
	}
	if retention.MaintenanceInterval <= 0 {
		return nil, fmt.Errorf("maintenance interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		source:   source,
		names:    names,
		history:  store,
		logger:   logger.With("component", "procscan_engine"),
		cooldown: acct.Cooldown,
		timeout:  acct.Timeout,
		every:    retention.MaintenanceInterval,
		now:      time.Now,
		live:     make(map[Key]*Process),
		baseline: make(map[Key]Counters),
		lastSeen: make(map[Key]struct{}),
	}, nil
}

// Trigger starts a background accounting cycle. It returns false without
// touching the source when a cycle is already in flight.
func (e *Engine) Trigger(ctx context.Context) bool {
	e.mu.Lock()
	if e.sampling {
		e.stats.SkippedTriggers++
		e.mu.Unlock()
		return false
	}
	e.sampling = true
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.sampling = false
			e.done = nil
			e.mu.Unlock()
			close(done)
		}()
		e.cycle(ctx)
	}()
	return true
}

// Wait blocks until the in-flight cycle, if any, has finished.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Sampling reports whether a cycle is in flight.
func (e *Engine) Sampling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampling
}

func (e *Engine) cycle(parent context.Context) {
	if e.source == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, e.timeout)
	output, err := e.source.Collect(ctx)
	cancel()

	now := e.now()
	if err != nil {
		e.mu.Lock()
		e.stats.FailedCycles++
		e.mu.Unlock()
		if len(output) == 0 {
			e.logger.Warn("accounting cycle skipped", "err", err)
			e.maintain(now)
			return
		}
		e.logger.Warn("accounting tool reported an error, ingesting its output", "err", err)
	}

	e.Ingest(output, now)
	e.maintain(now)
}

type historyWrite struct {
	name     string
	icon     string
	download uint64
	upload   uint64
}

// Ingest applies one round of accounting output observed at now.
func (e *Engine) Ingest(output []byte, now time.Time) {
	records := parseOutput(output)

	resolved := make([]identity.Identity, len(records))
	for i, rec := range records {
		resolved[i] = e.resolve(rec.key, now)
	}

	var writes []historyWrite

	e.mu.Lock()
	seen := make(map[Key]struct{}, len(records))
	for i, rec := range records {
		key := rec.key
		seen[key] = struct{}{}

		var download, upload uint64
		if prev, ok := e.baseline[key]; ok {
			download = sampler.Delta(rec.counters.RxBytes, prev.RxBytes)
			upload = sampler.Delta(rec.counters.TxBytes, prev.TxBytes)
		}
		e.baseline[key] = rec.counters

		id := resolved[i]
		if download > 0 || upload > 0 {
			e.live[key] = &Process{
				Key:           key.String(),
				PID:           key.PID,
				Name:          id.Name,
				DownloadBytes: download,
				UploadBytes:   upload,
				Icon:          id.Icon,
				LastActive:    now,
			}
			writes = append(writes, historyWrite{name: id.Name, icon: id.Icon, download: download, upload: upload})
			continue
		}

		if existing, ok := e.live[key]; ok {
			existing.DownloadBytes = 0
			existing.UploadBytes = 0
		}
	}

	for key, proc := range e.live {
		if _, ok := seen[key]; !ok {
			proc.DownloadBytes = 0
			proc.UploadBytes = 0
		}
	}

	for key, proc := range e.live {
		if !proc.Active() && now.Sub(proc.LastActive) >= e.cooldown {
			delete(e.live, key)
		}
	}

	e.lastSeen = seen
	e.stats.Cycles++
	e.mu.Unlock()

	if e.history != nil {
		for _, w := range writes {
			e.history.Record(w.name, w.download, w.upload, w.icon, now)
		}
	}
}

func (e *Engine) resolve(key Key, now time.Time) identity.Identity {
	if e.names == nil {
		return identity.Identity{Name: key.Name, Icon: identity.DefaultIcon}
	}
	return e.names.Resolve(key.PID, key.Name, now)
}

// Snapshot returns live processes that are active or still within cooldown.
// Active entries come first; each group is ordered by total, then download,
// then upload (all descending) and finally by key.
func (e *Engine) Snapshot(now time.Time) []Process {
	e.mu.Lock()
	out := make([]Process, 0, len(e.live))
	for _, proc := range e.live {
		out = append(out, *proc)
	}
	e.mu.Unlock()

	filtered := out[:0]
	for _, proc := range out {
		if proc.Active() || now.Sub(proc.LastActive) < e.cooldown {
			filtered = append(filtered, proc)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.Active() != b.Active() {
			return a.Active()
		}
		if a.Total() != b.Total() {
			return a.Total() > b.Total()
		}
		if a.DownloadBytes != b.DownloadBytes {
			return a.DownloadBytes > b.DownloadBytes
		}
		if a.UploadBytes != b.UploadBytes {
			return a.UploadBytes > b.UploadBytes
		}
		return a.Key < b.Key
	})
	return filtered
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.Live = len(e.live)
	stats.Tracked = len(e.baseline)
	return stats
}

// maintain runs housekeeping at most once per maintenance interval.
func (e *Engine) maintain(now time.Time) {
	e.mu.Lock()
	if !e.lastMaintenance.IsZero() && now.Sub(e.lastMaintenance) < e.every {
		e.mu.Unlock()
		return
	}
	e.lastMaintenance = now

	dropped := 0
	for key := range e.baseline {
		if _, ok := e.lastSeen[key]; ok {
			continue
		}
		if _, ok := e.live[key]; ok {
			continue
		}
		delete(e.baseline, key)
		dropped++
	}
	e.mu.Unlock()

	var expired, pruned int
	if e.history != nil {
		expired = e.history.Cleanup(now)
	}
	if e.names != nil {
		pruned = e.names.Prune(now)
	}

	e.logger.Debug("maintenance complete",
		"baseline_dropped", dropped,
		"history_expired", expired,
		"identities_pruned", pruned,
	)
}
