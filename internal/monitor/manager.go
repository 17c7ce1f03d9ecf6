package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/procscan"
	"github.com/skobkin/netwatch-web/internal/sampler"
	"github.com/skobkin/netwatch-web/internal/scheduler"
)

// Manager drives periodic sampling and publishes snapshots.
type Manager struct {
	sampler *sampler.Sampler
	engine  *procscan.Engine
	history *history.Store
	runner  *scheduler.Runner
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.RWMutex
	runCtx      context.Context
	latest      Snapshot
	hasLatest   bool
	seq         uint64
	trend       []TrendPoint
	subscribers map[*subscriber]struct{}
}

// NewManager constructs a Manager. engine and store may be nil when process
// accounting is disabled.
func NewManager(interval time.Duration, smp *sampler.Sampler, engine *procscan.Engine, store *history.Store, logger *slog.Logger) (*Manager, error) {
	if smp == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		sampler:     smp,
		engine:      engine,
		history:     store,
		logger:      logger.With("component", "monitor"),
		now:         time.Now,
		subscribers: make(map[*subscriber]struct{}),
	}

	runner, err := scheduler.New(interval, m.tick, logger.With("component", "scheduler"))
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	m.runner = runner
	return m, nil
}

// Run samples on the configured interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.logger.Info("monitor started", "interval", m.runner.Interval(), "accounting", m.engine != nil)
	err := m.runner.Run(ctx)

	if m.engine != nil {
		m.engine.Wait()
	}
	m.logger.Info("monitor stopping", "reason", ctx.Err())
	return err
}

func (m *Manager) tick(ctx context.Context) {
	sample := m.sampler.Sample()
	if m.engine != nil {
		m.engine.Trigger(ctx)
	}
	m.publish(sample)
}

// Refresh resamples immediately, waiting up to ctx for the accounting cycle
// it starts (or the one already in flight) before publishing.
func (m *Manager) Refresh(ctx context.Context) Snapshot {
	sample := m.sampler.Sample()

	if m.engine != nil {
		m.engine.Trigger(m.backgroundContext())

		done := make(chan struct{})
		go func() {
			m.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Debug("refresh returned before accounting finished", "err", ctx.Err())
		}
	}

	return m.publish(sample)
}

func (m *Manager) backgroundContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// SetInterval restarts the periodic schedule with a new interval.
func (m *Manager) SetInterval(interval time.Duration) error {
	return m.runner.Reset(interval)
}

// Interval returns the current sampling interval.
func (m *Manager) Interval() time.Duration {
	return m.runner.Interval()
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Ready reports whether at least one snapshot has been published.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLatest
}

// Subscribe registers for snapshot updates. The latest snapshot, if any, is
// delivered immediately.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	if m.hasLatest {
		sub.send(m.latest)
	}
	m.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { m.removeSubscriber(sub) })
	}
	return sub.channel(), unsubscribe
}

// History returns retained per-application totals sorted by key.
func (m *Manager) History(key history.SortKey) []history.Record {
	if m.history == nil {
		return []history.Record{}
	}
	return m.history.Records(key)
}

// HistoryTotals sums all retained history.
func (m *Manager) HistoryTotals() (download, upload uint64) {
	if m.history == nil {
		return 0, 0
	}
	return m.history.Totals()
}

// AccountingStats reports process attribution counters.
func (m *Manager) AccountingStats() (procscan.Stats, bool) {
	if m.engine == nil {
		return procscan.Stats{}, false
	}
	return m.engine.Stats(), true
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

func (m *Manager) publish(sample sampler.Sample) Snapshot {
	var processes []procscan.Process
	if m.engine != nil {
		processes = m.engine.Snapshot(m.now())
	}
	if processes == nil {
		processes = []procscan.Process{}
	}
	interfaces := sample.Interfaces
	if interfaces == nil {
		interfaces = []sampler.InterfaceRate{}
	}

	m.mu.Lock()
	m.seq++
	m.trend = append(m.trend, TrendPoint{
		Timestamp:     sample.Timestamp,
		DownloadBytes: sample.DownloadBytes,
		UploadBytes:   sample.UploadBytes,
	})
	if len(m.trend) > TrendLength {
		m.trend = append([]TrendPoint(nil), m.trend[len(m.trend)-TrendLength:]...)
	}
	trend := make([]TrendPoint, len(m.trend))
	copy(trend, m.trend)

	snapshot := Snapshot{
		Timestamp:     sample.Timestamp,
		Seq:           m.seq,
		ElapsedMS:     sample.ElapsedMS,
		UploadBytes:   sample.UploadBytes,
		DownloadBytes: sample.DownloadBytes,
		Interfaces:    interfaces,
		Processes:     processes,
		Trend:         trend,
	}
	m.latest = snapshot
	m.hasLatest = true

	subs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.send(snapshot)
	}
	return snapshot
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
}
