package procscan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/identity"
)

const testCooldown = 8 * time.Second

func newTestEngine(t *testing.T, source Source, names *identity.Cache, store *history.Store) *Engine {
	t.Helper()
	acct := config.AccountingConfig{Enable: true, Command: "acct", Timeout: time.Second, Cooldown: testCooldown}
	retention := config.RetentionConfig{History: 24 * time.Hour, IdentityPrune: time.Hour, MaintenanceInterval: time.Minute}
	engine, err := NewEngine(acct, retention, source, names, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestEngineEndToEnd(t *testing.T) {
	store := history.NewStore(24 * time.Hour)
	engine := newTestEngine(t, nil, nil, store)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("Chrome.501,1000,2000\n"), t0)
	if got := engine.Snapshot(t0); len(got) != 0 {
		t.Fatalf("first observation should only set the baseline, got %+v", got)
	}

	t1 := t0.Add(time.Second)
	engine.Ingest([]byte("Chrome.501,1500,2500\n"), t1)
	snap := engine.Snapshot(t1)
	if len(snap) != 1 {
		t.Fatalf("expected one live process, got %d", len(snap))
	}
	p := snap[0]
	if p.Key != "Chrome.501" || p.PID != 501 || p.Name != "Chrome" {
		t.Fatalf("unexpected identity %+v", p)
	}
	if p.DownloadBytes != 500 || p.UploadBytes != 500 {
		t.Fatalf("expected delta 500/500, got %d/%d", p.DownloadBytes, p.UploadBytes)
	}
	if !p.LastActive.Equal(t1) {
		t.Fatalf("unexpected LastActive %s", p.LastActive)
	}

	t2 := t1.Add(time.Second)
	engine.Ingest([]byte("Chrome.501,1800,2600\n"), t2)

	records := store.Records(history.SortByTotal)
	if len(records) != 1 {
		t.Fatalf("expected one history record, got %d", len(records))
	}
	if records[0].Name != "Chrome" || records[0].TotalDownload != 800 || records[0].TotalUpload != 600 {
		t.Fatalf("unexpected history record %+v", records[0])
	}

	evictAt := t2.Add(testCooldown + time.Second)
	engine.Ingest(nil, evictAt)
	if got := engine.Snapshot(evictAt); len(got) != 0 {
		t.Fatalf("expected eviction after cooldown, got %+v", got)
	}
}

func TestEngineCooldownBoundary(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("curl.7,0,0"), t0)
	engine.Ingest([]byte("curl.7,10,10"), t0)

	justBefore := t0.Add(testCooldown - time.Nanosecond)
	engine.Ingest([]byte("curl.7,10,10"), justBefore)
	snap := engine.Snapshot(justBefore)
	if len(snap) != 1 {
		t.Fatalf("idle entry must survive one unit before cooldown, got %d", len(snap))
	}
	if snap[0].Active() {
		t.Fatalf("expected idle entry, got %+v", snap[0])
	}
	if !snap[0].LastActive.Equal(t0) {
		t.Fatalf("zero delta must not refresh LastActive, got %s", snap[0].LastActive)
	}

	atCooldown := t0.Add(testCooldown)
	engine.Ingest([]byte("curl.7,10,10"), atCooldown)
	if got := engine.Snapshot(atCooldown); len(got) != 0 {
		t.Fatalf("idle entry must be evicted at exactly the cooldown, got %+v", got)
	}
	if stats := engine.Stats(); stats.Live != 0 {
		t.Fatalf("expected live table empty, got %d", stats.Live)
	}
}

func TestEngineIdempotentReplay(t *testing.T) {
	store := history.NewStore(24 * time.Hour)
	engine := newTestEngine(t, nil, nil, store)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("sshd.22,100,100"), t0)
	engine.Ingest([]byte("sshd.22,400,900"), t0.Add(time.Second))
	engine.Ingest([]byte("sshd.22,400,900"), t0.Add(2*time.Second))

	snap := engine.Snapshot(t0.Add(2 * time.Second))
	if len(snap) != 1 || snap[0].Active() {
		t.Fatalf("replayed counters must yield zero delta, got %+v", snap)
	}
	if records := store.Records(history.SortByTotal); len(records) != 1 || records[0].Total() != 1100 {
		t.Fatalf("replay must not add history, got %+v", records)
	}
}

func TestEngineCounterRegressionIsZero(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("app.9,5000,5000"), t0)
	engine.Ingest([]byte("app.9,100,6000"), t0.Add(time.Second))
	snap := engine.Snapshot(t0.Add(time.Second))
	if len(snap) != 1 {
		t.Fatalf("expected one process, got %d", len(snap))
	}
	if snap[0].DownloadBytes != 0 || snap[0].UploadBytes != 1000 {
		t.Fatalf("expected regression to clamp to zero, got %+v", snap[0])
	}

	engine.Ingest([]byte("app.9,300,6000"), t0.Add(2*time.Second))
	snap = engine.Snapshot(t0.Add(2 * time.Second))
	if snap[0].DownloadBytes != 200 {
		t.Fatalf("regressed counter must become the new baseline, got %d", snap[0].DownloadBytes)
	}
}

func TestEngineAbsentKeysGoIdle(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("a.1,0,0\nb.2,0,0"), t0)
	engine.Ingest([]byte("a.1,10,0\nb.2,0,10"), t0.Add(time.Second))
	engine.Ingest([]byte("a.1,20,0"), t0.Add(2*time.Second))

	snap := engine.Snapshot(t0.Add(2 * time.Second))
	if len(snap) != 2 {
		t.Fatalf("expected two entries, got %+v", snap)
	}
	if snap[0].Key != "a.1" || !snap[0].Active() {
		t.Fatalf("expected active a.1 first, got %+v", snap[0])
	}
	if snap[1].Key != "b.2" || snap[1].Active() {
		t.Fatalf("expected idle b.2 second, got %+v", snap[1])
	}
}

func TestEngineSnapshotOrdering(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("idle.1,0,0\nsmall.2,0,0\nbig.3,0,0\ndl.4,0,0\nul.5,0,0\ntwin.6,0,0"), t0)
	engine.Ingest([]byte("idle.1,50,0"), t0.Add(time.Second))
	engine.Ingest([]byte("small.2,1,1\nbig.3,100,100\ndl.4,60,40\nul.5,40,60\ntwin.6,40,60"), t0.Add(2*time.Second))

	snap := engine.Snapshot(t0.Add(2 * time.Second))
	got := make([]string, 0, len(snap))
	for _, p := range snap {
		got = append(got, p.Key)
	}
	want := []string{"big.3", "dl.4", "twin.6", "ul.5", "small.2", "idle.1"}
	if len(got) != len(want) {
		t.Fatalf("unexpected order %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
}

func TestEngineResolvesIdentity(t *testing.T) {
	names := identity.NewCache(identity.LookupFunc(func(pid int) (string, string, bool) {
		if pid == 42 {
			return "Firefox", "firefox", true
		}
		return "", "", false
	}), time.Hour)
	store := history.NewStore(24 * time.Hour)
	engine := newTestEngine(t, nil, names, store)
	t0 := time.Unix(1_700_000_000, 0)

	engine.Ingest([]byte("firefox-bin.42,0,0\nghost.43,0,0"), t0)
	engine.Ingest([]byte("firefox-bin.42,10,0\nghost.43,0,5"), t0.Add(time.Second))

	snap := engine.Snapshot(t0.Add(time.Second))
	byKey := map[string]Process{}
	for _, p := range snap {
		byKey[p.Key] = p
	}
	if p := byKey["firefox-bin.42"]; p.Name != "Firefox" || p.Icon != "firefox" {
		t.Fatalf("expected resolved identity, got %+v", p)
	}
	if p := byKey["ghost.43"]; p.Name != "ghost" || p.Icon != identity.DefaultIcon {
		t.Fatalf("expected fallback identity, got %+v", p)
	}
	if records := store.Records(history.SortByDownload); len(records) != 2 || records[0].Name != "Firefox" {
		t.Fatalf("history must be keyed by display name, got %+v", records)
	}

	// Identity entries share the ingest clock.
	if removed := names.Prune(t0.Add(time.Hour)); removed != 0 {
		t.Fatalf("entries touched at ingest time must survive the window, removed %d", removed)
	}
	if removed := names.Prune(t0.Add(2 * time.Hour)); removed != 2 {
		t.Fatalf("expected both identities pruned two hours after ingest, removed %d", removed)
	}
}

func TestTriggerAtMostOneInFlight(t *testing.T) {
	var calls atomic.Int32
	source := SourceFunc(func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte("worker.1,10,10"), nil
	})
	engine := newTestEngine(t, source, nil, nil)

	ctx := context.Background()
	started := 0
	for i := 0; i < 3; i++ {
		if engine.Trigger(ctx) {
			started++
		}
		time.Sleep(3 * time.Millisecond)
	}
	engine.Wait()

	if started != 1 {
		t.Fatalf("expected exactly one trigger to start a cycle, got %d", started)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one source invocation, got %d", got)
	}
	stats := engine.Stats()
	if stats.SkippedTriggers != 2 || stats.Cycles != 1 || stats.Tracked != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if engine.Sampling() {
		t.Fatalf("expected no cycle in flight after Wait")
	}

	if !engine.Trigger(ctx) {
		t.Fatalf("expected trigger to start a new cycle once idle")
	}
	engine.Wait()
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected second invocation, got %d", got)
	}
}

func TestCycleSkipsIngestOnFailure(t *testing.T) {
	fail := false
	source := SourceFunc(func(context.Context) ([]byte, error) {
		if fail {
			return nil, errors.New("tool missing")
		}
		return []byte("app.1,0,0"), nil
	})
	engine := newTestEngine(t, source, nil, nil)

	engine.Trigger(context.Background())
	engine.Wait()

	fail = true
	engine.Trigger(context.Background())
	engine.Wait()

	stats := engine.Stats()
	if stats.Cycles != 1 || stats.FailedCycles != 1 {
		t.Fatalf("expected failed cycle to skip ingest, got %+v", stats)
	}
	if stats.Tracked != 1 {
		t.Fatalf("baseline must survive a failed cycle, got %d", stats.Tracked)
	}
}

func TestCycleIngestsOutputDespiteExitError(t *testing.T) {
	source := SourceFunc(func(context.Context) ([]byte, error) {
		return []byte("app.1,0,0\napp.2,0,0"), errors.New("exit status 1")
	})
	engine := newTestEngine(t, source, nil, nil)
	var logs bytes.Buffer
	engine.logger = slog.New(slog.NewTextHandler(&logs, nil))

	engine.Trigger(context.Background())
	engine.Wait()

	if stats := engine.Stats(); stats.Cycles != 1 || stats.Tracked != 2 {
		t.Fatalf("expected partial output to be ingested, got %+v", stats)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "exit status 1") {
		t.Fatalf("expected the tool error logged at warn, got %q", logs.String())
	}
}

func TestCycleTimeoutYieldsNothing(t *testing.T) {
	source := SourceFunc(func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	acct := config.AccountingConfig{Enable: true, Command: "acct", Timeout: 20 * time.Millisecond, Cooldown: testCooldown}
	retention := config.RetentionConfig{History: time.Hour, IdentityPrune: time.Hour, MaintenanceInterval: time.Minute}
	engine, err := NewEngine(acct, retention, source, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	engine.Trigger(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle did not honour the accounting timeout")
	}
	if stats := engine.Stats(); stats.FailedCycles != 1 || stats.Cycles != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestMaintenancePrunesStateAndIsThrottled(t *testing.T) {
	names := identity.NewCache(nil, time.Hour)
	store := history.NewStore(24 * time.Hour)
	engine := newTestEngine(t, nil, names, store)
	t0 := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	engine.Ingest([]byte("gone.1,0,0\nstay.2,0,0"), t0)
	engine.Ingest([]byte("gone.1,10,10\nstay.2,0,0"), t0.Add(time.Second))
	engine.maintain(t0.Add(time.Second))

	later := t0.Add(time.Second + testCooldown)
	engine.Ingest([]byte("stay.2,0,0"), later)

	engine.maintain(later)
	if got := engine.Stats().Tracked; got != 2 {
		t.Fatalf("maintenance must be throttled, tracked=%d", got)
	}

	final := t0.Add(2 * time.Minute)
	engine.maintain(final)
	if got := engine.Stats().Tracked; got != 1 {
		t.Fatalf("expected stale baseline dropped, tracked=%d", got)
	}

	engine.maintain(t0.Add(25 * time.Hour))
	if store.Len() != 0 {
		t.Fatalf("expected history cleanup, got %d records", store.Len())
	}
	if names.Len() != 0 {
		t.Fatalf("expected identity prune, got %d entries", names.Len())
	}
}

func TestNewEngineValidation(t *testing.T) {
	retention := config.RetentionConfig{MaintenanceInterval: time.Minute}
	if _, err := NewEngine(config.AccountingConfig{Timeout: time.Second}, retention, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for zero cooldown")
	}
	if _, err := NewEngine(config.AccountingConfig{Cooldown: time.Second}, retention, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
	acct := config.AccountingConfig{Cooldown: time.Second, Timeout: time.Second}
	if _, err := NewEngine(acct, config.RetentionConfig{}, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for zero maintenance interval")
	}
}
