package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/monitor"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestExporterRunPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	exporter := New(pub, "netwatch.test", nil)

	updates := make(chan monitor.Snapshot, 2)
	updates <- monitor.Snapshot{Seq: 1, DownloadBytes: 10}
	updates <- monitor.Snapshot{Seq: 2, UploadBytes: 20}
	close(updates)

	if err := exporter.Run(context.Background(), updates); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.count() != 2 {
		t.Fatalf("expected two publishes, got %d", pub.count())
	}
	if pub.subjects[0] != "netwatch.test" {
		t.Fatalf("unexpected subject %q", pub.subjects[0])
	}

	var decoded monitor.Snapshot
	if err := json.Unmarshal(pub.payloads[1], &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Seq != 2 || decoded.UploadBytes != 20 {
		t.Fatalf("unexpected payload %+v", decoded)
	}

	published, failed := exporter.Counts()
	if published != 2 || failed != 0 {
		t.Fatalf("unexpected counts %d/%d", published, failed)
	}
}

func TestExporterCountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	exporter := New(pub, "netwatch.test", nil)

	if err := exporter.Publish(monitor.Snapshot{Seq: 1}); err == nil {
		t.Fatalf("expected publish error")
	}
	if _, failed := exporter.Counts(); failed != 1 {
		t.Fatalf("expected one failure, got %d", failed)
	}
}

func TestExporterStopsOnContextCancel(t *testing.T) {
	exporter := New(&recordingPublisher{}, "netwatch.test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exporter.Run(ctx, make(chan monitor.Snapshot)) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("exporter did not stop")
	}
}

func TestExporterCloseWithoutConnection(t *testing.T) {
	exporter := New(&recordingPublisher{}, "netwatch.test", nil)
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(config.NATSConfig{Subject: "x"}, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
