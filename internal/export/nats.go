// Package export republishes monitor snapshots onto a NATS subject.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/monitor"
)

// Publisher is the subset of *nats.Conn used by the exporter.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Exporter publishes every snapshot it receives as JSON.
type Exporter struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
	drain   func() error

	published atomic.Uint64
	failed    atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the configured NATS server.
func Connect(cfg config.NATSConfig, logger *slog.Logger) (*Exporter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is empty")
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("netwatch-web"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	exporter := New(nc, cfg.Subject, logger)
	exporter.drain = nc.Drain
	exporter.logger.Info("connected to nats", "url", nc.ConnectedUrlRedacted(), "subject", cfg.Subject)
	return exporter, nil
}

// New wraps an existing publisher.
func New(pub Publisher, subject string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{
		pub:     pub,
		subject: subject,
		logger:  logger.With("component", "nats_exporter"),
	}
}

// Run publishes snapshots from updates until ctx is done or updates closes.
func (e *Exporter) Run(ctx context.Context, updates <-chan monitor.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-updates:
			if !ok {
				return nil
			}
			if err := e.Publish(snapshot); err != nil {
				e.logger.Warn("publish snapshot failed", "seq", snapshot.Seq, "err", err)
			}
		}
	}
}

// Publish sends one snapshot.
func (e *Exporter) Publish(snapshot monitor.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		e.failed.Add(1)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := e.pub.Publish(e.subject, data); err != nil {
		e.failed.Add(1)
		return fmt.Errorf("publish to %s: %w", e.subject, err)
	}
	e.published.Add(1)
	return nil
}

// Counts returns the number of published and failed snapshots.
func (e *Exporter) Counts() (published, failed uint64) {
	return e.published.Load(), e.failed.Load()
}

// Close drains the underlying connection, if the exporter owns one.
func (e *Exporter) Close() error {
	e.closeOnce.Do(func() {
		if e.drain != nil {
			if err := e.drain(); err != nil {
				e.closeErr = fmt.Errorf("drain nats: %w", err)
			}
		}
	})
	return e.closeErr
}
