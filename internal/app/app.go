// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/counters"
	"github.com/skobkin/netwatch-web/internal/export"
	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/httpserver"
	"github.com/skobkin/netwatch-web/internal/identity"
	"github.com/skobkin/netwatch-web/internal/monitor"
	"github.com/skobkin/netwatch-web/internal/netif"
	"github.com/skobkin/netwatch-web/internal/procscan"
	"github.com/skobkin/netwatch-web/internal/sampler"
	"github.com/skobkin/netwatch-web/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")
	appLogger.Info("starting", "version", version.Current().String())

	interfaces, err := netif.Discover(cfg.SysfsRoot, baseLogger.With("component", "netif_discovery"))
	if err != nil {
		appLogger.Warn("interface discovery failed", "err", err)
	}
	appLogger.Info("discovered interfaces", "count", len(interfaces))

	source, err := newCounterSource(cfg, interfaces)
	if err != nil {
		return err
	}
	smp := sampler.New(source, baseLogger.With("component", "sampler"))

	var (
		engine *procscan.Engine
		store  *history.Store
	)

	if cfg.Accounting.Enable {
		engine, store, err = newAccounting(cfg, baseLogger)
		if err != nil {
			return err
		}
	} else {
		appLogger.Info("process accounting disabled")
	}

	mon, err := monitor.NewManager(cfg.SampleInterval, smp, engine, store, baseLogger.With("component", "monitor"))
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}

	monitorCtx, monitorCancel := context.WithCancel(ctx)
	defer monitorCancel()

	monitorErrCh := make(chan error, 1)
	go func() {
		monitorErrCh <- mon.Run(monitorCtx)
	}()

	var (
		exporter    *export.Exporter
		exportErrCh chan error
		// Stays a nil interface when export is disabled.
		exportCounter httpserver.ExportCounter
	)

	if cfg.NATS.URL != "" {
		exporter, err = export.Connect(cfg.NATS, baseLogger)
		if err != nil {
			return fmt.Errorf("init nats export: %w", err)
		}
		defer func() {
			if err := exporter.Close(); err != nil {
				appLogger.Warn("nats exporter close", "err", err)
			}
		}()
		exportCounter = exporter

		updates, unsubscribe := mon.Subscribe()
		defer unsubscribe()

		exportErrCh = make(chan error, 1)
		go func() {
			exportErrCh <- exporter.Run(monitorCtx, updates)
		}()
	}

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), interfaces, mon, exportCounter)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stopWorkers := func() error {
		monitorCancel()
		if monitorErrCh != nil {
			if monitorErr := <-monitorErrCh; monitorErr != nil && !errors.Is(monitorErr, context.Canceled) {
				return monitorErr
			}
		}
		if exportErrCh != nil {
			if exportErr := <-exportErrCh; exportErr != nil && !errors.Is(exportErr, context.Canceled) {
				return exportErr
			}
		}
		return nil
	}

	for {
		select {
		case err := <-errCh:
			if err != nil {
				monitorCancel()
				return err
			}
			return stopWorkers()
		case err := <-monitorErrCh:
			monitorErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case err := <-exportErrCh:
			exportErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			if err := stopWorkers(); err != nil {
				return err
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}

func newCounterSource(cfg config.Config, interfaces []netif.Info) (counters.Source, error) {
	switch cfg.CounterSource {
	case config.CounterSourceNetlink:
		return counters.NewNetlinkSource(), nil
	default:
		source, err := counters.NewProcfsSource(cfg.ProcRoot, netif.LoopbackNames(interfaces))
		if err != nil {
			return nil, fmt.Errorf("init counter source: %w", err)
		}
		return source, nil
	}
}

func newAccounting(cfg config.Config, baseLogger *slog.Logger) (*procscan.Engine, *history.Store, error) {
	logger := baseLogger.With("component", "procscan")

	command, err := procscan.NewCommandSource(cfg.Accounting.Command)
	if err != nil {
		return nil, nil, fmt.Errorf("init accounting command: %w", err)
	}

	var lookup identity.Lookup
	procLookup, err := identity.NewProcfsLookup(cfg.ProcRoot)
	if err != nil {
		logger.Warn("process identity lookup unavailable, using reported names", "err", err)
	} else {
		lookup = procLookup
	}
	names := identity.NewCache(lookup, cfg.Retention.IdentityPrune)
	store := history.NewStore(cfg.Retention.History)

	engine, err := procscan.NewEngine(cfg.Accounting, cfg.Retention, command, names, store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init accounting engine: %w", err)
	}
	logger.Info("process accounting enabled", "command", command.String(), "cooldown", cfg.Accounting.Cooldown)
	return engine, store, nil
}
