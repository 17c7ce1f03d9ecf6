package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/skobkin/netwatch-web/internal/config"
	"github.com/skobkin/netwatch-web/internal/counters"
	"github.com/skobkin/netwatch-web/internal/identity"
	"github.com/skobkin/netwatch-web/internal/netif"
	"github.com/skobkin/netwatch-web/internal/procscan"
	"github.com/skobkin/netwatch-web/internal/sampler"
	"github.com/skobkin/netwatch-web/internal/units"
	"github.com/skobkin/netwatch-web/internal/version"
)

type options struct {
	sysfsRoot  string
	procRoot   string
	source     string
	interval   time.Duration
	command    string
	accounting bool
	jsonOutput bool
}

func parseFlags() options {
	defaults := config.Default()

	var opts options
	flag.StringVar(&opts.sysfsRoot, "sysfs", envOrDefault("APP_SYSFS_ROOT", defaults.SysfsRoot), "Path to sysfs root")
	flag.StringVar(&opts.procRoot, "proc", envOrDefault("APP_PROC_ROOT", defaults.ProcRoot), "Path to procfs root")
	flag.StringVar(&opts.source, "source", envOrDefault("APP_COUNTER_SOURCE", defaults.CounterSource), "Counter source: procfs or netlink")
	flag.DurationVar(&opts.interval, "interval", defaults.SampleInterval, "Delay between the two counter reads")
	flag.StringVar(&opts.command, "command", envOrDefault("APP_ACCOUNTING_COMMAND", defaults.Accounting.Command), "Per-process accounting command")
	flag.BoolVar(&opts.accounting, "accounting", false, "Also run the accounting command and print per-process deltas")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit results as JSON")
	flag.Parse()
	return opts
}

type result struct {
	Version    string             `json:"version"`
	Interfaces []netif.Info       `json:"interfaces"`
	Sample     sampler.Sample     `json:"sample"`
	Processes  []procscan.Process `json:"processes,omitempty"`
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	infos, err := netif.Discover(opts.sysfsRoot, logger.With("component", "netif_discovery"))
	if err != nil {
		logger.Warn("interface discovery failed", "err", err)
	}

	var source counters.Source
	switch opts.source {
	case config.CounterSourceNetlink:
		source = counters.NewNetlinkSource()
	case config.CounterSourceProcfs:
		procSource, err := counters.NewProcfsSource(opts.procRoot, netif.LoopbackNames(infos))
		if err != nil {
			logger.Error("counter source init failed", "err", err)
			os.Exit(1)
		}
		source = procSource
	default:
		logger.Error("unknown counter source", "source", opts.source)
		os.Exit(1)
	}

	var engine *procscan.Engine
	if opts.accounting {
		engine = newEngine(opts, logger)
	}

	smp := sampler.New(source, logger.With("component", "sampler"))
	ctx := context.Background()

	smp.Sample()
	if engine != nil {
		engine.Trigger(ctx)
		engine.Wait()
	}
	time.Sleep(opts.interval)
	sample := smp.Sample()

	out := result{
		Version:    version.Current().String(),
		Interfaces: infos,
		Sample:     sample,
	}
	if engine != nil {
		engine.Trigger(ctx)
		engine.Wait()
		out.Processes = engine.Snapshot(time.Now())
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Error("encode probe output", "err", err)
			os.Exit(1)
		}
		return
	}

	printText(out)
}

func newEngine(opts options, logger *slog.Logger) *procscan.Engine {
	defaults := config.Default()

	command, err := procscan.NewCommandSource(opts.command)
	if err != nil {
		logger.Error("accounting command invalid", "err", err)
		os.Exit(1)
	}

	var lookup identity.Lookup
	if procLookup, err := identity.NewProcfsLookup(opts.procRoot); err == nil {
		lookup = procLookup
	}

	engine, err := procscan.NewEngine(defaults.Accounting, defaults.Retention, command,
		identity.NewCache(lookup, defaults.Retention.IdentityPrune), nil, logger)
	if err != nil {
		logger.Error("accounting engine init failed", "err", err)
		os.Exit(1)
	}
	return engine
}

func printText(out result) {
	if len(out.Interfaces) == 0 {
		fmt.Println("No interfaces detected")
	} else {
		fmt.Println("Discovered interfaces:")
	}
	for _, info := range out.Interfaces {
		fmt.Printf("- %s (MAC: %s, Driver: %s, PCI: %s, Model: %s, Loopback: %t)\n",
			info.Name, info.MAC, info.Driver, info.PCI, info.Model, info.Loopback)
	}

	elapsed := time.Duration(out.Sample.ElapsedMS) * time.Millisecond
	fmt.Println()
	fmt.Printf("Sampled over %s at %s\n", elapsed, out.Sample.Timestamp.UTC().Format(time.RFC3339))
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%-24s %14s %14s\n", "interface", "download", "upload")
	for _, iface := range out.Sample.Interfaces {
		fmt.Printf("%-24s %14s %14s\n", iface.Name,
			units.FormatRate(units.PerSecond(iface.DownloadBytes, elapsed)),
			units.FormatRate(units.PerSecond(iface.UploadBytes, elapsed)))
	}
	fmt.Printf("%-24s %14s %14s\n", "total",
		units.FormatRate(units.PerSecond(out.Sample.DownloadBytes, elapsed)),
		units.FormatRate(units.PerSecond(out.Sample.UploadBytes, elapsed)))

	if out.Processes == nil {
		return
	}
	fmt.Println()
	if len(out.Processes) == 0 {
		fmt.Println("No process traffic observed")
		return
	}
	fmt.Printf("%-32s %14s %14s\n", "process", "download", "upload")
	for _, proc := range out.Processes {
		fmt.Printf("%-32s %14s %14s\n", proc.Key,
			units.FormatBytes(proc.DownloadBytes),
			units.FormatBytes(proc.UploadBytes))
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
