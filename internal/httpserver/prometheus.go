package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/netwatch-web/internal/history"
	"github.com/skobkin/netwatch-web/internal/monitor"
	"github.com/skobkin/netwatch-web/internal/units"
)

const metricsNamespace = "netwatch"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if s.monitor != nil {
		collectors = append(collectors, newTrafficCollector(s.monitor))
	}
	if s.exporter != nil {
		collectors = append(collectors, newExportCollector(s.exporter))
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type trafficCollector struct {
	monitor *monitor.Manager

	hostRate        *prometheus.Desc
	interfaceRate   *prometheus.Desc
	processRate     *prometheus.Desc
	liveProcesses   *prometheus.Desc
	historyBytes    *prometheus.Desc
	historyApps     *prometheus.Desc
	accountingRuns  *prometheus.Desc
	accountingFails *prometheus.Desc
	skippedTriggers *prometheus.Desc
	sampleAge       *prometheus.Desc
}

func newTrafficCollector(mon *monitor.Manager) *trafficCollector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, subsystem, name),
			help,
			labels,
			nil,
		)
	}

	return &trafficCollector{
		monitor:         mon,
		hostRate:        desc("host", "bytes_per_second", "Host-wide throughput over the last interval, loopback excluded.", "direction"),
		interfaceRate:   desc("interface", "bytes_per_second", "Per-interface throughput over the last interval.", "interface", "direction"),
		processRate:     desc("process", "bytes_per_second", "Per-process throughput over the last accounting interval.", "key", "name", "direction"),
		liveProcesses:   desc("process", "live", "Processes that are active or within their cooldown."),
		historyBytes:    desc("history", "bytes", "Bytes attributed to applications within the retention window.", "direction"),
		historyApps:     desc("history", "applications", "Applications with retained history."),
		accountingRuns:  desc("accounting", "cycles_total", "Accounting tool outputs ingested."),
		accountingFails: desc("accounting", "failed_cycles_total", "Accounting tool invocations that failed or timed out."),
		skippedTriggers: desc("accounting", "skipped_triggers_total", "Sampling triggers ignored because a cycle was in flight."),
		sampleAge:       desc("host", "sample_age_seconds", "Seconds elapsed since the latest snapshot."),
	}
}

func (c *trafficCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostRate
	ch <- c.interfaceRate
	ch <- c.processRate
	ch <- c.liveProcesses
	ch <- c.historyBytes
	ch <- c.historyApps
	ch <- c.accountingRuns
	ch <- c.accountingFails
	ch <- c.skippedTriggers
	ch <- c.sampleAge
}

func (c *trafficCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}
	counter := func(desc *prometheus.Desc, value uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}

	if snapshot, ok := c.monitor.Latest(); ok {
		elapsed := time.Duration(snapshot.ElapsedMS) * time.Millisecond
		rate := func(bytes uint64) float64 {
			return float64(units.PerSecond(bytes, elapsed))
		}

		gauge(c.hostRate, rate(snapshot.DownloadBytes), "download")
		gauge(c.hostRate, rate(snapshot.UploadBytes), "upload")
		for _, iface := range snapshot.Interfaces {
			gauge(c.interfaceRate, rate(iface.DownloadBytes), iface.Name, "download")
			gauge(c.interfaceRate, rate(iface.UploadBytes), iface.Name, "upload")
		}

		// Accounting deltas are per tool invocation, which follows the
		// sampling interval.
		for _, proc := range snapshot.Processes {
			gauge(c.processRate, rate(proc.DownloadBytes), proc.Key, proc.Name, "download")
			gauge(c.processRate, rate(proc.UploadBytes), proc.Key, proc.Name, "upload")
		}

		age := time.Since(snapshot.Timestamp).Seconds()
		if age < 0 {
			age = 0
		}
		gauge(c.sampleAge, age)
	}

	stats, ok := c.monitor.AccountingStats()
	if !ok {
		return
	}
	gauge(c.liveProcesses, float64(stats.Live))
	counter(c.accountingRuns, stats.Cycles)
	counter(c.accountingFails, stats.FailedCycles)
	counter(c.skippedTriggers, stats.SkippedTriggers)

	download, upload := c.monitor.HistoryTotals()
	gauge(c.historyBytes, float64(download), "download")
	gauge(c.historyBytes, float64(upload), "upload")
	gauge(c.historyApps, float64(len(c.monitor.History(history.SortByTotal))))
}

type exportCollector struct {
	exporter  ExportCounter
	published *prometheus.Desc
	failed    *prometheus.Desc
}

func newExportCollector(exporter ExportCounter) *exportCollector {
	return &exportCollector{
		exporter: exporter,
		published: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "export", "published_total"),
			"Snapshots published to NATS.", nil, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "export", "failed_total"),
			"Snapshots that could not be published to NATS.", nil, nil),
	}
}

func (c *exportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.published
	ch <- c.failed
}

func (c *exportCollector) Collect(ch chan<- prometheus.Metric) {
	published, failed := c.exporter.Counts()
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(published))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(failed))
}
