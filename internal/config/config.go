package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "APP_"

	// CounterSourceProcfs reads interface counters from /proc/net/dev.
	CounterSourceProcfs = "procfs"
	// CounterSourceNetlink reads interface counters over rtnetlink.
	CounterSourceNetlink = "netlink"

	defaultAccountingCommand = "nettop -L 1 -P -t external -J bytes_in,bytes_out"
)

// Config represents runtime configuration sourced from an optional YAML file
// and environment variables. Environment variables win over file values.
type Config struct {
	ListenAddr       string
	SampleInterval   time.Duration
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	ProcRoot         string
	SysfsRoot        string
	CounterSource    string
	WS               WebsocketConfig
	Accounting       AccountingConfig
	Retention        RetentionConfig
	NATS             NATSConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// AccountingConfig controls the per-process traffic accounting tool.
type AccountingConfig struct {
	Enable   bool
	Command  string
	Timeout  time.Duration
	Cooldown time.Duration
}

// RetentionConfig bounds the lifetime of cached and historical data.
type RetentionConfig struct {
	History             time.Duration
	IdentityPrune       time.Duration
	MaintenanceInterval time.Duration
}

// NATSConfig enables snapshot export to a NATS subject when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		SampleInterval:   time.Second,
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		LogLevel:         slog.LevelInfo,
		ProcRoot:         "/proc",
		SysfsRoot:        "/sys",
		CounterSource:    CounterSourceProcfs,
		WS: WebsocketConfig{
			MaxClients:   256,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Accounting: AccountingConfig{
			Enable:   true,
			Command:  defaultAccountingCommand,
			Timeout:  5 * time.Second,
			Cooldown: 8 * time.Second,
		},
		Retention: RetentionConfig{
			History:             24 * time.Hour,
			IdentityPrune:       time.Hour,
			MaintenanceInterval: time.Minute,
		},
		NATS: NATSConfig{
			Subject: "netwatch.snapshots",
		},
	}
}

// Load parses configuration from APP_CONFIG_FILE (if set) and environment
// variables, applying defaults.
func Load() (Config, error) {
	fileValues := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		values, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		fileValues = values
	}

	return load(func(key string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		return fileValues[key]
	})
}

func load(lookup func(string) string) (Config, error) {
	cfg := Default()

	if value := lookup("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}

	if value := lookup("APP_SAMPLE_INTERVAL"); value != "" {
		duration, err := parsePositiveDuration("APP_SAMPLE_INTERVAL", value)
		if err != nil {
			return Config{}, err
		}
		cfg.SampleInterval = duration
	}

	if value := lookup("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := lookup("APP_ENABLE_PROMETHEUS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := lookup("APP_ENABLE_PPROF"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := lookup("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := lookup("APP_PROC_ROOT"); value != "" {
		cfg.ProcRoot = value
	}

	if value := lookup("APP_SYSFS_ROOT"); value != "" {
		cfg.SysfsRoot = value
	}

	if value := lookup("APP_COUNTER_SOURCE"); value != "" {
		source := strings.ToLower(value)
		switch source {
		case CounterSourceProcfs, CounterSourceNetlink:
			cfg.CounterSource = source
		default:
			return Config{}, fmt.Errorf("unsupported APP_COUNTER_SOURCE %q", value)
		}
	}

	if value := lookup("APP_WS_MAX_CLIENTS"); value != "" {
		maxClients, err := parsePositiveInt("APP_WS_MAX_CLIENTS", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.MaxClients = maxClients
	}

	if value := lookup("APP_WS_WRITE_TIMEOUT"); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_WRITE_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := lookup("APP_WS_READ_TIMEOUT"); value != "" {
		timeout, err := parsePositiveDuration("APP_WS_READ_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.WS.ReadTimeout = timeout
	}

	if value := lookup("APP_ACCOUNTING_ENABLE"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ACCOUNTING_ENABLE: %w", err)
		}
		cfg.Accounting.Enable = enabled
	}

	if value := lookup("APP_ACCOUNTING_COMMAND"); value != "" {
		cfg.Accounting.Command = value
	}

	if value := lookup("APP_ACCOUNTING_TIMEOUT"); value != "" {
		timeout, err := parsePositiveDuration("APP_ACCOUNTING_TIMEOUT", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Accounting.Timeout = timeout
	}

	if value := lookup("APP_ACCOUNTING_COOLDOWN"); value != "" {
		cooldown, err := parsePositiveDuration("APP_ACCOUNTING_COOLDOWN", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Accounting.Cooldown = cooldown
	}

	if value := lookup("APP_HISTORY_RETENTION"); value != "" {
		retention, err := parsePositiveDuration("APP_HISTORY_RETENTION", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Retention.History = retention
	}

	if value := lookup("APP_IDENTITY_PRUNE_WINDOW"); value != "" {
		window, err := parsePositiveDuration("APP_IDENTITY_PRUNE_WINDOW", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Retention.IdentityPrune = window
	}

	if value := lookup("APP_MAINTENANCE_INTERVAL"); value != "" {
		interval, err := parsePositiveDuration("APP_MAINTENANCE_INTERVAL", value)
		if err != nil {
			return Config{}, err
		}
		cfg.Retention.MaintenanceInterval = interval
	}

	if value := lookup("APP_NATS_URL"); value != "" {
		cfg.NATS.URL = value
	}

	if value := lookup("APP_NATS_SUBJECT"); value != "" {
		cfg.NATS.Subject = value
	}

	if cfg.Accounting.Enable && len(strings.Fields(cfg.Accounting.Command)) == 0 {
		return Config{}, fmt.Errorf("APP_ACCOUNTING_COMMAND must not be empty when accounting is enabled")
	}

	return cfg, nil
}

// readFile flattens a YAML document into APP_* keys, so that
// `ws: {max_clients: 8}` maps onto APP_WS_MAX_CLIENTS.
func readFile(path string) (map[string]string, error) {
	// #nosec G304 -- operator-supplied config path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	out := make(map[string]string)
	flatten(envPrefix, doc, out)
	return out, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := prefix + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
		switch value := node[key].(type) {
		case nil:
		case map[string]any:
			flatten(name+"_", value, out)
		case []any:
			items := make([]string, 0, len(value))
			for _, item := range value {
				items = append(items, fmt.Sprint(item))
			}
			out[name] = strings.Join(items, ",")
		default:
			out[name] = strings.TrimSpace(fmt.Sprint(value))
		}
	}
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return duration, nil
}

func parsePositiveInt(key, value string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
