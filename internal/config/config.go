package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/szibis/sensu-relay/internal/buffer"
	"github.com/szibis/sensu-relay/internal/exporter"
	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/receiver"
	"github.com/szibis/sensu-relay/internal/telemetry"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version.
func Version() string {
	return version
}

// Config holds the application configuration.
type Config struct {
	ConfigFile string

	// Collector settings
	CollectorHost              string
	CollectorPort              int
	CollectorProtocol          string
	CollectorTimeout           time.Duration
	CollectorKeepAlive         bool
	CollectorKeepAliveInterval time.Duration

	// Batching settings
	BatchSize             int
	MaxBacklogMultiplier  int
	TrimBacklogMultiplier int
	FlushInterval         time.Duration
	QueueSize             int

	// Receiver settings
	TCPListenAddr              string
	HTTPListenAddr             string
	ReceiverMaxLineLength      int
	ReceiverMaxRequestBodySize int64
	ReceiverReadTimeout        time.Duration

	// Stats settings
	StatsAddr        string
	StatsLogInterval time.Duration

	// Logging
	LogLevel string

	// Memory limit settings
	MemoryLimitRatio float64 // Ratio of container memory to use for GOMEMLIMIT (default: 0.9)

	// Telemetry settings (OTLP self-monitoring, empty endpoint disables it)
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryPushInterval    time.Duration
	TelemetryShutdownTimeout time.Duration

	// Flags
	ShowHelp     bool
	ShowVersion  bool
	ValidateOnly bool
}

// ParseFlags parses command line flags and returns the configuration.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	// Config file flag
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	// Collector flags
	flag.StringVar(&cfg.CollectorHost, "collector-host", cfg.CollectorHost, "Collector hostname or IP")
	flag.IntVar(&cfg.CollectorPort, "collector-port", cfg.CollectorPort, "Collector port")
	flag.StringVar(&cfg.CollectorProtocol, "collector-proto", cfg.CollectorProtocol, "Collector protocol: tcp or udp")
	flag.DurationVar(&cfg.CollectorTimeout, "collector-timeout", cfg.CollectorTimeout, "Dial and write timeout")
	flag.BoolVar(&cfg.CollectorKeepAlive, "collector-keepalive", cfg.CollectorKeepAlive, "Enable TCP keepalive probes")
	flag.DurationVar(&cfg.CollectorKeepAliveInterval, "collector-keepalive-interval", cfg.CollectorKeepAliveInterval, "TCP keepalive idle time and probe interval")

	// Batching flags
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Number of metrics that triggers a send")
	flag.IntVar(&cfg.MaxBacklogMultiplier, "max-backlog-multiplier", cfg.MaxBacklogMultiplier, "Backlog trims once it holds batch * this many metrics")
	flag.IntVar(&cfg.TrimBacklogMultiplier, "trim-backlog-multiplier", cfg.TrimBacklogMultiplier, "Backlog keeps batch * this many metrics after trimming")
	flag.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Periodic flush interval (0 disables)")
	flag.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Metrics waiting for the dispatcher before receivers block")

	// Receiver flags
	flag.StringVar(&cfg.TCPListenAddr, "tcp-listen", cfg.TCPListenAddr, "Plaintext TCP receiver listen address (empty disables)")
	flag.StringVar(&cfg.HTTPListenAddr, "http-listen", cfg.HTTPListenAddr, "HTTP receiver listen address (empty disables)")
	flag.IntVar(&cfg.ReceiverMaxLineLength, "receiver-max-line-length", cfg.ReceiverMaxLineLength, "Maximum plaintext line length in bytes")
	flag.Int64Var(&cfg.ReceiverMaxRequestBodySize, "receiver-max-body-size", cfg.ReceiverMaxRequestBodySize, "Maximum HTTP request body size in bytes")
	flag.DurationVar(&cfg.ReceiverReadTimeout, "receiver-read-timeout", cfg.ReceiverReadTimeout, "Idle read timeout for receiver connections")

	// Stats flags
	flag.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Admin address for /metrics, /live and /ready")
	flag.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", cfg.StatsLogInterval, "Interval for periodic stats log lines (0 disables)")

	// Logging flags
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")

	// Memory flags
	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory to use for GOMEMLIMIT (0.0-1.0, 0 disables)")

	// Telemetry flags
	flag.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for self-monitoring (empty disables)")
	flag.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "OTLP protocol: grpc or http")
	flag.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use insecure connection for telemetry")
	flag.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Telemetry metric push interval")

	// Help, version and validation
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")
	flag.BoolVar(&cfg.ValidateOnly, "validate", false, "Validate the -config file, print the result as JSON and exit")

	flag.Usage = PrintUsage

	flag.Parse()

	// Load YAML config if specified
	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
		cfg = yamlCfg.ToConfig()
	}
	cfg.ConfigFile = configFile

	// Apply CLI overrides for explicitly set flags
	applyFlagOverrides(cfg)

	return cfg
}

// applyFlagOverrides applies CLI flag values that were explicitly set.
func applyFlagOverrides(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "collector-host":
			cfg.CollectorHost = v
		case "collector-port":
			fmt.Sscanf(v, "%d", &cfg.CollectorPort)
		case "collector-proto":
			cfg.CollectorProtocol = v
		case "collector-timeout":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.CollectorTimeout = d
			}
		case "collector-keepalive":
			cfg.CollectorKeepAlive = v == "true"
		case "collector-keepalive-interval":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.CollectorKeepAliveInterval = d
			}
		case "batch":
			fmt.Sscanf(v, "%d", &cfg.BatchSize)
		case "max-backlog-multiplier":
			fmt.Sscanf(v, "%d", &cfg.MaxBacklogMultiplier)
		case "trim-backlog-multiplier":
			fmt.Sscanf(v, "%d", &cfg.TrimBacklogMultiplier)
		case "flush-interval":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.FlushInterval = d
			}
		case "queue-size":
			fmt.Sscanf(v, "%d", &cfg.QueueSize)
		case "tcp-listen":
			cfg.TCPListenAddr = v
		case "http-listen":
			cfg.HTTPListenAddr = v
		case "receiver-max-line-length":
			fmt.Sscanf(v, "%d", &cfg.ReceiverMaxLineLength)
		case "receiver-max-body-size":
			fmt.Sscanf(v, "%d", &cfg.ReceiverMaxRequestBodySize)
		case "receiver-read-timeout":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.ReceiverReadTimeout = d
			}
		case "stats-addr":
			cfg.StatsAddr = v
		case "stats-log-interval":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.StatsLogInterval = d
			}
		case "log-level":
			cfg.LogLevel = v
		case "memory-limit-ratio":
			var fv float64
			if _, err := fmt.Sscanf(v, "%f", &fv); err == nil {
				cfg.MemoryLimitRatio = fv
			}
		case "telemetry-endpoint":
			cfg.TelemetryEndpoint = v
		case "telemetry-protocol":
			cfg.TelemetryProtocol = v
		case "telemetry-insecure":
			cfg.TelemetryInsecure = v == "true"
		case "telemetry-push-interval":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.TelemetryPushInterval = d
			}
		case "help", "h":
			cfg.ShowHelp = v == "true"
		case "version", "v":
			cfg.ShowVersion = v == "true"
		case "validate":
			cfg.ValidateOnly = v == "true"
		}
	})
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CollectorHost:              "localhost",
		CollectorPort:              2003,
		CollectorProtocol:          "tcp",
		CollectorTimeout:           15 * time.Second,
		CollectorKeepAlive:         false,
		CollectorKeepAliveInterval: 10 * time.Second,
		BatchSize:                  1,
		MaxBacklogMultiplier:       5,
		TrimBacklogMultiplier:      4,
		FlushInterval:              10 * time.Second,
		QueueSize:                  1024,
		TCPListenAddr:              ":2013",
		HTTPListenAddr:             ":8080",
		ReceiverMaxLineLength:      64 * 1024,
		ReceiverMaxRequestBodySize: 4 * 1024 * 1024,
		ReceiverReadTimeout:        5 * time.Minute,
		StatsAddr:                  ":9090",
		StatsLogInterval:           30 * time.Second,
		LogLevel:                   "info",
		MemoryLimitRatio:           0.9,
		TelemetryProtocol:          "grpc",
		TelemetryInsecure:          true,
		TelemetryPushInterval:      30 * time.Second,
		TelemetryShutdownTimeout:   5 * time.Second,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.CollectorHost) == "" {
		errs = append(errs, "collector-host must not be empty")
	}
	if c.CollectorPort < 1 || c.CollectorPort > 65535 {
		errs = append(errs, fmt.Sprintf("collector-port must be between 1 and 65535, got %d", c.CollectorPort))
	}
	if _, err := exporter.ParseProtocol(c.CollectorProtocol); err != nil {
		errs = append(errs, fmt.Sprintf("collector-proto must be tcp or udp, got %q", c.CollectorProtocol))
	}
	if c.CollectorTimeout < 0 {
		errs = append(errs, fmt.Sprintf("collector-timeout must not be negative, got %s", c.CollectorTimeout))
	}
	if c.CollectorKeepAlive && c.CollectorKeepAliveInterval <= 0 {
		errs = append(errs, fmt.Sprintf("collector-keepalive-interval must be positive when keepalive is enabled, got %s", c.CollectorKeepAliveInterval))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch must be >= 1, got %d", c.BatchSize))
	}
	if c.TrimBacklogMultiplier < 1 {
		errs = append(errs, fmt.Sprintf("trim-backlog-multiplier must be >= 1, got %d", c.TrimBacklogMultiplier))
	}
	if c.TrimBacklogMultiplier >= c.MaxBacklogMultiplier {
		errs = append(errs, fmt.Sprintf("trim-backlog-multiplier must be less than max-backlog-multiplier, got %d >= %d",
			c.TrimBacklogMultiplier, c.MaxBacklogMultiplier))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, fmt.Sprintf("flush-interval must not be negative, got %s", c.FlushInterval))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Sprintf("queue-size must not be negative, got %d", c.QueueSize))
	}

	if c.ReceiverMaxLineLength < 1 {
		errs = append(errs, fmt.Sprintf("receiver-max-line-length must be positive, got %d", c.ReceiverMaxLineLength))
	}
	if c.ReceiverMaxRequestBodySize < 1 {
		errs = append(errs, fmt.Sprintf("receiver-max-body-size must be positive, got %d", c.ReceiverMaxRequestBodySize))
	}

	if c.LogLevel != "" && !validLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0.0 and 1.0, got %g", c.MemoryLimitRatio))
	}

	if c.TelemetryEndpoint != "" {
		if c.TelemetryProtocol != "grpc" && c.TelemetryProtocol != "http" {
			errs = append(errs, fmt.Sprintf("telemetry-protocol must be grpc or http, got %q", c.TelemetryProtocol))
		}
		if c.TelemetryPushInterval <= 0 {
			errs = append(errs, fmt.Sprintf("telemetry-push-interval must be positive, got %s", c.TelemetryPushInterval))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New("configuration validation failed:\n  - " + strings.Join(errs, "\n  - "))
}

func validLogLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Level returns the parsed minimum log level.
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// ConnConfig returns the collector connection settings.
func (c *Config) ConnConfig() exporter.Config {
	return exporter.Config{
		Protocol:          exporter.Protocol(strings.ToLower(strings.TrimSpace(c.CollectorProtocol))),
		Host:              c.CollectorHost,
		Port:              c.CollectorPort,
		Timeout:           c.CollectorTimeout,
		KeepAlive:         c.CollectorKeepAlive,
		KeepAliveInterval: c.CollectorKeepAliveInterval,
	}
}

// DispatcherConfig returns the batching and backlog limits.
func (c *Config) DispatcherConfig() buffer.Config {
	return buffer.Config{
		BatchSize:             c.BatchSize,
		MaxBacklogMultiplier:  c.MaxBacklogMultiplier,
		TrimBacklogMultiplier: c.TrimBacklogMultiplier,
	}
}

// TCPReceiverConfig returns the plaintext TCP receiver settings.
func (c *Config) TCPReceiverConfig() receiver.TCPConfig {
	return receiver.TCPConfig{
		Addr:          c.TCPListenAddr,
		MaxLineLength: c.ReceiverMaxLineLength,
		ReadTimeout:   c.ReceiverReadTimeout,
	}
}

// HTTPReceiverConfig returns the HTTP receiver settings.
func (c *Config) HTTPReceiverConfig() receiver.HTTPConfig {
	return receiver.HTTPConfig{
		Addr:               c.HTTPListenAddr,
		MaxRequestBodySize: c.ReceiverMaxRequestBodySize,
		MaxLineLength:      c.ReceiverMaxLineLength,
		ReadTimeout:        c.ReceiverReadTimeout,
	}
}

// TelemetryConfig returns the OTLP self-monitoring settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        c.TelemetryProtocol,
		Insecure:        c.TelemetryInsecure,
		PushInterval:    c.TelemetryPushInterval,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
		ServiceVersion:  version,
	}
}

// PrintUsage prints the help message.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `sensu-relay - batching metric relay to a Sensu collector

USAGE:
    sensu-relay [OPTIONS]

DESCRIPTION:
    Receives Graphite plaintext metrics over TCP and HTTP, batches them and
    forwards them as Sensu JSON check results to a collector over TCP or UDP.
    Transient collector failures are retried once on a fresh connection;
    undelivered metrics are kept in a bounded backlog that drops the oldest
    entries first.

OPTIONS:
    Configuration:
        -config <path>                       Path to YAML configuration file
                                             CLI flags override config file values
        -validate                            Validate the config file, print JSON and exit

    Collector:
        -collector-host <host>               Collector hostname (default: "localhost")
        -collector-port <port>               Collector port (default: 2003)
        -collector-proto <tcp|udp>           Collector protocol (default: "tcp")
        -collector-timeout <duration>        Dial and write timeout (default: 15s)
        -collector-keepalive                 Enable TCP keepalive probes (default: false)
        -collector-keepalive-interval <d>    Keepalive idle and probe interval (default: 10s)

    Batching:
        -batch <n>                           Metrics per send (default: 1)
        -max-backlog-multiplier <n>          Trim once backlog reaches batch*n (default: 5)
        -trim-backlog-multiplier <n>         Keep batch*n newest after trim (default: 4)
        -flush-interval <duration>           Periodic flush, 0 disables (default: 10s)
        -queue-size <n>                      Pending metrics before receivers block (default: 1024)

    Receivers:
        -tcp-listen <addr>                   Plaintext TCP listen address (default: ":2013")
        -http-listen <addr>                  HTTP listen address (default: ":8080")
        -receiver-max-line-length <bytes>    Maximum plaintext line length (default: 65536)
        -receiver-max-body-size <bytes>      Maximum HTTP body size (default: 4194304)
        -receiver-read-timeout <duration>    Idle read timeout (default: 5m)

    Admin:
        -stats-addr <addr>                   /metrics, /live, /ready address (default: ":9090")
        -stats-log-interval <duration>       Periodic stats log, 0 disables (default: 30s)
        -log-level <level>                   debug, info, warn, error (default: "info")
        -memory-limit-ratio <ratio>          GOMEMLIMIT ratio of container memory (default: 0.9)

    Telemetry:
        -telemetry-endpoint <addr>           OTLP endpoint, empty disables (default: "")
        -telemetry-protocol <grpc|http>      OTLP protocol (default: "grpc")
        -telemetry-insecure                  Insecure OTLP connection (default: true)
        -telemetry-push-interval <duration>  Metric push interval (default: 30s)

    General:
        -h, -help                            Show this help message
        -v, -version                         Show version

EXAMPLES:
    # Relay to a remote collector in batches of 50
    sensu-relay -collector-host sensu.example.com -batch 50

    # Use UDP
    sensu-relay -collector-proto udp -collector-port 3030

    # Load settings from a file and override the log level
    sensu-relay -config /etc/sensu-relay/config.yaml -log-level debug

`)
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("sensu-relay version %s\n", version)
}
