package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	LogLevel string `yaml:"log_level"`

	Collector CollectorYAMLConfig `yaml:"collector"`
	Buffer    BufferYAMLConfig    `yaml:"buffer"`
	Receiver  ReceiverYAMLConfig  `yaml:"receiver"`
	Stats     StatsYAMLConfig     `yaml:"stats"`
	Memory    MemoryYAMLConfig    `yaml:"memory"`
	Telemetry TelemetryYAMLConfig `yaml:"telemetry"`
}

// CollectorYAMLConfig holds the collector connection and batching keys. The
// key names follow the handler's historical option names.
type CollectorYAMLConfig struct {
	Host                  string  `yaml:"host"`
	Port                  *int    `yaml:"port"`
	Proto                 string  `yaml:"proto"`
	Timeout               Seconds `yaml:"timeout"`
	Batch                 *int    `yaml:"batch"`
	MaxBacklogMultiplier  *int    `yaml:"max_backlog_multiplier"`
	TrimBacklogMultiplier *int    `yaml:"trim_backlog_multiplier"`
	KeepAlive             bool    `yaml:"keepalive"`
	KeepAliveInterval     Seconds `yaml:"keepaliveinterval"`
}

// BufferYAMLConfig holds dispatcher scheduling settings.
type BufferYAMLConfig struct {
	FlushInterval *Duration `yaml:"flush_interval"`
	QueueSize     *int      `yaml:"queue_size"`
}

// ReceiverYAMLConfig holds receiver configuration.
type ReceiverYAMLConfig struct {
	TCP           TCPReceiverYAMLConfig  `yaml:"tcp"`
	HTTP          HTTPReceiverYAMLConfig `yaml:"http"`
	MaxLineLength ByteSize               `yaml:"max_line_length"`
	ReadTimeout   Duration               `yaml:"read_timeout"`
}

// TCPReceiverYAMLConfig holds plaintext TCP receiver configuration.
type TCPReceiverYAMLConfig struct {
	Address *string `yaml:"address"`
}

// HTTPReceiverYAMLConfig holds HTTP receiver configuration.
type HTTPReceiverYAMLConfig struct {
	Address            *string  `yaml:"address"`
	MaxRequestBodySize ByteSize `yaml:"max_request_body_size"`
}

// StatsYAMLConfig holds admin endpoint configuration.
type StatsYAMLConfig struct {
	Address     string    `yaml:"address"`
	LogInterval *Duration `yaml:"log_interval"`
}

// MemoryYAMLConfig holds memory limit configuration.
type MemoryYAMLConfig struct {
	// LimitRatio is the ratio of container memory to use for GOMEMLIMIT (0.0-1.0)
	LimitRatio *float64 `yaml:"limit_ratio"`
}

// TelemetryYAMLConfig holds OTLP self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint        string   `yaml:"endpoint"`         // OTLP endpoint (empty = disabled)
	Protocol        string   `yaml:"protocol"`         // "grpc" or "http" (default: "grpc")
	Insecure        *bool    `yaml:"insecure"`         // Use insecure connection (default: true)
	PushInterval    Duration `yaml:"push_interval"`    // Metric push interval (default: 30s)
	ShutdownTimeout Duration `yaml:"shutdown_timeout"` // Shutdown grace period (default: 5s)
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Seconds is a duration given either as a bare number of seconds (15, 2.5)
// or as a Go duration string ("15s", "1m").
type Seconds time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Seconds.
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var f float64
	if err := value.Decode(&f); err == nil {
		if f < 0 {
			return fmt.Errorf("invalid seconds value: %v", f)
		}
		*s = Seconds(time.Duration(f * float64(time.Second)))
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*s = 0
		return nil
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("invalid seconds value %q: %w", str, err)
	}
	*s = Seconds(d)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Seconds.
func (s Seconds) MarshalYAML() (interface{}, error) {
	return time.Duration(s).String(), nil
}

// ByteSize is a wrapper for int64 that supports human-readable YAML values.
// Accepted formats: raw integer (bytes), or suffixed: Ki, Mi, Gi.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	// Try integer first
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses a human-readable byte size string.
// Accepted suffixes: Ki (1024), Mi (1048576), Gi (1073741824).
// Plain integers are treated as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	suffixes := []struct {
		name string
		mult int64
	}{
		{"Gi", 1 << 30},
		{"Mi", 1 << 20},
		{"Ki", 1 << 10},
	}
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.name) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.name))
			var f float64
			if _, err := fmt.Sscanf(numStr, "%f", &f); err != nil {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	// Plain integer; reject trailing units such as "256MB"
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi or Gi suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func intPtr(v int) *int { return &v }

// ApplyDefaults sets default values for unspecified fields.
func (y *YAMLConfig) ApplyDefaults() {
	d := DefaultConfig()

	if y.LogLevel == "" {
		y.LogLevel = d.LogLevel
	}

	// Collector defaults
	if y.Collector.Host == "" {
		y.Collector.Host = d.CollectorHost
	}
	if y.Collector.Port == nil {
		y.Collector.Port = intPtr(d.CollectorPort)
	}
	if y.Collector.Proto == "" {
		y.Collector.Proto = d.CollectorProtocol
	}
	if y.Collector.Timeout == 0 {
		y.Collector.Timeout = Seconds(d.CollectorTimeout)
	}
	if y.Collector.Batch == nil {
		y.Collector.Batch = intPtr(d.BatchSize)
	}
	if y.Collector.MaxBacklogMultiplier == nil {
		y.Collector.MaxBacklogMultiplier = intPtr(d.MaxBacklogMultiplier)
	}
	if y.Collector.TrimBacklogMultiplier == nil {
		y.Collector.TrimBacklogMultiplier = intPtr(d.TrimBacklogMultiplier)
	}
	if y.Collector.KeepAliveInterval == 0 {
		y.Collector.KeepAliveInterval = Seconds(d.CollectorKeepAliveInterval)
	}

	// Buffer defaults
	if y.Buffer.FlushInterval == nil {
		fi := Duration(d.FlushInterval)
		y.Buffer.FlushInterval = &fi
	}
	if y.Buffer.QueueSize == nil {
		y.Buffer.QueueSize = intPtr(d.QueueSize)
	}

	// Receiver defaults
	if y.Receiver.TCP.Address == nil {
		addr := d.TCPListenAddr
		y.Receiver.TCP.Address = &addr
	}
	if y.Receiver.HTTP.Address == nil {
		addr := d.HTTPListenAddr
		y.Receiver.HTTP.Address = &addr
	}
	if y.Receiver.HTTP.MaxRequestBodySize == 0 {
		y.Receiver.HTTP.MaxRequestBodySize = ByteSize(d.ReceiverMaxRequestBodySize)
	}
	if y.Receiver.MaxLineLength == 0 {
		y.Receiver.MaxLineLength = ByteSize(d.ReceiverMaxLineLength)
	}
	if y.Receiver.ReadTimeout == 0 {
		y.Receiver.ReadTimeout = Duration(d.ReceiverReadTimeout)
	}

	// Stats defaults
	if y.Stats.Address == "" {
		y.Stats.Address = d.StatsAddr
	}
	if y.Stats.LogInterval == nil {
		li := Duration(d.StatsLogInterval)
		y.Stats.LogInterval = &li
	}

	// Memory defaults
	if y.Memory.LimitRatio == nil {
		r := d.MemoryLimitRatio
		y.Memory.LimitRatio = &r
	}

	// Telemetry defaults
	if y.Telemetry.Protocol == "" {
		y.Telemetry.Protocol = d.TelemetryProtocol
	}
	if y.Telemetry.Insecure == nil {
		insecure := d.TelemetryInsecure
		y.Telemetry.Insecure = &insecure
	}
	if y.Telemetry.PushInterval == 0 {
		y.Telemetry.PushInterval = Duration(d.TelemetryPushInterval)
	}
	if y.Telemetry.ShutdownTimeout == 0 {
		y.Telemetry.ShutdownTimeout = Duration(d.TelemetryShutdownTimeout)
	}
}

// ToConfig converts YAMLConfig to the flat Config. ApplyDefaults must have
// run first.
func (y *YAMLConfig) ToConfig() *Config {
	return &Config{
		CollectorHost:              y.Collector.Host,
		CollectorPort:              *y.Collector.Port,
		CollectorProtocol:          y.Collector.Proto,
		CollectorTimeout:           time.Duration(y.Collector.Timeout),
		CollectorKeepAlive:         y.Collector.KeepAlive,
		CollectorKeepAliveInterval: time.Duration(y.Collector.KeepAliveInterval),

		BatchSize:             *y.Collector.Batch,
		MaxBacklogMultiplier:  *y.Collector.MaxBacklogMultiplier,
		TrimBacklogMultiplier: *y.Collector.TrimBacklogMultiplier,
		FlushInterval:         time.Duration(*y.Buffer.FlushInterval),
		QueueSize:             *y.Buffer.QueueSize,

		TCPListenAddr:              *y.Receiver.TCP.Address,
		HTTPListenAddr:             *y.Receiver.HTTP.Address,
		ReceiverMaxLineLength:      int(y.Receiver.MaxLineLength),
		ReceiverMaxRequestBodySize: int64(y.Receiver.HTTP.MaxRequestBodySize),
		ReceiverReadTimeout:        time.Duration(y.Receiver.ReadTimeout),

		StatsAddr:        y.Stats.Address,
		StatsLogInterval: time.Duration(*y.Stats.LogInterval),

		LogLevel:         y.LogLevel,
		MemoryLimitRatio: *y.Memory.LimitRatio,

		TelemetryEndpoint:        y.Telemetry.Endpoint,
		TelemetryProtocol:        y.Telemetry.Protocol,
		TelemetryInsecure:        *y.Telemetry.Insecure,
		TelemetryPushInterval:    time.Duration(y.Telemetry.PushInterval),
		TelemetryShutdownTimeout: time.Duration(y.Telemetry.ShutdownTimeout),
	}
}
