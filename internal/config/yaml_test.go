package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseYAMLMinimal(t *testing.T) {
	yaml := `
collector:
  host: "sensu.local"
`
	cfg, err := ParseYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse yaml: %v", err)
	}

	if cfg.Collector.Host != "sensu.local" {
		t.Errorf("expected host 'sensu.local', got %s", cfg.Collector.Host)
	}
	if *cfg.Collector.Port != 2003 {
		t.Errorf("expected default port 2003, got %d", *cfg.Collector.Port)
	}
	if cfg.Collector.Proto != "tcp" {
		t.Errorf("expected default proto tcp, got %s", cfg.Collector.Proto)
	}
	if *cfg.Collector.Batch != 1 {
		t.Errorf("expected default batch 1, got %d", *cfg.Collector.Batch)
	}
	if *cfg.Receiver.TCP.Address != ":2013" {
		t.Errorf("expected default tcp address ':2013', got %s", *cfg.Receiver.TCP.Address)
	}
	if cfg.Stats.Address != ":9090" {
		t.Errorf("expected default stats address ':9090', got %s", cfg.Stats.Address)
	}
}

func TestParseYAMLFull(t *testing.T) {
	yaml := `
log_level: warn
collector:
  host: "10.0.0.5"
  port: 3030
  proto: udp
  timeout: 5
  batch: 25
  max_backlog_multiplier: 6
  trim_backlog_multiplier: 3
  keepalive: true
  keepaliveinterval: "30s"
buffer:
  flush_interval: "500ms"
  queue_size: 64
receiver:
  tcp:
    address: ":2113"
  http:
    address: ""
    max_request_body_size: "1Mi"
  max_line_length: "8Ki"
  read_timeout: "1m"
stats:
  address: ":9191"
  log_interval: "0s"
memory:
  limit_ratio: 0
telemetry:
  endpoint: "otel:4318"
  protocol: http
  insecure: false
  push_interval: "15s"
`
	y, err := ParseYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse yaml: %v", err)
	}
	cfg := y.ToConfig()

	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.LogLevel)
	}
	if cfg.CollectorHost != "10.0.0.5" || cfg.CollectorPort != 3030 || cfg.CollectorProtocol != "udp" {
		t.Errorf("unexpected collector %s:%d/%s", cfg.CollectorHost, cfg.CollectorPort, cfg.CollectorProtocol)
	}
	if cfg.CollectorTimeout != 5*time.Second {
		t.Errorf("expected timeout 5s from integer seconds, got %v", cfg.CollectorTimeout)
	}
	if cfg.BatchSize != 25 || cfg.MaxBacklogMultiplier != 6 || cfg.TrimBacklogMultiplier != 3 {
		t.Errorf("unexpected batching %d/%d/%d", cfg.BatchSize, cfg.MaxBacklogMultiplier, cfg.TrimBacklogMultiplier)
	}
	if !cfg.CollectorKeepAlive || cfg.CollectorKeepAliveInterval != 30*time.Second {
		t.Errorf("unexpected keepalive %v/%v", cfg.CollectorKeepAlive, cfg.CollectorKeepAliveInterval)
	}
	if cfg.FlushInterval != 500*time.Millisecond {
		t.Errorf("expected flush interval 500ms, got %v", cfg.FlushInterval)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("expected queue size 64, got %d", cfg.QueueSize)
	}
	if cfg.TCPListenAddr != ":2113" {
		t.Errorf("expected tcp address ':2113', got %s", cfg.TCPListenAddr)
	}
	if cfg.HTTPListenAddr != "" {
		t.Errorf("expected explicitly disabled http receiver, got %q", cfg.HTTPListenAddr)
	}
	if cfg.ReceiverMaxRequestBodySize != 1<<20 {
		t.Errorf("expected 1Mi body size, got %d", cfg.ReceiverMaxRequestBodySize)
	}
	if cfg.ReceiverMaxLineLength != 8<<10 {
		t.Errorf("expected 8Ki line length, got %d", cfg.ReceiverMaxLineLength)
	}
	if cfg.StatsLogInterval != 0 {
		t.Errorf("expected stats logging disabled, got %v", cfg.StatsLogInterval)
	}
	if cfg.MemoryLimitRatio != 0 {
		t.Errorf("expected explicit zero memory ratio, got %v", cfg.MemoryLimitRatio)
	}
	if cfg.TelemetryEndpoint != "otel:4318" || cfg.TelemetryProtocol != "http" || cfg.TelemetryInsecure {
		t.Errorf("unexpected telemetry %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("full config should validate: %v", err)
	}
}

func TestParseYAML_ExplicitZeroBatchIsKept(t *testing.T) {
	y, err := ParseYAML([]byte("collector:\n  batch: 0\n"))
	if err != nil {
		t.Fatalf("failed to parse yaml: %v", err)
	}
	cfg := y.ToConfig()
	if cfg.BatchSize != 0 {
		t.Fatalf("expected explicit 0 to be kept, got %d", cfg.BatchSize)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected batch 0 to fail validation")
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"timeout: 15", 15 * time.Second, false},
		{"timeout: 2.5", 2500 * time.Millisecond, false},
		{"timeout: \"15s\"", 15 * time.Second, false},
		{"timeout: 1m", time.Minute, false},
		{"timeout: \"\"", 0, false},
		{"timeout: -1", 0, true},
		{"timeout: soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			y, err := ParseYAML([]byte("collector:\n  " + tt.in + "\n"))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := tt.want
			if want == 0 {
				want = 15 * time.Second // default fills an empty value
			}
			if got := time.Duration(y.Collector.Timeout); got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"4Ki", 4096, false},
		{"1.5Mi", 1572864, false},
		{"1Gi", 1 << 30, false},
		{"256MB", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseYAML_Invalid(t *testing.T) {
	if _, err := ParseYAML([]byte("collector: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("collector:\n  port: 4000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	y, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if *y.Collector.Port != 4000 {
		t.Errorf("expected port 4000, got %d", *y.Collector.Port)
	}

	if _, err := LoadYAML(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
