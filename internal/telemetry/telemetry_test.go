package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/sensu-relay/internal/logging"
)

func startForTest(t *testing.T, cfg Config) *Telemetry {
	t.Helper()
	cfg.Insecure = true
	cfg.ShutdownTimeout = 200 * time.Millisecond
	cfg.Gatherer = prometheus.NewRegistry()

	// No collector listens on the endpoint; exporters connect lazily so
	// setup still succeeds.
	tel, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tel == nil {
		t.Fatal("expected non-nil telemetry")
	}
	t.Cleanup(func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return tel
}

func TestStart_Disabled(t *testing.T) {
	tel, err := Start(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tel != nil {
		t.Error("expected nil telemetry when endpoint is empty")
	}
}

func TestStart_Protocols(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		protocol string
	}{
		{"default is grpc", "localhost:4317", ""},
		{"grpc", "localhost:4317", "grpc"},
		{"http", "localhost:4318", "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := startForTest(t, Config{Endpoint: tt.endpoint, Protocol: tt.protocol, ServiceVersion: "test"})
			if !tel.Enabled() {
				t.Error("expected telemetry to be enabled")
			}
		})
	}
}

func TestStart_UnknownProtocol(t *testing.T) {
	tel, err := Start(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "udp"})
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	if tel != nil {
		t.Error("expected nil telemetry on error")
	}
}

func TestTelemetry_Nil(t *testing.T) {
	var tel *Telemetry
	if tel.Enabled() {
		t.Error("nil telemetry should not be enabled")
	}
	if tel.LogHook() != nil {
		t.Error("nil telemetry should return a nil hook")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("nil telemetry shutdown should not error: %v", err)
	}
}

func TestLogHook_Emits(t *testing.T) {
	tel := startForTest(t, Config{Endpoint: "localhost:4317"})

	hook := tel.LogHook()
	if hook == nil {
		t.Fatal("expected non-nil hook")
	}

	// Records are batched; the failed export surfaces only on shutdown.
	hook(logging.LevelInfo, "flushed batch", map[string]interface{}{
		"metrics": 10,
		"bytes":   int64(512),
	})
	hook(logging.LevelDebug, "not connected, skipping flush", nil)
	hook(logging.LevelWarn, "transmit failed", map[string]interface{}{
		"error":    errors.New("broken pipe"),
		"duration": 15 * time.Millisecond,
		"nil":      nil,
	})
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level    logging.Level
		expected string
	}{
		{logging.LevelDebug, "DEBUG"},
		{logging.LevelInfo, "INFO"},
		{logging.LevelWarn, "WARN"},
		{logging.LevelError, "ERROR"},
		{logging.LevelFatal, "FATAL"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := severity(tt.level).String(); got != tt.expected {
				t.Errorf("severity(%s) = %s, want %s", tt.level, got, tt.expected)
			}
		})
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"string", "hello", "hello"},
		{"int", 42, "42"},
		{"int64", int64(100), "100"},
		{"uint64", uint64(7), "7"},
		{"float64", 2.5, "2.5"},
		{"bool", true, "true"},
		{"nil", nil, "<nil>"},
		{"error", errors.New("refused"), "refused"},
		{"duration", 2 * time.Second, "2s"},
		{"struct", struct{ A int }{1}, "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(tt.input).String(); got != tt.want {
				t.Errorf("value(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
