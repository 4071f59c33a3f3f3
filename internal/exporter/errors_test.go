package exporter

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestSendError_Error(t *testing.T) {
	err := &SendError{Address: "localhost:2003", Attempts: 2, Err: errors.New("connection reset")}
	msg := err.Error()
	for _, want := range []string{"localhost:2003", "2 attempt", "connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestSendError_ErrorsAs(t *testing.T) {
	inner := errors.New("boom")
	wrapped := fmt.Errorf("flush: %w", &SendError{Address: "a:1", Attempts: 2, Err: inner})

	var sendErr *SendError
	if !errors.As(wrapped, &sendErr) {
		t.Fatal("errors.As should find SendError")
	}
	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is should reach the inner error")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeUnknown},
		{"not connected", ErrNotConnected, ErrorTypeNotConnected},
		{"deadline", fmt.Errorf("write: %w", os.ErrDeadlineExceeded), ErrorTypeTimeout},
		{"net timeout", timeoutErr{}, ErrorTypeTimeout},
		{"op error", &net.OpError{Op: "write", Net: "tcp", Err: errors.New("broken pipe")}, ErrorTypeNetwork},
		{"plain", errors.New("something"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{"tcp": ProtocolTCP, "TCP": ProtocolTCP, " udp ": ProtocolUDP} {
		got, err := ParseProtocol(in)
		if err != nil || got != want {
			t.Errorf("ParseProtocol(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseProtocol("unix"); err == nil {
		t.Error("expected error for unix")
	}
}
