package exporter

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrNotConnected is returned by Transmit when no socket is open.
var ErrNotConnected = errors.New("not connected to collector")

// ErrorType represents a category of transmit error for metrics.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (connection refused, reset, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents write or dial deadlines being exceeded
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeNotConnected represents a send attempted without a socket
	ErrorTypeNotConnected ErrorType = "not_connected"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// SendError is returned from Transmit once the single reconnect-and-retry
// cycle has also failed.
type SendError struct {
	// Address is the collector host:port.
	Address string
	// Attempts is the number of writes that were tried (1 if the reconnect
	// itself failed, 2 if the retransmit failed).
	Attempts int
	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SendError) Unwrap() error {
	return e.Err
}

// Type classifies the underlying error.
func (e *SendError) Type() ErrorType {
	return classifyError(e.Err)
}

// classifyError maps an error to an ErrorType for metric labels.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, ErrNotConnected) {
		return ErrorTypeNotConnected
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
