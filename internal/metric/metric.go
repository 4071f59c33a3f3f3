// Package metric defines the metric record accepted by the relay, the
// plaintext line format producers send it in, and the encoders that turn it
// into collector wire entries.
package metric

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedLine is returned when a plaintext line does not have the
// "name value timestamp" shape.
var ErrMalformedLine = errors.New("malformed metric line")

// Metric is a single named sample.
type Metric struct {
	Name      string
	Value     float64
	Timestamp int64 // unix seconds the sample was issued at
}

// New builds a metric issued at t.
func New(name string, value float64, t time.Time) Metric {
	return Metric{Name: name, Value: value, Timestamp: t.Unix()}
}

// FormatValue renders the value without trailing zeros or exponent noise.
func (m Metric) FormatValue() string {
	return strconv.FormatFloat(m.Value, 'f', -1, 64)
}

// String returns the plaintext representation "name value timestamp".
func (m Metric) String() string {
	return m.Name + " " + m.FormatValue() + " " + strconv.FormatInt(m.Timestamp, 10)
}

// ParseLine parses one plaintext line. A missing timestamp is filled with now.
func ParseLine(line string, now time.Time) (Metric, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return Metric{}, fmt.Errorf("%w: expected 2 or 3 fields, got %d", ErrMalformedLine, len(fields))
	}

	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Metric{}, fmt.Errorf("%w: value %q: %v", ErrMalformedLine, fields[1], err)
	}

	ts := now.Unix()
	if len(fields) == 3 {
		// Some producers emit fractional epochs.
		f, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Metric{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedLine, fields[2], err)
		}
		ts = int64(f)
	}

	return Metric{Name: fields[0], Value: value, Timestamp: ts}, nil
}
