package metric

import (
	"github.com/bytedance/sonic"
)

// Encoder converts a metric into one self-contained wire entry.
type Encoder interface {
	Encode(m Metric) ([]byte, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(m Metric) ([]byte, error)

// Encode calls f(m).
func (f EncoderFunc) Encode(m Metric) ([]byte, error) {
	return f(m)
}

// checkResult is the Sensu client-socket check result shape.
type checkResult struct {
	Output string `json:"output"`
	Issued int64  `json:"issued"`
	Name   string `json:"name"`
}

// JSONLineEncoder writes each metric as a single newline-terminated JSON
// object with output, issued and name fields.
type JSONLineEncoder struct{}

// Encode implements Encoder.
func (JSONLineEncoder) Encode(m Metric) ([]byte, error) {
	data, err := sonic.Marshal(checkResult{
		Output: m.FormatValue(),
		Issued: m.Timestamp,
		Name:   m.Name,
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
