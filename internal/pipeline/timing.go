// Package pipeline accounts wall-clock time and bytes per relay stage.
package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Component identifies a stage of the relay pipeline.
type Component int

const (
	ReceiveParse Component = iota // plaintext line parsing in the receivers
	Encode                        // metric to wire record
	Connect                       // dialing the collector
	Transmit                      // writing a batch to the collector
	Trim                          // backlog trimming after a failed flush
	numComponents
)

var componentNames = [numComponents]string{
	ReceiveParse: "receive_parse",
	Encode:       "encode",
	Connect:      "connect",
	Transmit:     "transmit",
	Trim:         "trim",
}

// String returns the metric label used for c.
func (c Component) String() string {
	if !c.valid() {
		return "unknown"
	}
	return componentNames[c]
}

func (c Component) valid() bool {
	return c >= 0 && c < numComponents
}

var (
	componentSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_component_seconds_total",
		Help: "Wall-clock seconds spent in each pipeline component",
	}, []string{"component"})

	componentBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_component_bytes_processed_total",
		Help: "Total bytes processed by each pipeline component",
	}, []string{"component"})

	// Resolved once so the hot path is an array index.
	seconds [numComponents]prometheus.Counter
	bytes   [numComponents]prometheus.Counter
)

func init() {
	prometheus.MustRegister(componentSeconds, componentBytes)

	for c := Component(0); c < numComponents; c++ {
		seconds[c] = componentSeconds.WithLabelValues(c.String())
		seconds[c].Add(0)
		bytes[c] = componentBytes.WithLabelValues(c.String())
		bytes[c].Add(0)
	}
}

// Record adds d to the component's time counter.
func Record(c Component, d time.Duration) {
	if c.valid() && d > 0 {
		seconds[c].Add(d.Seconds())
	}
}

// RecordBytes adds n processed bytes to the component's byte counter.
func RecordBytes(c Component, n int) {
	if c.valid() && n > 0 {
		bytes[c].Add(float64(n))
	}
}

// Track starts timing c and returns the func that stops it.
//
//	defer pipeline.Track(pipeline.Transmit)()
func Track(c Component) func() {
	start := time.Now()
	return func() {
		Record(c, time.Since(start))
	}
}
