package stats

import (
	"context"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/sensu-relay/internal/logging"
	"github.com/szibis/sensu-relay/internal/metric"
)

// defaultWindow is how often the windowed unique-name sketch starts over.
const defaultWindow = 60 * time.Second

// Collector tracks how many metrics pass through the relay and roughly how
// many distinct names they carry. Name cardinality uses HyperLogLog sketches,
// so memory stays fixed (~12KB per sketch) whatever the producers send.
type Collector struct {
	mu sync.Mutex

	// lifetime counts names since start; window is reset every window period.
	lifetime *hyperloglog.Sketch
	window   *hyperloglog.Sketch

	received    uint64
	lastIssued  int64
	windowStart time.Time
	windowSize  time.Duration
	now         func() time.Time

	log logging.FieldLogger

	receivedDesc      *prometheus.Desc
	uniqueDesc        *prometheus.Desc
	uniqueWindowDesc  *prometheus.Desc
	lastIssuedDesc    *prometheus.Desc
	windowSecondsDesc *prometheus.Desc
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger used for periodic stats lines.
func WithLogger(l logging.FieldLogger) Option {
	return func(c *Collector) { c.log = l }
}

// WithWindow sets how often the windowed unique-name estimate resets.
func WithWindow(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.windowSize = d
		}
	}
}

// NewCollector creates a stats collector. Register it with a Prometheus
// registry to expose it on /metrics.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		lifetime:   hyperloglog.New(),
		window:     hyperloglog.New(),
		windowSize: defaultWindow,
		now:        time.Now,
		log:        logging.Default(),

		receivedDesc: prometheus.NewDesc(
			"sensu_relay_metrics_received_total",
			"Total number of metrics handed to the dispatcher",
			nil, nil),
		uniqueDesc: prometheus.NewDesc(
			"sensu_relay_unique_metric_names",
			"Estimated number of distinct metric names seen since start",
			nil, nil),
		uniqueWindowDesc: prometheus.NewDesc(
			"sensu_relay_unique_metric_names_window",
			"Estimated number of distinct metric names seen in the current window",
			nil, nil),
		lastIssuedDesc: prometheus.NewDesc(
			"sensu_relay_last_issued_timestamp_seconds",
			"Issued timestamp of the most recent metric",
			nil, nil),
		windowSecondsDesc: prometheus.NewDesc(
			"sensu_relay_unique_metric_names_window_seconds",
			"Length of the unique-name estimation window",
			nil, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.windowStart = c.now()
	return c
}

// Observe records one metric. It has the signature expected by
// buffer.WithObserver.
func (c *Collector) Observe(m metric.Metric) {
	key := []byte(m.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotateLocked()
	c.received++
	c.lastIssued = m.Timestamp
	c.lifetime.Insert(key)
	c.window.Insert(key)
}

// rotateLocked starts a new window once the current one has expired.
func (c *Collector) rotateLocked() {
	if c.now().Sub(c.windowStart) < c.windowSize {
		return
	}
	c.window = hyperloglog.New()
	c.windowStart = c.now()
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	Received          uint64
	UniqueNames       uint64
	WindowUniqueNames uint64
	LastIssued        int64
}

// Snapshot returns the current counters and estimates.
// Uses the full lock because Estimate may merge the sparse representation.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotateLocked()
	return Snapshot{
		Received:          c.received,
		UniqueNames:       c.lifetime.Estimate(),
		WindowUniqueNames: c.window.Estimate(),
		LastIssued:        c.lastIssued,
	}
}

// ResetWindow clears the windowed estimate immediately.
func (c *Collector) ResetWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = hyperloglog.New()
	c.windowStart = c.now()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.receivedDesc
	ch <- c.uniqueDesc
	ch <- c.uniqueWindowDesc
	ch <- c.lastIssuedDesc
	ch <- c.windowSecondsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.CounterValue, float64(s.Received))
	ch <- prometheus.MustNewConstMetric(c.uniqueDesc, prometheus.GaugeValue, float64(s.UniqueNames))
	ch <- prometheus.MustNewConstMetric(c.uniqueWindowDesc, prometheus.GaugeValue, float64(s.WindowUniqueNames))
	ch <- prometheus.MustNewConstMetric(c.lastIssuedDesc, prometheus.GaugeValue, float64(s.LastIssued))
	ch <- prometheus.MustNewConstMetric(c.windowSecondsDesc, prometheus.GaugeValue, c.windowSize.Seconds())
}

// StartPeriodicLogging logs a stats line every interval until ctx is done.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			c.log.Info("stats", logging.F(
				"metrics_received", s.Received,
				"unique_metric_names", s.UniqueNames,
				"unique_metric_names_window", s.WindowUniqueNames,
				"last_issued", s.LastIssued,
			))
		}
	}
}
