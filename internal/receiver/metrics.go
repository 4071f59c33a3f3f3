package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	receiverErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_receiver_errors_total",
		Help: "Total number of receiver errors",
	}, []string{"type"})

	receiverRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_receiver_requests_total",
		Help: "Total number of connections or requests received",
	}, []string{"protocol"})

	receiverMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_receiver_metrics_total",
		Help: "Total number of metrics accepted by receivers",
	}, []string{"protocol"})

	receiverMalformedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_receiver_malformed_lines_total",
		Help: "Total number of plaintext lines skipped because they could not be parsed",
	}, []string{"protocol"})

	receiverOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensu_relay_receiver_open_connections",
		Help: "Number of open plaintext TCP connections",
	})
)

func init() {
	prometheus.MustRegister(receiverErrorsTotal)
	prometheus.MustRegister(receiverRequestsTotal)
	prometheus.MustRegister(receiverMetricsTotal)
	prometheus.MustRegister(receiverMalformedTotal)
	prometheus.MustRegister(receiverOpenConnections)

	// Initialize counters with 0 so they appear in /metrics immediately
	for _, t := range []string{"read", "accept", "submit", "line_too_long"} {
		receiverErrorsTotal.WithLabelValues(t).Add(0)
	}
	for _, p := range []string{"tcp", "http"} {
		receiverRequestsTotal.WithLabelValues(p).Add(0)
		receiverMetricsTotal.WithLabelValues(p).Add(0)
		receiverMalformedTotal.WithLabelValues(p).Add(0)
	}
}
