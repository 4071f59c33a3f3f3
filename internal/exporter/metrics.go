package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_connect_total",
		Help: "Total collector connection attempts by result",
	}, []string{"result"})

	reconnectTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_reconnect_total",
		Help: "Total reconnects triggered by a failed transmit",
	})

	transmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_transmit_total",
		Help: "Total socket write attempts by result",
	}, []string{"result"})

	transmitErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_transmit_errors_total",
		Help: "Total socket write errors by error type",
	}, []string{"error_type"})

	transmitBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_transmit_bytes_total",
		Help: "Total payload bytes written to the collector",
	})

	connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensu_relay_connection_state",
		Help: "Collector connection state (1 = connected, 0 = disconnected)",
	})
)

func init() {
	prometheus.MustRegister(connectTotal)
	prometheus.MustRegister(reconnectTotal)
	prometheus.MustRegister(transmitTotal)
	prometheus.MustRegister(transmitErrorsTotal)
	prometheus.MustRegister(transmitBytesTotal)
	prometheus.MustRegister(connectionState)

	connectTotal.WithLabelValues("success").Add(0)
	connectTotal.WithLabelValues("failure").Add(0)
	transmitTotal.WithLabelValues("success").Add(0)
	transmitTotal.WithLabelValues("failure").Add(0)
	reconnectTotal.Add(0)
	transmitBytesTotal.Add(0)
	connectionState.Set(0)
}
