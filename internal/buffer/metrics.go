package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backlogEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensu_relay_backlog_entries",
		Help: "Number of encoded metrics waiting in the backlog",
	})

	backlogBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sensu_relay_backlog_bytes",
		Help: "Encoded size of the backlog in bytes",
	})

	flushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sensu_relay_flush_total",
		Help: "Total flush attempts by result (success, failure, no_connection)",
	}, []string{"result"})

	sentEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_sent_entries_total",
		Help: "Total metrics delivered to the collector",
	})

	trimmedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_trimmed_entries_total",
		Help: "Total oldest metrics discarded by backlog trimming",
	})

	trimEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_trim_events_total",
		Help: "Total number of times the backlog was trimmed",
	})

	discardedOnCloseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_discarded_on_close_total",
		Help: "Total metrics still in the backlog when the dispatcher closed",
	})

	encodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_encode_errors_total",
		Help: "Total metrics skipped because they could not be encoded",
	})

	submittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensu_relay_submitted_total",
		Help: "Total metrics accepted by the runner",
	})
)

func init() {
	prometheus.MustRegister(backlogEntries)
	prometheus.MustRegister(backlogBytes)
	prometheus.MustRegister(flushTotal)
	prometheus.MustRegister(sentEntriesTotal)
	prometheus.MustRegister(trimmedEntriesTotal)
	prometheus.MustRegister(trimEventsTotal)
	prometheus.MustRegister(discardedOnCloseTotal)
	prometheus.MustRegister(encodeErrorsTotal)
	prometheus.MustRegister(submittedTotal)

	backlogEntries.Set(0)
	backlogBytes.Set(0)
	for _, r := range []string{"success", "failure", "no_connection"} {
		flushTotal.WithLabelValues(r).Add(0)
	}
	sentEntriesTotal.Add(0)
	trimmedEntriesTotal.Add(0)
	trimEventsTotal.Add(0)
	discardedOnCloseTotal.Add(0)
	encodeErrorsTotal.Add(0)
	submittedTotal.Add(0)
}
