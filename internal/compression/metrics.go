package compression

import "github.com/prometheus/client_golang/prometheus"

var decodedBodies = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sensu_relay_receiver_decoded_bodies_total",
	Help: "Request bodies opened for decoding by content encoding",
}, []string{"encoding"})

func init() {
	prometheus.MustRegister(decodedBodies)

	for _, t := range []Type{TypeNone, TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4} {
		decodedBodies.WithLabelValues(string(t)).Add(0)
	}
}
