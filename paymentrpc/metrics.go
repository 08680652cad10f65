package paymentrpc

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "paygate"

// metrics counts call outcomes by error kind and by reported session status.
type metrics struct {
	errors   *prometheus.CounterVec
	sessions *prometheus.CounterVec
}

// newMetrics creates the gateway metrics and registers them with reg if it
// is non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "payment",
			Name:      "errors_total",
			Help:      "Total payment calls failed, by error kind",
		}, []string{"method", "kind"}),

		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "payment",
			Name:      "results_total",
			Help:      "Total payment results returned, by status",
		}, []string{"method", "status"}),
	}

	if reg != nil {
		reg.MustRegister(m.errors, m.sessions)
	}

	return m
}
