package rpcserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

type metrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttled prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests handled",
		}, []string{"method", "outcome"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paygate",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling JSON-RPC requests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),

		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "rpc",
			Name:      "throttled_total",
			Help:      "Total HTTP requests refused by the rate limiter",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.throttled)
	}

	return m
}

func (m *metrics) observe(method string, elapsed time.Duration, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}

	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}
