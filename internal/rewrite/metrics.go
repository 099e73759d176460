package rewrite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts proxied requests per rule.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_rewrite_requests_total",
				Help: "Total number of requests forwarded by rewrite rules",
			},
			[]string{"rule", "code"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_rewrite_duration_seconds",
				Help:    "Time spent forwarding a rewritten request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
	}
}
