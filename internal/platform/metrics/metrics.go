// Package metrics registers the HTTP-level prometheus instruments shared by
// the transport middleware. Domain metrics live next to the registry services.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transport instruments.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the transport metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civreg_http_request_duration_seconds",
			Help:    "HTTP request duration by method, route, and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
