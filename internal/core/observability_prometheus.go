package core

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports replication outcomes as Prometheus
// collectors. Per-site operations additionally count failures separately.
type PrometheusMetricsRecorder struct {
	total        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	siteFailures *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers its collectors on reg. A nil reg
// uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "replication_total",
			Help:      "Replication operations by outcome.",
		}, []string{"op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlsync",
			Name:      "replication_duration_seconds",
			Help:      "Replication operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		siteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "site_failures_total",
			Help:      "Per-site replays that failed.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{r.total, r.duration, r.siteFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.total.WithLabelValues(operation, statusLabel(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	if !success && strings.HasSuffix(operation, ".site") {
		r.siteFailures.WithLabelValues(operation).Inc()
	}
}
