package publish

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishTotal counts publish attempts.
	// Labels: result (ok, error)
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuda",
			Subsystem: "publish",
			Name:      "packages_total",
			Help:      "Total number of publish attempts by result",
		},
		[]string{"result"},
	)

	// PublishDuration tracks how long building a package takes.
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kuda",
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Duration of publish operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func observe(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PublishTotal.WithLabelValues(result).Inc()
	PublishDuration.Observe(d.Seconds())
}
