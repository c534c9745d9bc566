package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts project operations.
	// Labels: op (list, load, save, delete), result (ok, not_found, exists, invalid, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuda",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of project store operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// DocumentBytes tracks the size of saved project documents.
	DocumentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kuda",
			Subsystem: "store",
			Name:      "document_bytes",
			Help:      "Size of saved project documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

func observe(op string, err error) {
	OperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}
