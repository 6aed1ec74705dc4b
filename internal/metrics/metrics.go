// Package metrics registers the pipeline's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ExtractionsTotal *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	SyncAttempts     *prometheus.CounterVec
	RetryRequeued    prometheus.Counter
	ExtractionTime   prometheus.Histogram
}

// New registers all instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receiptsync",
			Name:      "extractions_total",
			Help:      "Extraction attempts by result.",
		}, []string{"result"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receiptsync",
			Name:      "extraction_cache_hits_total",
			Help:      "Extractions short-circuited by the content-hash cache.",
		}),
		SyncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receiptsync",
			Name:      "sync_attempts_total",
			Help:      "Adapter sync attempts by destination type and result.",
		}, []string{"destination_type", "result"}),
		RetryRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receiptsync",
			Name:      "retry_requeued_total",
			Help:      "Ledger entries re-enqueued by the retry sweep.",
		}),
		ExtractionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "receiptsync",
			Name:      "extraction_duration_seconds",
			Help:      "Wall time of extraction attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(
		m.ExtractionsTotal,
		m.CacheHitsTotal,
		m.SyncAttempts,
		m.RetryRequeued,
		m.ExtractionTime,
	)
	return m
}

// NewUnregistered builds instruments without a registry, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
