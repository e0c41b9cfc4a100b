package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics
type Metrics struct {
	VectorAdds    prometheus.Counter
	SearchQueries prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram
	CodesScanned  prometheus.Histogram
	ProbesUsed    prometheus.Histogram
}

// NewMetrics creates metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		VectorAdds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ivfhnsw_vector_adds_total",
			Help: "Total vectors added to posting lists",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ivfhnsw_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ivfhnsw_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "ivfhnsw_search_latency_seconds",
			Help: "Search latency",
		}),
		CodesScanned: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ivfhnsw_codes_scanned",
			Help:    "PQ codes scanned per query",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		ProbesUsed: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ivfhnsw_probes_used",
			Help:    "Posting lists visited per query",
			Buckets: prometheus.LinearBuckets(1, 4, 16),
		}),
	}
}
