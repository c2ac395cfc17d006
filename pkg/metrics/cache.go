package metrics

import (
	"time"

	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
//
// It tracks how often reads are served from resident chunks and what the
// misses cost in source traffic.
type cacheMetrics struct {
	reads        *prometheus.CounterVec
	readBytes    *prometheus.CounterVec
	fills        *prometheus.CounterVec
	fillBytes    prometheus.Counter
	fillDuration *prometheus.HistogramVec
}

// NewCacheMetrics registers the cache collectors with reg and returns the
// cache.Metrics reporting to them. Returns nil when reg is nil, which
// leaves caches on their no-op implementation.
//
// Create it once per registry: registering twice panics.
func NewCacheMetrics(reg prometheus.Registerer) cache.Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &cacheMetrics{
		reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "reads_total",
				Help:      "Total number of cache reads by result (hit or miss)",
			},
			[]string{"result"},
		),
		readBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "read_bytes_total",
				Help:      "Total bytes returned by cache reads by result",
			},
			[]string{"result"},
		),
		fills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "source_reads_total",
				Help:      "Total number of source reads by kind (chunk or bypass) and status",
			},
			[]string{"kind", "status"},
		),
		fillBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "source_bytes_total",
				Help:      "Total bytes requested from sources",
			},
		),
		fillDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "source_read_duration_seconds",
				Help:      "Duration of source reads in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1,      // 1s
					5,      // 5s
				},
			},
			[]string{"kind"},
		),
	}
}

func (m *cacheMetrics) ObserveRead(hit bool, n int) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reads.WithLabelValues(result).Inc()
	m.readBytes.WithLabelValues(result).Add(float64(n))
}

func (m *cacheMetrics) ObserveFill(bytes int, duration time.Duration, bypass bool, err error) {
	kind := "chunk"
	if bypass {
		kind = "bypass"
	}
	m.fills.WithLabelValues(kind, status(err)).Inc()
	m.fillBytes.Add(float64(bytes))
	m.fillDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
