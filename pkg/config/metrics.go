package config

import (
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/backend/s3"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
//
// The collector fields are nil when metrics are disabled; every consumer
// treats nil as "not instrumented".
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	Cache  cache.Metrics
	S3     s3.Metrics
	Device adapter.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors for the cache, S3 and the adapter
//
// If metrics are disabled an empty result is returned.
//
// Call it once per process: collectors register with the global registry.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()
	return newMetricsResult(cfg.Metrics, metrics.GetRegistry())
}

func newMetricsResult(cfg MetricsConfig, reg *prometheus.Registry) *MetricsResult {
	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port:     cfg.Port,
			Gatherer: reg,
		}),
		Cache:  metrics.NewCacheMetrics(reg),
		S3:     metrics.NewS3Metrics(reg),
		Device: metrics.NewDeviceMetrics(reg),
	}
}
