// Package metrics provides Prometheus collectors for dittomount components.
//
// All metrics are optional. The cache, the adapter and the S3 backend each
// define the interface they report to and fall back to a no-op
// implementation when none is supplied; this package implements those
// interfaces on top of a Prometheus registry.
//
// Usage:
//
//	// Initialize the global registry (typically in main.go)
//	metrics.InitRegistry()
//	reg := metrics.GetRegistry()
//
//	// Create collectors once and share them between components
//	router := adapter.NewRouter(adapter.WithMetrics(metrics.NewDeviceMetrics(reg)))
//	opts := []cache.Option{cache.WithMetrics(metrics.NewCacheMetrics(reg))}
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dittomount"

var (
	// registry is the global Prometheus registry served by Server.
	// Protected by registryOnce for write-once, read-many access.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Subsequent
// calls are ignored.
//
// The registry also carries the Go runtime and process collectors.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil if InitRegistry has not
// been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
