package cache

import "time"

// Metrics receives cache activity. A single instance is usually shared by
// every cache of a process, so implementations must be safe for
// concurrent use even though a Cache is not.
//
// A Cache created without WithMetrics uses a no-op implementation.
type Metrics interface {
	// ObserveRead records one ReadAt call that returned n bytes. hit is
	// true when no source read was needed.
	ObserveRead(hit bool, n int)

	// ObserveFill records one chunk load or bypass read from the source.
	ObserveFill(bytes int, duration time.Duration, bypass bool, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRead(bool, int)                       {}
func (noopMetrics) ObserveFill(int, time.Duration, bool, error) {}

// WithMetrics sets the collector for cache activity. A nil m keeps the
// no-op collector.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}
