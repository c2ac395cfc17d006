package metrics

import (
	"strconv"
	"syscall"
	"time"

	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
)

// deviceMetrics is the Prometheus implementation of adapter.Metrics.
type deviceMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	bytesTotal   *prometheus.CounterVec
	devices      prometheus.Gauge
}

// NewDeviceMetrics registers the adapter collectors with reg. Returns nil
// when reg is nil, which leaves the router on its no-op implementation.
func NewDeviceMetrics(reg prometheus.Registerer) adapter.Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &deviceMetrics{
		callsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "calls_total",
				Help:      "Total number of file calls by device, call and errno",
			},
			[]string{"device", "call", "errno"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "call_duration_seconds",
				Help:      "Duration of file calls in seconds, including time waiting for the mount lock",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
					1,       // 1s
					10,      // 10s
				},
			},
			[]string{"device", "call"},
		),
		bytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "bytes_total",
				Help:      "Total bytes read and written through devices",
			},
			[]string{"device", "direction"},
		),
		devices: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "registered",
				Help:      "Current number of registered devices",
			},
		),
	}
}

func (m *deviceMetrics) RecordCall(device, op string, duration time.Duration, errno syscall.Errno) {
	code := "OK"
	if errno != adapter.OK {
		code = errnoName(errno)
	}
	m.callsTotal.WithLabelValues(device, op, code).Inc()
	m.callDuration.WithLabelValues(device, op).Observe(duration.Seconds())
}

func (m *deviceMetrics) RecordBytes(device, direction string, n int) {
	m.bytesTotal.WithLabelValues(device, direction).Add(float64(n))
}

func (m *deviceMetrics) SetDevices(n int) {
	m.devices.Set(float64(n))
}

// errnoName returns the symbolic name of errno ("ENOENT"), falling back to
// its number.
func errnoName(errno syscall.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return strconv.Itoa(int(errno))
}
