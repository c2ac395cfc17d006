package adapter

import (
	"syscall"
	"time"
)

// Metrics receives per-device call statistics. One instance is shared by
// every device of a Router, so implementations must be safe for
// concurrent use.
//
// A Router without metrics uses a no-op implementation.
type Metrics interface {
	// RecordCall records one dispatched call. op is the lowercase call
	// name ("open", "read", "dirnext", ...) and errno is OK on success.
	RecordCall(device, op string, duration time.Duration, errno syscall.Errno)

	// RecordBytes records bytes moved by a successful read or write.
	// direction is "read" or "write".
	RecordBytes(device, direction string, n int)

	// SetDevices reports the number of registered devices.
	SetDevices(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(string, string, time.Duration, syscall.Errno) {}
func (noopMetrics) RecordBytes(string, string, int)                         {}
func (noopMetrics) SetDevices(int)                                          {}
