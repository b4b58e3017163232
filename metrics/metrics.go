// Package metrics records payment pipeline outcomes and latencies.
package metrics

import "time"

// Recorder receives pipeline events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                  {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
