package mock

import (
	"sync"
	"time"
)

// RecordingStatter is used for testing. It keeps the sum of every Count and
// the last value of every Gauge.
type RecordingStatter struct {
	mu     sync.Mutex
	Counts map[string]int64
	Gauges map[string]float64
}

// Count implements Count.
func (r *RecordingStatter) Count(name string, value int64, rate float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Counts == nil {
		r.Counts = make(map[string]int64)
	}
	r.Counts[name] += value
}

// Gauge implements Gauge.
func (r *RecordingStatter) Gauge(name string, value float64, rate float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Gauges == nil {
		r.Gauges = make(map[string]float64)
	}
	r.Gauges[name] = value
}

// Histogram implements Histogram.
func (r *RecordingStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set implements Set.
func (r *RecordingStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements Timing.
func (r *RecordingStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// Get returns the accumulated count for name.
func (r *RecordingStatter) Get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counts[name]
}
