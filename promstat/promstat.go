// Package promstat is an lcdk.Statter exporting to Prometheus.
package promstat

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector creates a Prometheus metric the first time each stat name is
// used. Counts become counters, Gauges gauges, and Histograms and Timings
// histograms. Tags are ignored.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// New returns a Collector whose metric names are prefixed by namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Collector{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// metricName turns "rows.inserted" into "rows_inserted".
func metricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

// Count implements lcdk.Statter.
func (c *Collector) Count(name string, value int64, rate float64, tags ...string) {
	if value < 0 {
		return
	}
	c.mu.Lock()
	m, ok := c.counters[name]
	if !ok {
		m = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      metricName(name) + "_total",
			Help:      "Total " + name,
		})
		c.registry.MustRegister(m)
		c.counters[name] = m
	}
	c.mu.Unlock()
	m.Add(float64(value))
}

// Gauge implements lcdk.Statter.
func (c *Collector) Gauge(name string, value float64, rate float64, tags ...string) {
	c.mu.Lock()
	m, ok := c.gauges[name]
	if !ok {
		m = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      metricName(name),
			Help:      "Current " + name,
		})
		c.registry.MustRegister(m)
		c.gauges[name] = m
	}
	c.mu.Unlock()
	m.Set(value)
}

// Histogram implements lcdk.Statter.
func (c *Collector) Histogram(name string, value float64, rate float64, tags ...string) {
	c.histogram(name, "", prometheus.DefBuckets).Observe(value)
}

// Set implements lcdk.Statter. Sets have no Prometheus equivalent.
func (c *Collector) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements lcdk.Statter, observing seconds.
func (c *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {
	c.histogram(name, "_seconds", prometheus.ExponentialBuckets(0.001, 4, 10)).Observe(value.Seconds())
}

func (c *Collector) histogram(name, suffix string, buckets []float64) prometheus.Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.histograms[name]
	if !ok {
		m = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      metricName(name) + suffix,
			Help:      "Distribution of " + name,
			Buckets:   buckets,
		})
		c.registry.MustRegister(m)
		c.histograms[name] = m
	}
	return m
}
