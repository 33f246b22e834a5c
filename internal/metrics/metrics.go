package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ledger and HTTP metrics. All methods are safe on a nil
// *Collector so callers can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	OperationsTotal *prometheus.CounterVec
	ReloadDuration  prometheus.Histogram
	StoreFailures   *prometheus.CounterVec
	StaleReads      *prometheus.CounterVec
	RecordsByStatus *prometheus.GaugeVec
	SlotHolds       prometheus.Gauge
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation and result.",
		}, []string{"op", "result"}),

		ReloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "store_load_duration_seconds",
			Help:      "Time spent loading the full record store.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "store_failures_total",
			Help:      "Record store read or write failures by phase.",
		}, []string{"phase"}),

		StaleReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "stale_reads_total",
			Help:      "Reads answered from the last known good view after a failed reload. Alert if non-zero.",
		}, []string{"op"}),

		RecordsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "records",
			Help:      "Records in the current store generation by status.",
		}, []string{"status"}),

		SlotHolds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "ledger",
			Name:      "slot_holds",
			Help:      "Slots currently held in the unavailable side-store.",
		}),
	}
}

func (c *Collector) ObserveOperation(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.OperationsTotal.WithLabelValues(op, result).Inc()
}

func (c *Collector) ObserveReload(d time.Duration) {
	if c == nil {
		return
	}
	c.ReloadDuration.Observe(d.Seconds())
}

func (c *Collector) StoreFailure(phase string) {
	if c == nil {
		return
	}
	c.StoreFailures.WithLabelValues(phase).Inc()
}

func (c *Collector) StaleRead(op string) {
	if c == nil {
		return
	}
	c.StaleReads.WithLabelValues(op).Inc()
}

// SetGeneration publishes the record counts of the generation just installed.
func (c *Collector) SetGeneration(byStatus map[string]int, holds int) {
	if c == nil {
		return
	}
	c.RecordsByStatus.Reset()
	for status, n := range byStatus {
		c.RecordsByStatus.WithLabelValues(status).Set(float64(n))
	}
	c.SlotHolds.Set(float64(holds))
}

func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
