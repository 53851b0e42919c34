package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	CacheStatus  *prometheus.GaugeVec
	StoreCalls   *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
	Operations   *prometheus.CounterVec

	window *operationWindow
}

// NewMetrics registers the instruments with reg, or the default registerer when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),
		CacheStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_status",
			Help:      "Current cache status (1 for the active status).",
		}, []string{"status"}),
		StoreCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_calls_total",
			Help:      "Persistent store calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_latency_ms",
			Help:      "Persistent store call latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"operation"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Memory operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		window: newOperationWindow(256),
	}
}

func (m *Metrics) ObserveCacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
	m.window.ObserveLookup(namespace, hit)
}

func (m *Metrics) SetCacheStatus(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.CacheStatus.WithLabelValues(s).Set(0)
	}
	m.CacheStatus.WithLabelValues(current).Set(1)
}

func (m *Metrics) ObserveStoreCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreCalls.WithLabelValues(operation, outcome(err)).Inc()
	m.StoreLatency.WithLabelValues(operation).Observe(float64(d.Microseconds()) / 1000)
}

// ObserveOperation records a completed memory operation in the counters and the latency window.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome(err)).Inc()
	m.window.Observe(operation, float64(d.Microseconds())/1000, err != nil)
}

func (m *Metrics) Snapshot() OperationSnapshot {
	if m == nil {
		return OperationSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.Snapshot()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
