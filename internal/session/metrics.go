package session

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names one instrumented session-manager operation.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpCleanup Operation = "cleanup"
	OpClose   Operation = "close"
)

// maxRecentErrors bounds the in-memory error tail.
const maxRecentErrors = 10

// OperationStats summarizes all observations of one operation.
type OperationStats struct {
	Count         int64   `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

// MetricsSummary is the rolled-up view of session operation telemetry.
type MetricsSummary struct {
	Total        int64                        `json:"total"`
	ByOperation  map[Operation]OperationStats `json:"by_operation"`
	RecentErrors []string                     `json:"recent_errors"`
}

type opAgg struct {
	count     int64
	successes int64
	totalDur  time.Duration
}

// Metrics collects per-operation counts, durations and failures for the
// session manager, mirrored to Prometheus collectors.
type Metrics struct {
	mu           sync.Mutex
	ops          map[Operation]*opAgg
	recentErrors []string

	opsTotal *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates a session metrics collector registered on reg; pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: make(map[Operation]*opAgg),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_session_operations_total",
			Help: "Session manager operations by operation and status.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_session_operation_duration_seconds",
			Help:    "Session manager operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.opsTotal, m.duration)
	return m
}

// Observe records one operation outcome.
func (m *Metrics) Observe(op Operation, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.opsTotal.WithLabelValues(string(op), status).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	agg := m.ops[op]
	if agg == nil {
		agg = &opAgg{}
		m.ops[op] = agg
	}
	agg.count++
	agg.totalDur += elapsed
	if err == nil {
		agg.successes++
	} else {
		m.recentErrors = append(m.recentErrors, string(op)+": "+err.Error())
		if len(m.recentErrors) > maxRecentErrors {
			m.recentErrors = m.recentErrors[len(m.recentErrors)-maxRecentErrors:]
		}
	}
}

// Summary reports per-operation counts, average durations, success rates and
// the most recent errors.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := MetricsSummary{
		ByOperation:  make(map[Operation]OperationStats, len(m.ops)),
		RecentErrors: append([]string(nil), m.recentErrors...),
	}
	for op, agg := range m.ops {
		summary.Total += agg.count
		summary.ByOperation[op] = OperationStats{
			Count:         agg.count,
			AvgDurationMs: float64(agg.totalDur.Milliseconds()) / float64(agg.count),
			SuccessRate:   float64(agg.successes) / float64(agg.count),
		}
	}
	return summary
}
