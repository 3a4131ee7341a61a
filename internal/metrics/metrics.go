// Package metrics records every classification attempt and produces rolling
// accuracy, latency, and error statistics. Recording is best-effort
// telemetry: it never fails or blocks the classification path.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/db"
)

// Record is the observability wrapper around one classification attempt.
type Record struct {
	Query             string        `json:"query"`
	AgentID           string        `json:"agent_id"`
	Confidence        float64       `json:"confidence"`
	Reasoning         string        `json:"reasoning"`
	ResponseTime      time.Duration `json:"response_time"`
	CacheHit          bool          `json:"cache_hit"`
	Success           bool          `json:"success"`
	PrimaryIntent     string        `json:"primary_intent"`
	Urgency           string        `json:"urgency"`
	ExperimentVariant string        `json:"experiment_variant,omitempty"`
}

// Snapshot is a rolled-up view over recorded attempts.
type Snapshot struct {
	TotalClassifications int64   `json:"total_classifications"`
	AccuracyRate         float64 `json:"accuracy_rate"`
	AverageConfidence    float64 `json:"average_confidence"`
	AverageResponseTime  float64 `json:"average_response_time_ms"`
	ErrorRate            float64 `json:"error_rate"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
}

// Aggregator persists classification records and maintains running
// aggregates plus Prometheus collectors.
type Aggregator struct {
	db  *db.DB
	log *logrus.Entry

	classificationsTotal *prometheus.CounterVec
	cacheHitsTotal       prometheus.Counter
	responseTime         prometheus.Histogram
}

// NewAggregator creates a metrics aggregator. The Prometheus collectors are
// registered on reg; pass prometheus.NewRegistry() in tests to keep
// registrations isolated.
func NewAggregator(database *db.DB, reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		db:  database,
		log: logrus.WithField("component", "metrics"),
		classificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_classifications_total",
			Help: "Total number of classification attempts",
		}, []string{"agent", "status"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "router_classification_cache_hits_total",
			Help: "Total number of classification cache hits",
		}),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "router_classification_duration_seconds",
			Help:    "Time taken to classify a message",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(a.classificationsTotal, a.cacheHitsTotal, a.responseTime)
	}
	return a
}

// Record stores one classification attempt. Errors are logged and swallowed;
// classification must succeed even when telemetry does not.
func (a *Aggregator) Record(ctx context.Context, rec Record) {
	status := "success"
	if !rec.Success {
		status = "error"
	}
	a.classificationsTotal.WithLabelValues(rec.AgentID, status).Inc()
	if rec.CacheHit {
		a.cacheHitsTotal.Inc()
	}
	a.responseTime.Observe(rec.ResponseTime.Seconds())

	var variant interface{}
	if rec.ExperimentVariant != "" {
		variant = rec.ExperimentVariant
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO classification_records
		 (id, query, agent_id, confidence, reasoning, response_time_ms, cache_hit, success, primary_intent, urgency, experiment_variant, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.Query, rec.AgentID, rec.Confidence, rec.Reasoning,
		rec.ResponseTime.Milliseconds(), rec.CacheHit, rec.Success,
		rec.PrimaryIntent, rec.Urgency, variant, time.Now().UTC())
	if err != nil {
		a.log.WithError(err).Warn("failed to record classification attempt")
	}
}

// Snapshot recomputes the overall statistics from the full record history.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	return a.snapshotWhere(ctx, "", nil)
}

// AgentSnapshot recomputes statistics for a single agent.
func (a *Aggregator) AgentSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	return a.snapshotWhere(ctx, " WHERE agent_id = ?", []interface{}{agentID})
}

func (a *Aggregator) snapshotWhere(ctx context.Context, where string, args []interface{}) (*Snapshot, error) {
	var s Snapshot
	var successes, cacheHits int64
	var confidenceSum, responseTimeSum float64

	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(confidence), 0),
		        COALESCE(SUM(response_time_ms), 0)
		 FROM classification_records`+where, args...,
	).Scan(&s.TotalClassifications, &successes, &cacheHits, &confidenceSum, &responseTimeSum)
	if err != nil {
		return nil, err
	}

	if s.TotalClassifications > 0 {
		total := float64(s.TotalClassifications)
		s.AccuracyRate = float64(successes) / total
		s.ErrorRate = 1 - s.AccuracyRate
		s.CacheHitRate = float64(cacheHits) / total
		s.AverageConfidence = confidenceSum / total
		s.AverageResponseTime = responseTimeSum / total
	}
	return &s, nil
}

// IntentDistribution returns how many attempts resolved to each primary intent.
func (a *Aggregator) IntentDistribution(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT primary_intent, COUNT(*) FROM classification_records GROUP BY primary_intent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dist := make(map[string]int64)
	for rows.Next() {
		var intent string
		var count int64
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, err
		}
		dist[intent] = count
	}
	return dist, rows.Err()
}

// RecentRecords returns the latest limit records, newest first.
func (a *Aggregator) RecentRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT query, agent_id, confidence, reasoning, response_time_ms, cache_hit, success, primary_intent, urgency, COALESCE(experiment_variant, '')
		 FROM classification_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var responseMs int64
		if err := rows.Scan(&rec.Query, &rec.AgentID, &rec.Confidence, &rec.Reasoning,
			&responseMs, &rec.CacheHit, &rec.Success, &rec.PrimaryIntent, &rec.Urgency,
			&rec.ExperimentVariant); err != nil {
			return nil, err
		}
		rec.ResponseTime = time.Duration(responseMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear removes all recorded attempts.
func (a *Aggregator) Clear(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM classification_records`)
	return err
}
