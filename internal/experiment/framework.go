// Package experiment assigns classifications to configuration variants and
// aggregates per-variant outcome metrics for comparison.
package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cajuassist/router/internal/db"
)

var (
	// ErrNotFound is returned when an experiment id is unknown.
	ErrNotFound = errors.New("experiment not found")
	// ErrNoVariants rejects configurations without variants at creation time.
	ErrNoVariants = errors.New("experiment must declare at least one variant")
)

// Framework owns experiment configs and results. Active experiments are held
// in memory; configs and observations are durable in SQLite.
type Framework struct {
	db  *db.DB
	log *logrus.Entry

	mu     sync.RWMutex
	active map[string]*Experiment

	// rng draws in [0,1); injectable for reproducible tests.
	rng func() float64
}

// NewFramework creates an experiment framework over the given database and
// loads any experiments still flagged active.
func NewFramework(ctx context.Context, database *db.DB) (*Framework, error) {
	f := &Framework{
		db:     database,
		log:    logrus.WithField("component", "experiment"),
		active: make(map[string]*Experiment),
		rng:    rand.Float64,
	}
	if err := f.loadActive(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// SetRandSource replaces the variant-allocation random source.
func (f *Framework) SetRandSource(r *rand.Rand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rng = r.Float64
}

func (f *Framework) loadActive(ctx context.Context) error {
	rows, err := f.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, variants, metrics, started_at, ended_at
		 FROM experiments WHERE is_active = 1`)
	if err != nil {
		return fmt.Errorf("loading active experiments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return err
		}
		f.active[exp.ID] = exp
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var variantsJSON, metricsJSON string
	var endedAt sql.NullTime
	if err := row.Scan(&exp.ID, &exp.Name, &exp.Description, &exp.IsActive,
		&variantsJSON, &metricsJSON, &exp.StartedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("scanning experiment: %w", err)
	}
	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("decoding variants: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &exp.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		exp.EndedAt = &t
	}
	return &exp, nil
}

// CreateExperiment validates and stores a new experiment, returning its id.
// Invalid configurations are rejected here and never reach classification.
func (f *Framework) CreateExperiment(ctx context.Context, exp Experiment) (string, error) {
	if exp.Name == "" {
		return "", fmt.Errorf("experiment name is required")
	}
	if len(exp.Variants) == 0 {
		return "", ErrNoVariants
	}
	seen := make(map[string]bool, len(exp.Variants))
	for _, v := range exp.Variants {
		if v.ID == "" {
			return "", fmt.Errorf("variant id is required")
		}
		if seen[v.ID] {
			return "", fmt.Errorf("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 || v.Weight > 1 {
			return "", fmt.Errorf("variant %q weight %v out of [0,1]", v.ID, v.Weight)
		}
	}

	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	exp.IsActive = true
	exp.StartedAt = time.Now().UTC()
	exp.EndedAt = nil

	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return "", fmt.Errorf("encoding variants: %w", err)
	}
	metricsJSON, err := json.Marshal(exp.Metrics)
	if err != nil {
		return "", fmt.Errorf("encoding metrics: %w", err)
	}

	if _, err := f.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, description, is_active, variants, metrics, started_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)`,
		exp.ID, exp.Name, exp.Description, string(variantsJSON), string(metricsJSON), exp.StartedAt); err != nil {
		return "", fmt.Errorf("storing experiment: %w", err)
	}

	f.mu.Lock()
	f.active[exp.ID] = &exp
	f.mu.Unlock()

	f.log.WithFields(logrus.Fields{"experiment_id": exp.ID, "variants": len(exp.Variants)}).Info("experiment created")
	return exp.ID, nil
}

// Get returns an experiment by id, consulting memory first.
func (f *Framework) Get(ctx context.Context, id string) (*Experiment, error) {
	f.mu.RLock()
	if exp, ok := f.active[id]; ok {
		f.mu.RUnlock()
		return exp, nil
	}
	f.mu.RUnlock()

	row := f.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, variants, metrics, started_at, ended_at
		 FROM experiments WHERE id = ?`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return exp, nil
}

// ActiveExperiment returns the most recently started active experiment, or
// nil when none is running. The classifier consults this per invocation.
func (f *Framework) ActiveExperiment() *Experiment {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var newest *Experiment
	for _, exp := range f.active {
		if newest == nil || exp.StartedAt.After(newest.StartedAt) {
			newest = exp
		}
	}
	return newest
}

// GetVariant allocates a variant: a uniform draw walks the variants in
// declaration order accumulating weight, selecting the first whose cumulative
// weight reaches the draw. If the weights never do (sum < 1), the first
// variant is the deterministic fallback.
func (f *Framework) GetVariant(experimentID, subjectID string) (*Variant, error) {
	f.mu.RLock()
	exp, ok := f.active[experimentID]
	if !ok {
		f.mu.RUnlock()
		return nil, ErrNotFound
	}
	draw := f.rng()
	f.mu.RUnlock()

	cumulative := 0.0
	for i := range exp.Variants {
		cumulative += exp.Variants[i].Weight
		if draw <= cumulative {
			return &exp.Variants[i], nil
		}
	}
	return &exp.Variants[0], nil
}

// RecordResult appends one observation for later analysis.
func (f *Framework) RecordResult(ctx context.Context, experimentID, variantID, subjectID string, metrics map[string]float64) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encoding result metrics: %w", err)
	}

	if _, err := f.db.ExecContext(ctx,
		`INSERT INTO experiment_results (id, experiment_id, variant_id, subject_id, metrics, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), experimentID, variantID, subjectID, string(metricsJSON), time.Now().UTC()); err != nil {
		return fmt.Errorf("storing experiment result: %w", err)
	}
	return nil
}

// Results returns every recorded observation for an experiment in recording
// order.
func (f *Framework) Results(ctx context.Context, experimentID string) ([]Result, error) {
	if _, err := f.Get(ctx, experimentID); err != nil {
		return nil, err
	}

	rows, err := f.db.QueryContext(ctx,
		`SELECT experiment_id, variant_id, subject_id, metrics, recorded_at
		 FROM experiment_results WHERE experiment_id = ? ORDER BY recorded_at, rowid`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("querying experiment results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		var metricsJSON string
		if err := rows.Scan(&res.ExperimentID, &res.VariantID, &res.SubjectID, &metricsJSON, &res.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &res.Metrics); err != nil {
			return nil, fmt.Errorf("decoding result metrics: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	return results, nil
}

// Stop deactivates an experiment and stamps its end time.
func (f *Framework) Stop(ctx context.Context, experimentID string) error {
	now := time.Now().UTC()
	res, err := f.db.ExecContext(ctx,
		`UPDATE experiments SET is_active = 0, ended_at = ? WHERE id = ?`, now, experimentID)
	if err != nil {
		return fmt.Errorf("stopping experiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	f.mu.Lock()
	delete(f.active, experimentID)
	f.mu.Unlock()
	return nil
}

// Analyze computes per-variant statistics over all recorded results.
// The variant with the highest mean on the first declared metric is flagged
// as the winner; variants without participants report all-zero statistics.
func (f *Framework) Analyze(ctx context.Context, experimentID string) (*Analysis, error) {
	exp, err := f.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	rows, err := f.db.QueryContext(ctx,
		`SELECT variant_id, metrics FROM experiment_results WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("querying experiment results: %w", err)
	}
	defer rows.Close()

	// variant -> metric -> observed values
	observations := make(map[string]map[string][]float64)
	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var variantID, metricsJSON string
		if err := rows.Scan(&variantID, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		var m map[string]float64
		if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil {
			return nil, fmt.Errorf("decoding result metrics: %w", err)
		}
		if observations[variantID] == nil {
			observations[variantID] = make(map[string][]float64)
		}
		for name, value := range m {
			observations[variantID][name] = append(observations[variantID][name], value)
		}
		counts[variantID]++
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	analysis := &Analysis{
		ExperimentID:      experimentID,
		TotalParticipants: total,
		Status:            "completed",
	}
	if exp.IsActive {
		analysis.Status = "running"
	}

	for _, v := range exp.Variants {
		va := VariantAnalysis{
			VariantID:    v.ID,
			VariantName:  v.Name,
			Participants: counts[v.ID],
			Metrics:      make(map[string]MetricStats),
		}
		for _, metricName := range exp.Metrics {
			va.Metrics[metricName] = computeStats(observations[v.ID][metricName])
		}
		analysis.Variants = append(analysis.Variants, va)
	}

	// Winner by the first declared metric, among variants with data.
	if len(exp.Metrics) > 0 {
		primary := exp.Metrics[0]
		best := -1
		for i, va := range analysis.Variants {
			if va.Participants == 0 {
				continue
			}
			if best == -1 || va.Metrics[primary].Mean > analysis.Variants[best].Metrics[primary].Mean {
				best = i
			}
		}
		if best >= 0 {
			analysis.Variants[best].IsWinner = true
			analysis.Winner = analysis.Variants[best].VariantID
		}
	}

	return analysis, nil
}

// computeStats returns mean, population standard deviation, and the 95%
// normal confidence half-width (1.96 * sd / sqrt(n)) for the values.
func computeStats(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	sd := math.Sqrt(variance)

	return MetricStats{
		Mean:                mean,
		StdDev:              sd,
		ConfidenceHalfWidth: 1.96 * sd / math.Sqrt(float64(len(values))),
	}
}
