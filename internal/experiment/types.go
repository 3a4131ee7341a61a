package experiment

import "time"

// Variant is one configuration under comparison in an experiment.
// Parameters are folded into the classifier's provider call (for example
// temperature or model overrides).
type Variant struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Weight     float64                `json:"weight"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Experiment is a named comparison between classification configurations.
type Experiment struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	Variants    []Variant  `json:"variants"`
	Metrics     []string   `json:"metrics"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Result is one append-only observation for a subject in a variant.
type Result struct {
	ExperimentID string             `json:"experiment_id"`
	VariantID    string             `json:"variant_id"`
	SubjectID    string             `json:"subject_id"`
	Metrics      map[string]float64 `json:"metrics"`
	RecordedAt   time.Time          `json:"recorded_at"`
}

// MetricStats are the aggregate statistics for one metric in one variant.
type MetricStats struct {
	Mean                float64 `json:"mean"`
	StdDev              float64 `json:"std_dev"`
	ConfidenceHalfWidth float64 `json:"confidence_half_width"`
}

// VariantAnalysis summarizes all observations for one variant.
type VariantAnalysis struct {
	VariantID    string                 `json:"variant_id"`
	VariantName  string                 `json:"variant_name"`
	Participants int                    `json:"participants"`
	Metrics      map[string]MetricStats `json:"metrics"`
	IsWinner     bool                   `json:"is_winner"`
}

// Analysis is the full per-variant comparison for an experiment.
type Analysis struct {
	ExperimentID      string            `json:"experiment_id"`
	Variants          []VariantAnalysis `json:"variants"`
	TotalParticipants int               `json:"total_participants"`
	Winner            string            `json:"winner,omitempty"`
	Status            string            `json:"status"` // "running" or "completed"
}
