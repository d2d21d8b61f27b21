// Package model defines the core domain types shared across holderd.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Axis identifies one of the two classification dimensions of a subject.
type Axis string

const (
	AxisMaterial Axis = "material"
	AxisType     Axis = "type"
)

// ValidAxis reports whether s names a known classification axis.
func ValidAxis(s string) bool {
	return Axis(s) == AxisMaterial || Axis(s) == AxisType
}

// Source identifies where a classification signal came from. Sources are
// ranked by reliability; the engine assigns each a vote weight.
type Source string

const (
	// SourceVerified marks a record confirmed by a human correction.
	SourceVerified Source = "verified"
	// SourceVision marks the multi-region vision consensus.
	SourceVision Source = "vision_consensus"
	// SourcePrior marks an earlier unverified stored decision.
	SourcePrior Source = "stored_prior"
	// SourcePattern marks a prediction learned from correction history.
	SourcePattern Source = "pattern_learned"
	// SourceRule marks the id-heuristic rule fallback.
	SourceRule Source = "rule_fallback"
	// SourceEnsemble marks a combined decision written back by the engine.
	SourceEnsemble Source = "ensemble"
)

// ClassPair is a (material, type) classification.
type ClassPair struct {
	Material string `json:"material"`
	Type     string `json:"type"`
}

// SubjectRecord is the stored classification state of one subject.
type SubjectRecord struct {
	SubjectID       string    `json:"subject_id"`
	Material        string    `json:"material"`
	Type            string    `json:"type"`
	Confidence      float64   `json:"confidence"`
	Source          Source    `json:"source"`
	Verified        bool      `json:"verified"`
	CorrectionCount int       `json:"correction_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CorrectionEvent is one append-only entry in the correction log. Before
// values are whatever the store held when the correction arrived, or the
// configured fallback pair when the subject was unknown.
type CorrectionEvent struct {
	ID             uuid.UUID `json:"id"`
	SubjectID      string    `json:"subject_id"`
	MaterialBefore string    `json:"material_before"`
	TypeBefore     string    `json:"type_before"`
	MaterialAfter  string    `json:"material_after"`
	TypeAfter      string    `json:"type_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// Observation is one weighted classification signal fed into the ensemble
// vote. Confidence is the source's own estimate; Weight is the reliability
// weight the engine assigned to the source kind.
type Observation struct {
	Material   string
	Type       string
	Confidence float64
	Source     Source
	Weight     float64
}

// LearnedPrediction is the best pattern-bucket hypothesis for a subject.
type LearnedPrediction struct {
	Material    string  `json:"material"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	BucketType  string  `json:"bucket_type"`
	BucketValue string  `json:"bucket_value"`
	SampleCount int     `json:"sample_count"`
}

// ConfusionTally counts how often one class value was corrected to another.
type ConfusionTally struct {
	Before   string    `json:"before"`
	After    string    `json:"after"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// Decision is the engine's final answer for one subject.
type Decision struct {
	SubjectID    string    `json:"subject_id"`
	Material     string    `json:"material"`
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`
	Sources      []Source  `json:"sources"`
	Observations int       `json:"observations"`
	DecidedAt    time.Time `json:"decided_at"`
}

// StoreStats is an aggregate snapshot of the store for reporting.
type StoreStats struct {
	TotalSubjects   int                `json:"total_subjects"`
	VerifiedCount   int                `json:"verified_count"`
	CorrectionCount int                `json:"correction_count"`
	HypothesisCount int                `json:"hypothesis_count"`
	AvgConfidence   map[Source]float64 `json:"avg_confidence_by_source"`
}
