// Package storage persists subject classifications, the append-only
// correction log, and the pattern hypotheses learned from corrections.
//
// Two implementations satisfy Store: a PostgreSQL store (pgxpool, embedded
// migrations) for deployments, and a SQLite store (modernc.org/sqlite) for
// single-operator local use. Both enforce the same transactional contract:
// a correction appends its event, upserts the subject record, and updates
// the pattern buckets atomically.
package storage

import (
	"context"
	"errors"
	"strconv"

	"github.com/roadsight/holderd/internal/model"
)

// ErrNotFound is returned when a requested subject does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNoPattern is returned when no learned hypothesis covers a subject.
var ErrNoPattern = errors.New("storage: no learned pattern")

// Store is the persistence contract shared by the Postgres and SQLite
// implementations.
type Store interface {
	// StoreAnalysis upserts the classification state for a subject.
	StoreAnalysis(ctx context.Context, rec model.SubjectRecord) error

	// GetAnalysis returns the stored state, or ErrNotFound.
	GetAnalysis(ctx context.Context, subjectID string) (model.SubjectRecord, error)

	// ApplyCorrection atomically records a human correction: it appends a
	// CorrectionEvent (before values taken from the stored record, or the
	// configured fallback pair when the subject is unknown), marks the
	// subject verified with confidence 1.0, and updates the id-derived
	// pattern buckets. Non-numeric subject ids skip bucket updates.
	ApplyCorrection(ctx context.Context, subjectID, materialAfter, typeAfter string) (model.CorrectionEvent, error)

	// QueryLearnedPrediction returns the strongest bucket hypothesis for a
	// subject, or ErrNoPattern.
	QueryLearnedPrediction(ctx context.Context, subjectID string) (model.LearnedPrediction, error)

	// ExportRecords returns a flat snapshot of all subjects, newest first.
	ExportRecords(ctx context.Context) ([]model.SubjectRecord, error)

	// TopConfusions returns the n most frequent (before, after) correction
	// pairs on an axis, ties broken by most recent occurrence.
	TopConfusions(ctx context.Context, axis model.Axis, n int) ([]model.ConfusionTally, error)

	// Stats returns aggregate counters for reporting.
	Stats(ctx context.Context) (model.StoreStats, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// bucket is one id-derived pattern key. The bucket set deliberately matches
// the historical correction data, so existing hypotheses keep their meaning.
type bucket struct {
	kind  string
	value string
}

// subjectBuckets derives the pattern buckets for a subject id. Ids that are
// not decimal integers have no buckets.
func subjectBuckets(subjectID string) []bucket {
	n, err := strconv.ParseInt(subjectID, 10, 64)
	if err != nil {
		return nil
	}
	return []bucket{
		{"id_mod_10", strconv.FormatInt(n%10, 10)},
		{"id_mod_15", strconv.FormatInt(n%15, 10)},
		{"id_mod_20", strconv.FormatInt(n%20, 10)},
		{"id_range_50", strconv.FormatInt(n/50, 10)},
		{"id_range_100", strconv.FormatInt(n/100, 10)},
	}
}

// patternConfidence derives a hypothesis confidence from its success rate,
// discounted until the bucket has seen ten samples.
func patternConfidence(successRate float64, sampleCount int) float64 {
	scale := float64(sampleCount) / 10
	if scale > 1 {
		scale = 1
	}
	return successRate * scale
}
