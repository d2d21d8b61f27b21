package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roadsight/holderd/internal/model"
)

// StoreAnalysis upserts the classification state for a subject.
func (db *DB) StoreAnalysis(ctx context.Context, rec model.SubjectRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO subjects (subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id) DO UPDATE SET
			material = EXCLUDED.material,
			holder_type = EXCLUDED.holder_type,
			confidence = EXCLUDED.confidence,
			source_kind = EXCLUDED.source_kind,
			verified = EXCLUDED.verified,
			updated_at = EXCLUDED.updated_at
	`, rec.SubjectID, rec.Material, rec.Type, rec.Confidence, string(rec.Source), rec.Verified, rec.CorrectionCount, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: store analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the stored state for a subject, or ErrNotFound.
func (db *DB) GetAnalysis(ctx context.Context, subjectID string) (model.SubjectRecord, error) {
	var rec model.SubjectRecord
	var source string
	err := db.pool.QueryRow(ctx, `
		SELECT subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at
		FROM subjects WHERE subject_id = $1
	`, subjectID).Scan(
		&rec.SubjectID, &rec.Material, &rec.Type, &rec.Confidence,
		&source, &rec.Verified, &rec.CorrectionCount, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SubjectRecord{}, ErrNotFound
	}
	if err != nil {
		return model.SubjectRecord{}, fmt.Errorf("storage: get analysis: %w", err)
	}
	rec.Source = model.Source(source)
	return rec, nil
}

// ExportRecords returns a flat snapshot of all subjects, newest first.
func (db *DB) ExportRecords(ctx context.Context) ([]model.SubjectRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at
		FROM subjects ORDER BY updated_at DESC, subject_id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: export records: %w", err)
	}
	defer rows.Close()

	var recs []model.SubjectRecord
	for rows.Next() {
		var rec model.SubjectRecord
		var source string
		if err := rows.Scan(
			&rec.SubjectID, &rec.Material, &rec.Type, &rec.Confidence,
			&source, &rec.Verified, &rec.CorrectionCount, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		rec.Source = model.Source(source)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Stats returns aggregate counters for reporting.
func (db *DB) Stats(ctx context.Context) (model.StoreStats, error) {
	var stats model.StoreStats
	err := db.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM subjects),
			(SELECT count(*) FROM subjects WHERE verified),
			(SELECT count(*) FROM corrections),
			(SELECT count(*) FROM pattern_hypotheses)
	`).Scan(&stats.TotalSubjects, &stats.VerifiedCount, &stats.CorrectionCount, &stats.HypothesisCount)
	if err != nil {
		return model.StoreStats{}, fmt.Errorf("storage: stats: %w", err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT source_kind, avg(confidence) FROM subjects GROUP BY source_kind
	`)
	if err != nil {
		return model.StoreStats{}, fmt.Errorf("storage: stats by source: %w", err)
	}
	defer rows.Close()

	stats.AvgConfidence = make(map[model.Source]float64)
	for rows.Next() {
		var source string
		var avg float64
		if err := rows.Scan(&source, &avg); err != nil {
			return model.StoreStats{}, fmt.Errorf("storage: scan stats: %w", err)
		}
		stats.AvgConfidence[model.Source(source)] = avg
	}
	return stats, rows.Err()
}
