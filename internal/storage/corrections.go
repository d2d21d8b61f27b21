package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roadsight/holderd/internal/model"
)

// ApplyCorrection records a human correction in one transaction: correction
// event, verified subject upsert, and pattern bucket updates all commit or
// roll back together.
func (db *DB) ApplyCorrection(ctx context.Context, subjectID, materialAfter, typeAfter string) (model.CorrectionEvent, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The current record supplies the "before" side of the event. An unknown
	// subject is treated as if it held the fallback classification.
	before := db.fallback
	err = tx.QueryRow(ctx, `
		SELECT material, holder_type FROM subjects WHERE subject_id = $1 FOR UPDATE
	`, subjectID).Scan(&before.Material, &before.Type)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.CorrectionEvent{}, fmt.Errorf("storage: read before state: %w", err)
	}

	ev := model.CorrectionEvent{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		MaterialBefore: before.Material,
		TypeBefore:     before.Type,
		MaterialAfter:  materialAfter,
		TypeAfter:      typeAfter,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO corrections (id, subject_id, material_before, type_before, material_after, type_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.SubjectID, ev.MaterialBefore, ev.TypeBefore, ev.MaterialAfter, ev.TypeAfter, ev.CreatedAt); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: append correction: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO subjects (subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at)
		VALUES ($1, $2, $3, 1.0, $4, TRUE, 1, $5)
		ON CONFLICT (subject_id) DO UPDATE SET
			material = EXCLUDED.material,
			holder_type = EXCLUDED.holder_type,
			confidence = 1.0,
			source_kind = EXCLUDED.source_kind,
			verified = TRUE,
			correction_count = subjects.correction_count + 1,
			updated_at = EXCLUDED.updated_at
	`, subjectID, materialAfter, typeAfter, string(model.SourceVerified), ev.CreatedAt); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: mark verified: %w", err)
	}

	for _, b := range subjectBuckets(subjectID) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pattern_hypotheses (bucket_type, bucket_value, material, holder_type, sample_count, success_rate, last_updated)
			VALUES ($1, $2, $3, $4, 1, 1.0, $5)
			ON CONFLICT (bucket_type, bucket_value, material, holder_type) DO UPDATE SET
				sample_count = pattern_hypotheses.sample_count + 1,
				last_updated = EXCLUDED.last_updated
		`, b.kind, b.value, materialAfter, typeAfter, ev.CreatedAt); err != nil {
			return model.CorrectionEvent{}, fmt.Errorf("storage: bump hypothesis: %w", err)
		}

		// Keep the whole bucket consistent: every hypothesis's success rate
		// is its share of the bucket's samples.
		if _, err := tx.Exec(ctx, `
			UPDATE pattern_hypotheses ph SET success_rate = ph.sample_count::float8 / totals.total
			FROM (
				SELECT bucket_type, bucket_value, sum(sample_count)::float8 AS total
				FROM pattern_hypotheses
				WHERE bucket_type = $1 AND bucket_value = $2
				GROUP BY bucket_type, bucket_value
			) totals
			WHERE ph.bucket_type = totals.bucket_type AND ph.bucket_value = totals.bucket_value
		`, b.kind, b.value); err != nil {
			return model.CorrectionEvent{}, fmt.Errorf("storage: recompute success rates: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: commit correction: %w", err)
	}
	return ev, nil
}

// TopConfusions returns the n most frequent (before, after) correction pairs
// on an axis. Corrections that confirmed the stored value are not confusions.
func (db *DB) TopConfusions(ctx context.Context, axis model.Axis, n int) ([]model.ConfusionTally, error) {
	beforeCol, afterCol := "material_before", "material_after"
	if axis == model.AxisType {
		beforeCol, afterCol = "type_before", "type_after"
	}

	rows, err := db.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, %s, count(*), max(created_at)
		FROM corrections
		WHERE %s <> %s
		GROUP BY 1, 2
		ORDER BY 3 DESC, 4 DESC
		LIMIT $1
	`, beforeCol, afterCol, beforeCol, afterCol), n)
	if err != nil {
		return nil, fmt.Errorf("storage: top confusions: %w", err)
	}
	defer rows.Close()

	var tallies []model.ConfusionTally
	for rows.Next() {
		var t model.ConfusionTally
		if err := rows.Scan(&t.Before, &t.After, &t.Count, &t.LastSeen); err != nil {
			return nil, fmt.Errorf("storage: scan confusion: %w", err)
		}
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}
