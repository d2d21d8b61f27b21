package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/roadsight/holderd/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subjects (
	subject_id TEXT PRIMARY KEY,
	material TEXT NOT NULL,
	holder_type TEXT NOT NULL,
	confidence REAL NOT NULL,
	source_kind TEXT NOT NULL,
	verified INTEGER NOT NULL DEFAULT 0,
	correction_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS corrections (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	material_before TEXT NOT NULL,
	type_before TEXT NOT NULL,
	material_after TEXT NOT NULL,
	type_after TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_subject ON corrections (subject_id);
CREATE TABLE IF NOT EXISTS pattern_hypotheses (
	bucket_type TEXT NOT NULL,
	bucket_value TEXT NOT NULL,
	material TEXT NOT NULL,
	holder_type TEXT NOT NULL,
	sample_count INTEGER NOT NULL,
	success_rate REAL NOT NULL,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (bucket_type, bucket_value, material, holder_type)
);
`

// sqliteTimeFormat stores timestamps as fixed-width text, so lexicographic
// order matches chronological order. RFC3339Nano is unsuitable here: it
// trims trailing zeros, which misorders sub-second ties under ORDER BY.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Lite is the SQLite-backed Store for local single-operator use.
type Lite struct {
	db       *sql.DB
	fallback model.ClassPair
	logger   *slog.Logger
}

var _ Store = (*Lite)(nil)

// NewLite opens (and if needed initializes) a SQLite store at path. The
// connection pool is capped at one connection, which also serializes writes.
func NewLite(ctx context.Context, path string, fallback model.ClassPair, logger *slog.Logger) (*Lite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init sqlite schema: %w", err)
	}

	return &Lite{db: db, fallback: fallback, logger: logger}, nil
}

func (l *Lite) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Lite) Close(ctx context.Context) error {
	return l.db.Close()
}

func (l *Lite) StoreAnalysis(ctx context.Context, rec model.SubjectRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO subjects (subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			material = excluded.material,
			holder_type = excluded.holder_type,
			confidence = excluded.confidence,
			source_kind = excluded.source_kind,
			verified = excluded.verified,
			updated_at = excluded.updated_at
	`, rec.SubjectID, rec.Material, rec.Type, rec.Confidence, string(rec.Source),
		rec.Verified, rec.CorrectionCount, rec.UpdatedAt.Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("storage: store analysis: %w", err)
	}
	return nil
}

func (l *Lite) GetAnalysis(ctx context.Context, subjectID string) (model.SubjectRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at
		FROM subjects WHERE subject_id = ?
	`, subjectID)
	rec, err := scanSubjectRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubjectRecord{}, ErrNotFound
	}
	if err != nil {
		return model.SubjectRecord{}, fmt.Errorf("storage: get analysis: %w", err)
	}
	return rec, nil
}

func (l *Lite) ApplyCorrection(ctx context.Context, subjectID, materialAfter, typeAfter string) (model.CorrectionEvent, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before := l.fallback
	err = tx.QueryRowContext(ctx, `
		SELECT material, holder_type FROM subjects WHERE subject_id = ?
	`, subjectID).Scan(&before.Material, &before.Type)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
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
	createdAt := ev.CreatedAt.Format(sqliteTimeFormat)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO corrections (id, subject_id, material_before, type_before, material_after, type_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.SubjectID, ev.MaterialBefore, ev.TypeBefore, ev.MaterialAfter, ev.TypeAfter, createdAt); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: append correction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subjects (subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at)
		VALUES (?, ?, ?, 1.0, ?, 1, 1, ?)
		ON CONFLICT (subject_id) DO UPDATE SET
			material = excluded.material,
			holder_type = excluded.holder_type,
			confidence = 1.0,
			source_kind = excluded.source_kind,
			verified = 1,
			correction_count = subjects.correction_count + 1,
			updated_at = excluded.updated_at
	`, subjectID, materialAfter, typeAfter, string(model.SourceVerified), createdAt); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: mark verified: %w", err)
	}

	for _, b := range subjectBuckets(subjectID) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pattern_hypotheses (bucket_type, bucket_value, material, holder_type, sample_count, success_rate, last_updated)
			VALUES (?, ?, ?, ?, 1, 1.0, ?)
			ON CONFLICT (bucket_type, bucket_value, material, holder_type) DO UPDATE SET
				sample_count = pattern_hypotheses.sample_count + 1,
				last_updated = excluded.last_updated
		`, b.kind, b.value, materialAfter, typeAfter, createdAt); err != nil {
			return model.CorrectionEvent{}, fmt.Errorf("storage: bump hypothesis: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pattern_hypotheses
			SET success_rate = CAST(sample_count AS REAL) / (
				SELECT sum(sample_count) FROM pattern_hypotheses p2
				WHERE p2.bucket_type = pattern_hypotheses.bucket_type
				  AND p2.bucket_value = pattern_hypotheses.bucket_value
			)
			WHERE bucket_type = ? AND bucket_value = ?
		`, b.kind, b.value); err != nil {
			return model.CorrectionEvent{}, fmt.Errorf("storage: recompute success rates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("storage: commit correction: %w", err)
	}
	return ev, nil
}

func (l *Lite) QueryLearnedPrediction(ctx context.Context, subjectID string) (model.LearnedPrediction, error) {
	buckets := subjectBuckets(subjectID)
	if len(buckets) == 0 {
		return model.LearnedPrediction{}, ErrNoPattern
	}

	var best model.LearnedPrediction
	found := false
	for _, b := range buckets {
		var material, typ string
		var successRate float64
		var sampleCount int
		err := l.db.QueryRowContext(ctx, `
			SELECT material, holder_type, success_rate, sample_count
			FROM pattern_hypotheses
			WHERE bucket_type = ? AND bucket_value = ?
			ORDER BY sample_count DESC, success_rate DESC
			LIMIT 1
		`, b.kind, b.value).Scan(&material, &typ, &successRate, &sampleCount)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return model.LearnedPrediction{}, fmt.Errorf("storage: query hypothesis: %w", err)
		}

		conf := patternConfidence(successRate, sampleCount)
		if !found || conf > best.Confidence {
			best = model.LearnedPrediction{
				Material:    material,
				Type:        typ,
				Confidence:  conf,
				BucketType:  b.kind,
				BucketValue: b.value,
				SampleCount: sampleCount,
			}
			found = true
		}
	}

	if !found {
		return model.LearnedPrediction{}, ErrNoPattern
	}
	return best, nil
}

func (l *Lite) ExportRecords(ctx context.Context) ([]model.SubjectRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT subject_id, material, holder_type, confidence, source_kind, verified, correction_count, updated_at
		FROM subjects ORDER BY updated_at DESC, subject_id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: export records: %w", err)
	}
	defer rows.Close()

	var recs []model.SubjectRecord
	for rows.Next() {
		rec, err := scanSubjectRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (l *Lite) TopConfusions(ctx context.Context, axis model.Axis, n int) ([]model.ConfusionTally, error) {
	beforeCol, afterCol := "material_before", "material_after"
	if axis == model.AxisType {
		beforeCol, afterCol = "type_before", "type_after"
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, %s, count(*), max(created_at)
		FROM corrections
		WHERE %s <> %s
		GROUP BY 1, 2
		ORDER BY 3 DESC, 4 DESC
		LIMIT ?
	`, beforeCol, afterCol, beforeCol, afterCol), n)
	if err != nil {
		return nil, fmt.Errorf("storage: top confusions: %w", err)
	}
	defer rows.Close()

	var tallies []model.ConfusionTally
	for rows.Next() {
		var t model.ConfusionTally
		var lastSeen string
		if err := rows.Scan(&t.Before, &t.After, &t.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("storage: scan confusion: %w", err)
		}
		if t.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return nil, fmt.Errorf("storage: parse confusion timestamp: %w", err)
		}
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

func (l *Lite) Stats(ctx context.Context) (model.StoreStats, error) {
	var stats model.StoreStats
	err := l.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM subjects),
			(SELECT count(*) FROM subjects WHERE verified = 1),
			(SELECT count(*) FROM corrections),
			(SELECT count(*) FROM pattern_hypotheses)
	`).Scan(&stats.TotalSubjects, &stats.VerifiedCount, &stats.CorrectionCount, &stats.HypothesisCount)
	if err != nil {
		return model.StoreStats{}, fmt.Errorf("storage: stats: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
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

// scanSubjectRow scans one subjects row; updated_at is stored as fixed-width
// RFC 3339 text (RFC3339Nano parses it) and id strings stay as-is.
func scanSubjectRow(scan func(...any) error) (model.SubjectRecord, error) {
	var rec model.SubjectRecord
	var source, updatedAt string
	var verified int
	if err := scan(
		&rec.SubjectID, &rec.Material, &rec.Type, &rec.Confidence,
		&source, &verified, &rec.CorrectionCount, &updatedAt,
	); err != nil {
		return model.SubjectRecord{}, err
	}
	rec.Source = model.Source(source)
	rec.Verified = verified != 0
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return model.SubjectRecord{}, err
	}
	rec.UpdatedAt = ts
	return rec, nil
}
