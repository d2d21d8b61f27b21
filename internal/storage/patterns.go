package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roadsight/holderd/internal/model"
)

// QueryLearnedPrediction returns the strongest hypothesis across the
// subject's buckets. Within a bucket the hypothesis with the most samples
// wins (tie: higher success rate); across buckets the highest derived
// confidence wins.
func (db *DB) QueryLearnedPrediction(ctx context.Context, subjectID string) (model.LearnedPrediction, error) {
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
		err := db.pool.QueryRow(ctx, `
			SELECT material, holder_type, success_rate, sample_count
			FROM pattern_hypotheses
			WHERE bucket_type = $1 AND bucket_value = $2
			ORDER BY sample_count DESC, success_rate DESC
			LIMIT 1
		`, b.kind, b.value).Scan(&material, &typ, &successRate, &sampleCount)
		if errors.Is(err, pgx.ErrNoRows) {
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
