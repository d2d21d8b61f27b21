package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/storage"
	"github.com/roadsight/holderd/internal/testutil"
)

var testFallback = model.ClassPair{Material: "kov", Type: "stĺp značky samostatný"}

func newLite(t *testing.T) *storage.Lite {
	t.Helper()
	lite, err := storage.NewLite(context.Background(), ":memory:", testFallback, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close(context.Background()) })
	return lite
}

func TestLiteStoreAndGetAnalysis(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	rec := model.SubjectRecord{
		SubjectID:  "1234",
		Material:   "betón",
		Type:       "stĺp verejného osvetlenia",
		Confidence: 0.82,
		Source:     model.SourceEnsemble,
	}
	require.NoError(t, lite.StoreAnalysis(ctx, rec))

	got, err := lite.GetAnalysis(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "betón", got.Material)
	assert.Equal(t, "stĺp verejného osvetlenia", got.Type)
	assert.InDelta(t, 0.82, got.Confidence, 1e-9)
	assert.Equal(t, model.SourceEnsemble, got.Source)
	assert.False(t, got.Verified)
	assert.False(t, got.UpdatedAt.IsZero())

	// Upsert replaces the classification in place.
	rec.Material = "kov"
	rec.Confidence = 0.91
	require.NoError(t, lite.StoreAnalysis(ctx, rec))
	got, err = lite.GetAnalysis(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "kov", got.Material)
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
}

func TestLiteGetAnalysisNotFound(t *testing.T) {
	lite := newLite(t)
	_, err := lite.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLiteApplyCorrectionUnknownSubject(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	ev, err := lite.ApplyCorrection(ctx, "120", "betón", "stĺp verejného osvetlenia")
	require.NoError(t, err)

	// Unknown subjects are corrected from the fallback classification.
	assert.Equal(t, testFallback.Material, ev.MaterialBefore)
	assert.Equal(t, testFallback.Type, ev.TypeBefore)
	assert.Equal(t, "betón", ev.MaterialAfter)

	rec, err := lite.GetAnalysis(ctx, "120")
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	assert.Equal(t, 1, rec.CorrectionCount)
	assert.Equal(t, model.SourceVerified, rec.Source)
}

func TestLiteCorrectionCreatesBucketHypotheses(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	_, err := lite.ApplyCorrection(ctx, "120", "betón", "stĺp verejného osvetlenia")
	require.NoError(t, err)

	// 120 falls in bucket (id_mod_10, 0) among others; one correction gives
	// a single-sample hypothesis with discounted confidence 1.0 × 1/10.
	pred, err := lite.QueryLearnedPrediction(ctx, "300")
	require.NoError(t, err)
	assert.Equal(t, "betón", pred.Material)
	assert.Equal(t, "stĺp verejného osvetlenia", pred.Type)
	assert.Equal(t, "id_mod_10", pred.BucketType)
	assert.Equal(t, "0", pred.BucketValue)
	assert.InDelta(t, 0.1, pred.Confidence, 1e-9)
}

func TestLiteRepeatedCorrectionsStrengthenHypothesis(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	// Five subjects sharing bucket (id_mod_10, 0), all corrected to the same
	// class: success rate stays 1.0 and the sample discount gives 5/10.
	for _, id := range []string{"100", "110", "120", "130", "140"} {
		_, err := lite.ApplyCorrection(ctx, id, "betón", "stĺp verejného osvetlenia")
		require.NoError(t, err)
	}

	pred, err := lite.QueryLearnedPrediction(ctx, "990")
	require.NoError(t, err)
	assert.Equal(t, "id_mod_10", pred.BucketType)
	assert.Equal(t, 5, pred.SampleCount)
	assert.InDelta(t, 0.5, pred.Confidence, 1e-9)
}

func TestLiteCompetingHypothesesSplitSuccessRate(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	for _, id := range []string{"100", "110", "120"} {
		_, err := lite.ApplyCorrection(ctx, id, "betón", "stĺp verejného osvetlenia")
		require.NoError(t, err)
	}
	_, err := lite.ApplyCorrection(ctx, "130", "kov", "stĺp značky dvojitý")
	require.NoError(t, err)

	// Bucket (id_mod_10, 0) now holds betón 3/4 and kov 1/4. The majority
	// hypothesis wins by sample count and its confidence is its own success
	// rate times its own sample discount: 0.75 × 3/10.
	pred, err := lite.QueryLearnedPrediction(ctx, "990")
	require.NoError(t, err)
	assert.Equal(t, "betón", pred.Material)
	assert.Equal(t, 3, pred.SampleCount)
	assert.InDelta(t, 0.75*0.3, pred.Confidence, 1e-9)
}

func TestLiteNonNumericSubjectSkipsBuckets(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	_, err := lite.ApplyCorrection(ctx, "ABC-9", "drevo", "stĺp značky samostatný")
	require.NoError(t, err)

	rec, err := lite.GetAnalysis(ctx, "ABC-9")
	require.NoError(t, err)
	assert.True(t, rec.Verified)

	_, err = lite.QueryLearnedPrediction(ctx, "ABC-9")
	assert.ErrorIs(t, err, storage.ErrNoPattern)
}

func TestLiteTopConfusions(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	// Seed records so corrections have real "before" values.
	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "1", Material: "kov", Type: "a", Confidence: 0.8, Source: model.SourceEnsemble,
	}))
	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "2", Material: "kov", Type: "a", Confidence: 0.8, Source: model.SourceEnsemble,
	}))
	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "3", Material: "drevo", Type: "a", Confidence: 0.8, Source: model.SourceEnsemble,
	}))

	_, err := lite.ApplyCorrection(ctx, "1", "betón", "a")
	require.NoError(t, err)
	_, err = lite.ApplyCorrection(ctx, "2", "betón", "a")
	require.NoError(t, err)
	_, err = lite.ApplyCorrection(ctx, "3", "kov", "a")
	require.NoError(t, err)

	tallies, err := lite.TopConfusions(ctx, model.AxisMaterial, 5)
	require.NoError(t, err)
	require.Len(t, tallies, 2)
	assert.Equal(t, "kov", tallies[0].Before)
	assert.Equal(t, "betón", tallies[0].After)
	assert.Equal(t, 2, tallies[0].Count)
	assert.Equal(t, "drevo", tallies[1].Before)

	// The type axis saw no changes, so it has no confusions.
	tallies, err = lite.TopConfusions(ctx, model.AxisType, 5)
	require.NoError(t, err)
	assert.Empty(t, tallies)
}

func TestLiteExportRecordsNewestFirst(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	for _, id := range []string{"10", "11", "12"} {
		require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
			SubjectID: id, Material: "kov", Type: "a", Confidence: 0.7, Source: model.SourceEnsemble,
		}))
	}

	recs, err := lite.ExportRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].UpdatedAt.After(recs[i-1].UpdatedAt))
	}
}

func TestLiteStats(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "50", Material: "kov", Type: "a", Confidence: 0.6, Source: model.SourceEnsemble,
	}))
	_, err := lite.ApplyCorrection(ctx, "51", "betón", "b")
	require.NoError(t, err)

	stats, err := lite.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSubjects)
	assert.Equal(t, 1, stats.VerifiedCount)
	assert.Equal(t, 1, stats.CorrectionCount)
	assert.Equal(t, 5, stats.HypothesisCount)
	assert.InDelta(t, 0.6, stats.AvgConfidence[model.SourceEnsemble], 1e-9)
	assert.InDelta(t, 1.0, stats.AvgConfidence[model.SourceVerified], 1e-9)
}

func TestLiteExportOrdersSubSecondTimestamps(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// RFC3339Nano renders these as ".5Z" and ".52Z", which sort in the wrong
	// order as text; the fixed-width column format keeps them chronological.
	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "older", Material: "kov", Type: "a",
		Confidence: 0.7, Source: model.SourceEnsemble,
		UpdatedAt: base.Add(500 * time.Millisecond),
	}))
	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "newer", Material: "kov", Type: "a",
		Confidence: 0.7, Source: model.SourceEnsemble,
		UpdatedAt: base.Add(520 * time.Millisecond),
	}))

	recs, err := lite.ExportRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "newer", recs[0].SubjectID)
	assert.Equal(t, "older", recs[1].SubjectID)
}
