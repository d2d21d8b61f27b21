package engine_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/engine"
	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/storage"
	"github.com/roadsight/holderd/internal/testutil"
	"github.com/roadsight/holderd/internal/vision"
)

// fakeAgg returns a fixed vision observation and counts calls.
type fakeAgg struct {
	obs   model.Observation
	calls int
}

func (f *fakeAgg) Analyze(_ context.Context, _ string, _ vision.Photo) model.Observation {
	f.calls++
	return f.obs
}

// fakePhotos resolves every subject to an empty photo.
type fakePhotos struct{}

type noopPhoto struct{}

func (noopPhoto) Region(_ context.Context, _ string) ([]byte, error) { return nil, nil }

func (fakePhotos) Photo(_ context.Context, _ string) (vision.Photo, error) {
	return noopPhoto{}, nil
}

// noPhotos never has a photograph.
type noPhotos struct{}

func (noPhotos) Photo(_ context.Context, _ string) (vision.Photo, error) {
	return nil, errors.New("no photograph on file")
}

func newLite(t *testing.T) *storage.Lite {
	t.Helper()
	cfg := engine.DefaultConfig()
	lite, err := storage.NewLite(context.Background(), ":memory:", cfg.Fallback, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close(context.Background()) })
	return lite
}

func newEngine(store storage.Store, agg engine.Aggregator, photos vision.PhotoSource, calib *calibration.Tracker) *engine.Engine {
	return engine.New(store, agg, photos, calib, engine.DefaultConfig(), testutil.TestLogger())
}

func TestDecideVerifiedShortCircuit(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{Material: "betón", Type: "x", Confidence: 0.9, Source: model.SourceVision}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	_, err := lite.ApplyCorrection(ctx, "A-77", "drevo", "stĺp značky samostatný")
	require.NoError(t, err)

	d := eng.Decide(ctx, "A-77", false)

	assert.Equal(t, "drevo", d.Material)
	assert.InDelta(t, 1.0, d.Confidence, 1e-9)
	assert.Equal(t, []model.Source{model.SourceVerified}, d.Sources)
	// Verified answers skip the live sources entirely.
	assert.Equal(t, 0, agg.calls)
}

func TestDecideForceRefreshRevotes(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{
		Material: "betón", Type: "stĺp verejného osvetlenia",
		Confidence: 0.8, Source: model.SourceVision,
	}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	_, err := lite.ApplyCorrection(ctx, "A-77", "kov", "stĺp značky samostatný")
	require.NoError(t, err)

	d := eng.Decide(ctx, "A-77", true)

	assert.Equal(t, 1, agg.calls)
	assert.Equal(t, 2, d.Observations)
	assert.Contains(t, d.Sources, model.SourceVerified)
	assert.Contains(t, d.Sources, model.SourceVision)
	// The verified record outweighs the disagreeing vision consensus:
	// kov 1.0×1.0 vs betón 0.8×0.9 per axis, then the agreement bonus.
	assert.Equal(t, "kov", d.Material)
	assert.InDelta(t, 1.0/1.72+0.05, d.Confidence, 1e-4)
}

func TestDecideVisionAndRuleDisagree(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{
		Material: "betón", Type: "stĺp verejného osvetlenia",
		Confidence: 0.7, Source: model.SourceVision,
	}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	// Subject 7: no record, no patterns; sources are the vision consensus
	// (0.7 × 0.9 = 0.63) and the default rule heuristic (0.5 × 0.5 = 0.25).
	d := eng.Decide(ctx, "7", false)

	require.Equal(t, 2, d.Observations)
	assert.Equal(t, "betón", d.Material)
	assert.Equal(t, "stĺp verejného osvetlenia", d.Type)
	assert.InDelta(t, 0.63/0.88+0.05, d.Confidence, 1e-4)
}

func TestDecideAgreementCapsBelowVerified(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{
		Material: "kov", Type: "stĺp značky samostatný",
		Confidence: 0.7, Source: model.SourceVision,
	}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	// Vision and the rule heuristic fully agree; perfect per-axis agreement
	// plus the bonus would exceed 1.0, so the ceiling applies.
	d := eng.Decide(ctx, "7", false)

	assert.InDelta(t, 0.99, d.Confidence, 1e-9)
}

func TestDecideSingleObservationUnchanged(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	eng := newEngine(lite, nil, nil, nil)

	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "A-5", Material: "drevo", Type: "stĺp značky samostatný",
		Confidence: 0.42, Source: model.SourceEnsemble,
	}))

	// Non-numeric id, no photo, no patterns: the stored prior is the only
	// observation and passes through without bonus or renormalization.
	d := eng.Decide(ctx, "A-5", false)

	assert.Equal(t, 1, d.Observations)
	assert.Equal(t, "drevo", d.Material)
	assert.InDelta(t, 0.42, d.Confidence, 1e-9)
}

func TestDecideZeroObservationsFallback(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	eng := newEngine(lite, nil, nil, nil)
	cfg := engine.DefaultConfig()

	first := eng.Decide(ctx, "X-404", false)
	second := eng.Decide(ctx, "X-404", false)

	assert.Equal(t, cfg.Fallback.Material, first.Material)
	assert.Equal(t, cfg.Fallback.Type, first.Type)
	assert.InDelta(t, cfg.FallbackConfidence, first.Confidence, 1e-9)
	assert.Equal(t, 0, first.Observations)
	// No source contributed, so none is credited.
	assert.Empty(t, first.Sources)
	// Deterministic: a repeat decision is identical.
	assert.Equal(t, first.Material, second.Material)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)

	// Zero-observation fallbacks are not worth persisting.
	_, err := lite.GetAnalysis(ctx, "X-404")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDecidePersistsConfidentResult(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{
		Material: "kov", Type: "stĺp značky samostatný",
		Confidence: 0.7, Source: model.SourceVision,
	}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	d := eng.Decide(ctx, "7", false)
	require.GreaterOrEqual(t, d.Confidence, 0.5)

	rec, err := lite.GetAnalysis(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, model.SourceEnsemble, rec.Source)
	assert.False(t, rec.Verified)
	assert.Equal(t, d.Material, rec.Material)
	assert.InDelta(t, d.Confidence, rec.Confidence, 1e-9)
}

func TestDecidePersistNeverDowngradesConcurrentCorrection(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	agg := &fakeAgg{obs: model.Observation{
		Material: "kov", Type: "stĺp značky samostatný",
		Confidence: 0.9, Source: model.SourceVision,
	}}
	eng := newEngine(lite, agg, fakePhotos{}, nil)

	// Decide's store write and Correct race on the same subject; whichever
	// order they land in, the correction must survive. Repeat across fresh
	// subjects to give the race a chance to interleave both ways.
	for i := 0; i < 25; i++ {
		id := strconv.Itoa(9300 + i)

		var wg sync.WaitGroup
		var correctErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			eng.Decide(ctx, id, false)
		}()
		go func() {
			defer wg.Done()
			_, correctErr = eng.Correct(ctx, id, "drevo", "stĺp verejného osvetlenia")
		}()
		wg.Wait()
		require.NoError(t, correctErr)

		rec, err := lite.GetAnalysis(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Verified, "subject %s lost its verified mark", id)
		assert.Equal(t, "drevo", rec.Material)
		assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	}
}

// failingStore errors on writes but reads like an empty store.
type failingStore struct {
	storage.Store
}

func (failingStore) GetAnalysis(_ context.Context, _ string) (model.SubjectRecord, error) {
	return model.SubjectRecord{}, storage.ErrNotFound
}

func (failingStore) QueryLearnedPrediction(_ context.Context, _ string) (model.LearnedPrediction, error) {
	return model.LearnedPrediction{}, storage.ErrNoPattern
}

func (failingStore) StoreAnalysis(_ context.Context, _ model.SubjectRecord) error {
	return errors.New("disk full")
}

func TestDecideStoreWriteFailureIsNonFatal(t *testing.T) {
	eng := newEngine(failingStore{}, nil, nil, nil)

	// Subject 7's rule heuristic clears the store threshold, the write
	// fails, and the decision still comes back intact.
	d := eng.Decide(context.Background(), "7", false)

	assert.Equal(t, 1, d.Observations)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
}

func TestCorrectRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	tracker := calibration.New(lite)
	eng := newEngine(lite, nil, nil, tracker)

	require.NoError(t, lite.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID: "A-9", Material: "kov", Type: "stĺp značky dvojitý",
		Confidence: 0.9, Source: model.SourceEnsemble,
	}))

	// Correction confirms the prediction.
	ev, err := eng.Correct(ctx, "A-9", "kov", "stĺp značky dvojitý")
	require.NoError(t, err)
	assert.Equal(t, "kov", ev.MaterialBefore)

	total, correct := tracker.Outcomes()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, correct)

	// A later correction that changes the class counts as a miss.
	_, err = eng.Correct(ctx, "A-9", "betón", "stĺp značky dvojitý")
	require.NoError(t, err)
	total, correct = tracker.Outcomes()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, correct)
}

func TestCorrectUnknownSubjectSkipsOutcome(t *testing.T) {
	ctx := context.Background()
	lite := newLite(t)
	tracker := calibration.New(lite)
	eng := newEngine(lite, nil, nil, tracker)

	// No prior prediction exists, so there is nothing to score.
	_, err := eng.Correct(ctx, "A-new", "drevo", "stĺp značky samostatný")
	require.NoError(t, err)

	total, _ := tracker.Outcomes()
	assert.Equal(t, 0, total)

	rec, err := lite.GetAnalysis(ctx, "A-new")
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}

func TestCorrectRequiresBothAxes(t *testing.T) {
	lite := newLite(t)
	eng := newEngine(lite, nil, nil, nil)

	_, err := eng.Correct(context.Background(), "A-1", "", "stĺp značky samostatný")
	assert.Error(t, err)
	_, err = eng.Correct(context.Background(), "A-1", "kov", "")
	assert.Error(t, err)
}
