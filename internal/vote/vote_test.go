package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/holderd/internal/model"
)

func TestWeightedEmpty(t *testing.T) {
	_, ok := Weighted(nil)
	assert.False(t, ok)
}

func TestWeightedSingleObservationUnchanged(t *testing.T) {
	obs := []model.Observation{
		{Material: "drevo", Type: "stĺp značky samostatný", Confidence: 0.42, Weight: 0.6},
	}
	res, ok := Weighted(obs)
	require.True(t, ok)
	assert.Equal(t, "drevo", res.Material)
	assert.Equal(t, "stĺp značky samostatný", res.Type)
	// Not inflated to 1.0 by being the only voter.
	assert.InDelta(t, 0.42, res.Confidence, 1e-9)
}

func TestWeightedTwoSources(t *testing.T) {
	// Two sources agree on type but disagree on material:
	//   material scores: kov 0.7×0.9 = 0.63, betón 0.5×0.6 = 0.30
	//   material confidence 0.63/0.93 ≈ 0.677, type confidence 1.0
	obs := []model.Observation{
		{Material: "kov", Type: "stĺp značky samostatný", Confidence: 0.7, Weight: 0.9},
		{Material: "betón", Type: "stĺp značky samostatný", Confidence: 0.5, Weight: 0.6},
	}
	res, ok := Weighted(obs)
	require.True(t, ok)
	assert.Equal(t, "kov", res.Material)
	assert.Equal(t, "stĺp značky samostatný", res.Type)
	assert.InDelta(t, (0.63/0.93+1.0)/2, res.Confidence, 1e-9)
	assert.InDelta(t, 0.8387, res.Confidence, 0.0001)
}

func TestWeightedTieBreaksOnHeaviestVoter(t *testing.T) {
	obs := []model.Observation{
		{Material: "kov", Type: "a", Confidence: 0.6, Weight: 0.5},
		{Material: "betón", Type: "a", Confidence: 0.5, Weight: 0.6},
	}
	res, ok := Weighted(obs)
	require.True(t, ok)
	// Equal scores (0.30 each); the heavier voter wins.
	assert.Equal(t, "betón", res.Material)
}

func TestWeightedIgnoresEmptyAxisValues(t *testing.T) {
	obs := []model.Observation{
		{Material: "kov", Type: "", Confidence: 0.9, Weight: 1.0},
		{Material: "kov", Type: "stĺp verejného osvetlenia", Confidence: 0.5, Weight: 0.6},
	}
	res, ok := Weighted(obs)
	require.True(t, ok)
	assert.Equal(t, "stĺp verejného osvetlenia", res.Type)
}
