package vision_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/testutil"
	"github.com/roadsight/holderd/internal/vision"
)

var fallback = model.ClassPair{Material: "kov", Type: "stĺp značky samostatný"}

// fakePhoto returns the region name as the image bytes so the fake oracle
// can answer per region.
type fakePhoto struct{}

func (fakePhoto) Region(_ context.Context, name string) ([]byte, error) {
	return []byte(name), nil
}

// fakeOracle answers from a canned reply per region and records how many
// calls it saw.
type fakeOracle struct {
	mu      sync.Mutex
	calls   int
	replies map[string]vision.Reply
	errs    map[string]error
}

func (f *fakeOracle) Analyze(_ context.Context, image []byte, _ string) (vision.Reply, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	region := string(image)
	if err, ok := f.errs[region]; ok {
		return vision.Reply{}, err
	}
	if reply, ok := f.replies[region]; ok {
		return reply, nil
	}
	return vision.Reply{}, errors.New("no reply configured")
}

func newAggregator(oracle vision.Oracle) *vision.Aggregator {
	return vision.NewAggregator(oracle, fallback, 5*time.Second, testutil.TestLogger())
}

func TestAnalyzeConsultsEveryRegion(t *testing.T) {
	oracle := &fakeOracle{replies: map[string]vision.Reply{}}
	for _, name := range vision.RegionNames() {
		oracle.replies[name] = vision.Reply{Material: "kov", Type: "stĺp značky samostatný", Confidence: 0.8}
	}

	obs := newAggregator(oracle).Analyze(context.Background(), "42", fakePhoto{})

	assert.Equal(t, len(vision.RegionNames()), oracle.calls)
	assert.Equal(t, "kov", obs.Material)
	assert.Equal(t, model.SourceVision, obs.Source)
	// Unanimous regions at equal confidence vote to full agreement per axis.
	assert.InDelta(t, 1.0, obs.Confidence, 1e-9)
}

func TestAnalyzeAllDiscardedFallsBack(t *testing.T) {
	oracle := &fakeOracle{replies: map[string]vision.Reply{}}
	for _, name := range vision.RegionNames() {
		// At the discard threshold, not above it.
		oracle.replies[name] = vision.Reply{Material: "drevo", Type: "x", Confidence: 0.3}
	}

	obs := newAggregator(oracle).Analyze(context.Background(), "42", fakePhoto{})

	assert.Equal(t, fallback.Material, obs.Material)
	assert.Equal(t, fallback.Type, obs.Type)
	assert.InDelta(t, 0.3, obs.Confidence, 1e-9)
}

func TestAnalyzeSingleSurvivorUnchanged(t *testing.T) {
	oracle := &fakeOracle{
		replies: map[string]vision.Reply{
			"center-shaft": {Material: "betón", Type: "stĺp verejného osvetlenia", Confidence: 0.55},
		},
		errs: map[string]error{},
	}
	for _, name := range vision.RegionNames() {
		if name != "center-shaft" {
			oracle.errs[name] = errors.New("blurry crop")
		}
	}

	obs := newAggregator(oracle).Analyze(context.Background(), "42", fakePhoto{})

	assert.Equal(t, "betón", obs.Material)
	assert.Equal(t, "stĺp verejného osvetlenia", obs.Type)
	assert.InDelta(t, 0.55, obs.Confidence, 1e-9)
}

func TestAnalyzeFailedRegionsDoNotPoisonVote(t *testing.T) {
	oracle := &fakeOracle{
		replies: map[string]vision.Reply{},
		errs: map[string]error{
			"base-section": errors.New("timeout"),
		},
	}
	for _, name := range vision.RegionNames() {
		if name != "base-section" {
			oracle.replies[name] = vision.Reply{Material: "kov", Type: "stĺp značky dvojitý", Confidence: 0.7}
		}
	}

	obs := newAggregator(oracle).Analyze(context.Background(), "42", fakePhoto{})

	require.Equal(t, "kov", obs.Material)
	assert.InDelta(t, 1.0, obs.Confidence, 1e-9)
}

func TestAnalyzeMajorityWins(t *testing.T) {
	oracle := &fakeOracle{replies: map[string]vision.Reply{}}
	names := vision.RegionNames()
	for i, name := range names {
		if i < 2 {
			oracle.replies[name] = vision.Reply{Material: "drevo", Type: "stĺp značky samostatný", Confidence: 0.9}
			continue
		}
		oracle.replies[name] = vision.Reply{Material: "kov", Type: "stĺp značky samostatný", Confidence: 0.6}
	}

	obs := newAggregator(oracle).Analyze(context.Background(), "42", fakePhoto{})

	// kov: 5 regions × 0.6² = 1.80 beats drevo: 2 × 0.9² = 1.62.
	assert.Equal(t, "kov", obs.Material)
	assert.Less(t, obs.Confidence, 1.0)
}
