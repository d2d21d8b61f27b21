package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/holderd/internal/model"
)

type fakeConfusions struct {
	tallies []model.ConfusionTally
}

func (f *fakeConfusions) TopConfusions(_ context.Context, _ model.Axis, n int) ([]model.ConfusionTally, error) {
	if n > len(f.tallies) {
		n = len(f.tallies)
	}
	return f.tallies[:n], nil
}

func TestReportOverconfidentBin(t *testing.T) {
	tr := New(&fakeConfusions{})

	// 20 predictions at 0.9 with only half correct: stated 0.9, observed
	// 0.5, gap 0.4 over the margin.
	for i := 0; i < 20; i++ {
		tr.RecordOutcome(0.9, i%2 == 0)
	}

	report := tr.Report()
	require.Len(t, report, 1)
	bin := report[0]
	assert.Equal(t, 90, bin.Level)
	assert.Equal(t, 20, bin.Total)
	assert.Equal(t, 10, bin.Correct)
	assert.InDelta(t, 0.5, bin.Accuracy, 1e-9)
	assert.InDelta(t, 0.4, bin.CalibrationError, 1e-9)
	assert.Equal(t, VerdictOverconfident, bin.Verdict)
}

func TestReportUnderconfidentBin(t *testing.T) {
	tr := New(&fakeConfusions{})

	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.3, true)
	}

	report := tr.Report()
	require.Len(t, report, 1)
	assert.Equal(t, 30, report[0].Level)
	assert.Equal(t, VerdictUnderconfident, report[0].Verdict)
}

func TestReportSkipsThinBins(t *testing.T) {
	tr := New(&fakeConfusions{})

	// Four outcomes is below the reporting floor.
	for i := 0; i < 4; i++ {
		tr.RecordOutcome(0.7, false)
	}
	assert.Empty(t, tr.Report())

	tr.RecordOutcome(0.7, false)
	assert.Len(t, tr.Report(), 1)
}

func TestReportCalibratedBin(t *testing.T) {
	tr := New(&fakeConfusions{})

	// 10 predictions at 0.8 with 8 correct is spot on.
	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.8, i < 8)
	}

	report := tr.Report()
	require.Len(t, report, 1)
	assert.Equal(t, VerdictCalibrated, report[0].Verdict)
	assert.InDelta(t, 0.0, report[0].CalibrationError, 1e-9)
}

func TestReportBinsAreDeciles(t *testing.T) {
	tr := New(&fakeConfusions{})

	// 0.84 rounds to the 80 bin, 0.86 to the 90 bin.
	for i := 0; i < 5; i++ {
		tr.RecordOutcome(0.84, true)
		tr.RecordOutcome(0.86, true)
	}

	report := tr.Report()
	require.Len(t, report, 2)
	assert.Equal(t, 80, report[0].Level)
	assert.Equal(t, 90, report[1].Level)
}

func TestTrendInsufficientData(t *testing.T) {
	tr := New(&fakeConfusions{})
	for i := 0; i < 19; i++ {
		tr.RecordOutcome(0.5, true)
	}
	assert.Equal(t, TrendInsufficient, tr.Trend())
}

func TestTrendImproving(t *testing.T) {
	tr := New(&fakeConfusions{})

	// A failing start followed by a correct streak pulls the running
	// accuracy up through the recent window.
	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.5, false)
	}
	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.5, true)
	}
	assert.Equal(t, TrendImproving, tr.Trend())
}

func TestTrendDeclining(t *testing.T) {
	tr := New(&fakeConfusions{})

	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.5, true)
	}
	for i := 0; i < 10; i++ {
		tr.RecordOutcome(0.5, false)
	}
	assert.Equal(t, TrendDeclining, tr.Trend())
}

func TestTrendStable(t *testing.T) {
	tr := New(&fakeConfusions{})

	for i := 0; i < 40; i++ {
		tr.RecordOutcome(0.5, i%2 == 0)
	}
	assert.Equal(t, TrendStable, tr.Trend())
}

func TestTopConfusionsDelegates(t *testing.T) {
	src := &fakeConfusions{tallies: []model.ConfusionTally{
		{Before: "kov", After: "betón", Count: 3},
		{Before: "drevo", After: "kov", Count: 1},
	}}
	tr := New(src)

	tallies, err := tr.TopConfusions(context.Background(), model.AxisMaterial, 1)
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	assert.Equal(t, "kov", tallies[0].Before)
}
