// Package calibration tracks how well predicted confidences match observed
// correctness, using the correction log as ground truth.
//
// State is in-memory and mutex-guarded. Everything here is a projection of
// the correction history and can be rebuilt by replaying it; durability is
// the store's job, not this package's.
package calibration

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/roadsight/holderd/internal/model"
)

const (
	// minBinSamples is the minimum outcomes a decile bin needs before its
	// verdict is reported.
	minBinSamples = 5
	// verdictMargin is the gap between stated confidence and observed
	// accuracy that flags a bin as miscalibrated.
	verdictMargin = 0.2
	// trendWindow is the number of accuracy snapshots compared on each side
	// when classifying the trend.
	trendWindow = 10
	// trendMargin is the accuracy delta below which the trend is stable.
	trendMargin = 0.05
)

// Verdict labels a confidence bin's relationship to observed accuracy.
type Verdict string

const (
	VerdictCalibrated     Verdict = "calibrated"
	VerdictOverconfident  Verdict = "overconfident"
	VerdictUnderconfident Verdict = "underconfident"
)

// Trend labels the direction of recent accuracy.
type Trend string

const (
	TrendImproving    Trend = "improving"
	TrendDeclining    Trend = "declining"
	TrendStable       Trend = "stable"
	TrendInsufficient Trend = "insufficient_data"
)

// Bin is one decile of predicted confidence with its observed outcomes.
type Bin struct {
	// Level is the decile midpoint as a percentage (0, 10, ... 100).
	Level            int     `json:"level"`
	Total            int     `json:"total"`
	Correct          int     `json:"correct"`
	Accuracy         float64 `json:"accuracy"`
	CalibrationError float64 `json:"calibration_error"`
	Verdict          Verdict `json:"verdict"`
}

// ConfusionSource supplies correction-log confusion tallies.
type ConfusionSource interface {
	TopConfusions(ctx context.Context, axis model.Axis, n int) ([]model.ConfusionTally, error)
}

type binCounts struct {
	total   int
	correct int
}

type snapshot struct {
	at       time.Time
	accuracy float64
}

// Tracker accumulates prediction outcomes.
type Tracker struct {
	confusions ConfusionSource

	mu        sync.Mutex
	bins      map[int]*binCounts
	snapshots []snapshot
	total     int
	correct   int
}

// New creates a Tracker that reads confusion tallies from src.
func New(src ConfusionSource) *Tracker {
	return &Tracker{
		confusions: src,
		bins:       make(map[int]*binCounts),
	}
}

// RecordOutcome files one resolved prediction under its confidence decile
// and appends a running-accuracy snapshot.
func (t *Tracker) RecordOutcome(predictedConfidence float64, wasCorrect bool) {
	level := int(math.Round(predictedConfidence*10)) * 10

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bins[level]
	if b == nil {
		b = &binCounts{}
		t.bins[level] = b
	}
	b.total++
	t.total++
	if wasCorrect {
		b.correct++
		t.correct++
	}

	t.snapshots = append(t.snapshots, snapshot{
		at:       time.Now().UTC(),
		accuracy: float64(t.correct) / float64(t.total),
	})
}

// Report returns per-bin accuracy and verdicts, lowest decile first. Bins
// with fewer than minBinSamples outcomes are omitted: their verdicts would
// be noise.
func (t *Tracker) Report() []Bin {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Bin
	for level := 0; level <= 100; level += 10 {
		b := t.bins[level]
		if b == nil || b.total < minBinSamples {
			continue
		}

		accuracy := float64(b.correct) / float64(b.total)
		stated := float64(level) / 100
		bin := Bin{
			Level:            level,
			Total:            b.total,
			Correct:          b.correct,
			Accuracy:         accuracy,
			CalibrationError: math.Abs(stated - accuracy),
			Verdict:          VerdictCalibrated,
		}
		switch {
		case stated-accuracy > verdictMargin:
			bin.Verdict = VerdictOverconfident
		case accuracy-stated > verdictMargin:
			bin.Verdict = VerdictUnderconfident
		}
		out = append(out, bin)
	}
	return out
}

// Trend compares the mean accuracy of the last trendWindow snapshots with
// the preceding trendWindow.
func (t *Tracker) Trend() Trend {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.snapshots) < 2*trendWindow {
		return TrendInsufficient
	}

	recent := meanAccuracy(t.snapshots[len(t.snapshots)-trendWindow:])
	previous := meanAccuracy(t.snapshots[len(t.snapshots)-2*trendWindow : len(t.snapshots)-trendWindow])

	switch {
	case recent-previous > trendMargin:
		return TrendImproving
	case previous-recent > trendMargin:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// Outcomes returns the total and correct outcome counts recorded so far.
func (t *Tracker) Outcomes() (total, correct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.correct
}

// TopConfusions returns the store's most frequent correction pairs on an
// axis.
func (t *Tracker) TopConfusions(ctx context.Context, axis model.Axis, n int) ([]model.ConfusionTally, error) {
	return t.confusions.TopConfusions(ctx, axis, n)
}

func meanAccuracy(s []snapshot) float64 {
	var sum float64
	for _, snap := range s {
		sum += snap.accuracy
	}
	return sum / float64(len(s))
}
