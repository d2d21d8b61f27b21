// Package engine combines the stored record, the vision consensus, learned
// patterns, and rule heuristics into one classification decision per
// subject, and routes human corrections back into the store and the
// calibration tracker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/storage"
	"github.com/roadsight/holderd/internal/telemetry"
	"github.com/roadsight/holderd/internal/vision"
	"github.com/roadsight/holderd/internal/vote"
)

// Weights are the per-source reliability weights. The ordering contract is
// Verified > Vision > Prior, Pattern > Rule; DefaultWeights satisfies it and
// any configured override must too.
type Weights struct {
	Verified float64
	Vision   float64
	Prior    float64
	Pattern  float64
	Rule     float64
}

// DefaultWeights returns the standard reliability weights.
func DefaultWeights() Weights {
	return Weights{
		Verified: 1.0,
		Vision:   0.9,
		Prior:    0.7,
		Pattern:  0.6,
		Rule:     0.5,
	}
}

// Config carries the engine's tunables.
type Config struct {
	// Fallback is the classification used when nothing else is available.
	Fallback model.ClassPair
	// FallbackConfidence is attached to zero-observation decisions.
	FallbackConfidence float64
	// StoreThreshold is the minimum confidence at which a decision is
	// written back to the store.
	StoreThreshold float64
	Weights        Weights
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Fallback:           model.ClassPair{Material: "kov", Type: "stĺp značky samostatný"},
		FallbackConfidence: 0.4,
		StoreThreshold:     0.5,
		Weights:            DefaultWeights(),
	}
}

const (
	// agreementStep is the confidence bonus per additional agreeing source.
	agreementStep = 0.05
	// agreementCap bounds the total agreement bonus.
	agreementCap = 0.10
	// confidenceCeiling keeps ensemble output below human-verified certainty.
	confidenceCeiling = 0.99
)

// Aggregator produces the vision observation for one photograph.
type Aggregator interface {
	Analyze(ctx context.Context, subjectID string, photo vision.Photo) model.Observation
}

// Engine is the ensemble decision engine.
type Engine struct {
	store  storage.Store
	agg    Aggregator
	photos vision.PhotoSource
	calib  *calibration.Tracker
	cfg    Config
	logger *slog.Logger
	locks  subjectLocks

	decisions      metric.Int64Counter
	decideDuration metric.Float64Histogram
}

// New creates an Engine. agg and photos may be nil, which disables the
// vision source; calib may be nil, which disables outcome tracking.
func New(store storage.Store, agg Aggregator, photos vision.PhotoSource, calib *calibration.Tracker, cfg Config, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("holderd/engine")
	decisions, _ := meter.Int64Counter("engine.decisions",
		metric.WithDescription("Decisions made, by dominant source"))
	decideDuration, _ := meter.Float64Histogram("engine.decide.duration",
		metric.WithDescription("End-to-end decide latency in seconds"),
		metric.WithUnit("s"))

	return &Engine{
		store:          store,
		agg:            agg,
		photos:         photos,
		calib:          calib,
		cfg:            cfg,
		logger:         logger,
		decisions:      decisions,
		decideDuration: decideDuration,
	}
}

// Decide classifies one subject. It is total: every failure path degrades to
// a lower-confidence answer rather than an error. forceRefresh consults the
// live sources even when a verified record exists; the verified record then
// competes in the vote instead of short-circuiting it.
func (e *Engine) Decide(ctx context.Context, subjectID string, forceRefresh bool) model.Decision {
	start := time.Now()

	rec, err := e.store.GetAnalysis(ctx, subjectID)
	haveRecord := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("engine: read prior record", "subject_id", subjectID, "error", err)
	}

	if haveRecord && rec.Verified && !forceRefresh {
		d := model.Decision{
			SubjectID:    subjectID,
			Material:     rec.Material,
			Type:         rec.Type,
			Confidence:   1.0,
			Sources:      []model.Source{model.SourceVerified},
			Observations: 1,
			DecidedAt:    time.Now().UTC(),
		}
		e.record(ctx, d, start)
		return d
	}

	obs := e.gather(ctx, subjectID, rec, haveRecord)

	d := e.combine(subjectID, obs)

	if d.Confidence >= e.cfg.StoreThreshold && len(obs) > 0 {
		e.persist(ctx, d)
	}

	e.record(ctx, d, start)
	return d
}

// gather collects one observation per available source.
func (e *Engine) gather(ctx context.Context, subjectID string, rec model.SubjectRecord, haveRecord bool) []model.Observation {
	var obs []model.Observation

	if haveRecord {
		weight := e.cfg.Weights.Prior
		source := model.SourcePrior
		if rec.Verified {
			// Only reachable under forceRefresh: the verified answer joins
			// the vote at full weight instead of winning outright.
			weight = e.cfg.Weights.Verified
			source = model.SourceVerified
		}
		obs = append(obs, model.Observation{
			Material:   rec.Material,
			Type:       rec.Type,
			Confidence: rec.Confidence,
			Source:     source,
			Weight:     weight,
		})
	}

	if e.agg != nil && e.photos != nil {
		photo, err := e.photos.Photo(ctx, subjectID)
		switch {
		case err != nil:
			e.logger.Debug("engine: no photograph", "subject_id", subjectID, "error", err)
		default:
			o := e.agg.Analyze(ctx, subjectID, photo)
			o.Weight = e.cfg.Weights.Vision
			obs = append(obs, o)
		}
	}

	if pred, err := e.store.QueryLearnedPrediction(ctx, subjectID); err == nil {
		obs = append(obs, model.Observation{
			Material:   pred.Material,
			Type:       pred.Type,
			Confidence: pred.Confidence,
			Source:     model.SourcePattern,
			Weight:     e.cfg.Weights.Pattern,
		})
	} else if !errors.Is(err, storage.ErrNoPattern) {
		e.logger.Warn("engine: learned prediction", "subject_id", subjectID, "error", err)
	}

	if rule, ok := e.ruleObservation(subjectID); ok {
		obs = append(obs, rule)
	}

	return obs
}

// combine runs the weighted vote and applies the agreement bonus.
func (e *Engine) combine(subjectID string, obs []model.Observation) model.Decision {
	result, ok := vote.Weighted(obs)
	if !ok {
		// No source contributed, so no source is credited.
		return model.Decision{
			SubjectID:  subjectID,
			Material:   e.cfg.Fallback.Material,
			Type:       e.cfg.Fallback.Type,
			Confidence: e.cfg.FallbackConfidence,
			DecidedAt:  time.Now().UTC(),
		}
	}

	confidence := result.Confidence
	if len(obs) > 1 {
		bonus := float64(len(obs)-1) * agreementStep
		if bonus > agreementCap {
			bonus = agreementCap
		}
		confidence += bonus
		if confidence > confidenceCeiling {
			confidence = confidenceCeiling
		}
	}

	sources := make([]model.Source, 0, len(obs))
	for _, o := range obs {
		sources = append(sources, o.Source)
	}

	return model.Decision{
		SubjectID:    subjectID,
		Material:     result.Material,
		Type:         result.Type,
		Confidence:   confidence,
		Sources:      sources,
		Observations: len(obs),
		DecidedAt:    time.Now().UTC(),
	}
}

// persist writes a decision back as the subject's unverified state. The
// write is best effort; the decision stands even if it fails.
func (e *Engine) persist(ctx context.Context, d model.Decision) {
	unlock := e.locks.lock(d.SubjectID)
	defer unlock()

	// A correction may have landed while we were deciding; never downgrade a
	// verified record to an ensemble guess.
	if cur, err := e.store.GetAnalysis(ctx, d.SubjectID); err == nil && cur.Verified {
		return
	}

	err := e.store.StoreAnalysis(ctx, model.SubjectRecord{
		SubjectID:  d.SubjectID,
		Material:   d.Material,
		Type:       d.Type,
		Confidence: d.Confidence,
		Source:     model.SourceEnsemble,
	})
	if err != nil {
		e.logger.Warn("engine: persist decision", "subject_id", d.SubjectID, "error", err)
	}
}

// Correct applies a human correction and reports the prior prediction's
// outcome to the calibration tracker.
func (e *Engine) Correct(ctx context.Context, subjectID, material, typ string) (model.CorrectionEvent, error) {
	if material == "" || typ == "" {
		return model.CorrectionEvent{}, fmt.Errorf("engine: correction needs both material and type")
	}

	unlock := e.locks.lock(subjectID)
	defer unlock()

	prior, err := e.store.GetAnalysis(ctx, subjectID)
	havePrior := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.CorrectionEvent{}, fmt.Errorf("engine: read prior state: %w", err)
	}

	ev, err := e.store.ApplyCorrection(ctx, subjectID, material, typ)
	if err != nil {
		return model.CorrectionEvent{}, fmt.Errorf("engine: apply correction: %w", err)
	}

	// Only a real prior prediction has an outcome to score.
	if havePrior && e.calib != nil {
		wasCorrect := prior.Material == material && prior.Type == typ
		e.calib.RecordOutcome(prior.Confidence, wasCorrect)
	}

	e.logger.Info("engine: correction applied",
		"subject_id", subjectID, "material", material, "type", typ)
	return ev, nil
}

func (e *Engine) record(ctx context.Context, d model.Decision, start time.Time) {
	dominant := "none"
	if len(d.Sources) > 0 {
		dominant = string(d.Sources[0])
	}
	e.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", dominant)))
	e.decideDuration.Record(ctx, time.Since(start).Seconds())
}
