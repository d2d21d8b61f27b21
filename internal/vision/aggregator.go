// Package vision aggregates per-region oracle replies into a single
// classification by weighted majority vote.
//
// The oracle itself is a black box behind the Oracle interface; this package
// owns the region set, the fan-out, and the vote. A region call that fails,
// times out, or comes back with throwaway confidence is discarded rather
// than retried: the remaining regions carry the vote, and if none survive
// the aggregate is the configured fallback at low confidence.
package vision

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/telemetry"
	"github.com/roadsight/holderd/internal/vote"
)

// discardThreshold is the reply confidence at or below which a region's
// answer is treated as a non-answer.
const discardThreshold = 0.3

// fallbackConfidence is attached to the fallback pair when no region
// produces a usable reply.
const fallbackConfidence = 0.3

// Reply is one region's parsed oracle answer.
type Reply struct {
	Material   string
	Type       string
	Confidence float64
	Rationale  string
}

// Oracle answers a classification question about one image crop.
type Oracle interface {
	Analyze(ctx context.Context, image []byte, instruction string) (Reply, error)
}

// Photo supplies the image bytes for each named region of one photograph.
type Photo interface {
	Region(ctx context.Context, name string) ([]byte, error)
}

// PhotoSource resolves a subject id to its photograph, if one exists.
type PhotoSource interface {
	Photo(ctx context.Context, subjectID string) (Photo, error)
}

// Aggregator fans a photograph's regions out to the oracle and combines the
// survivors into one observation.
type Aggregator struct {
	oracle      Oracle
	fallback    model.ClassPair
	callTimeout time.Duration
	logger      *slog.Logger

	regionLatency metric.Float64Histogram
}

// NewAggregator creates an Aggregator. callTimeout bounds each region call
// independently.
func NewAggregator(oracle Oracle, fallback model.ClassPair, callTimeout time.Duration, logger *slog.Logger) *Aggregator {
	meter := telemetry.Meter("holderd/vision")
	regionLatency, _ := meter.Float64Histogram("vision.region.duration",
		metric.WithDescription("Latency of one oracle region call in seconds"),
		metric.WithUnit("s"))

	return &Aggregator{
		oracle:        oracle,
		fallback:      fallback,
		callTimeout:   callTimeout,
		logger:        logger,
		regionLatency: regionLatency,
	}
}

// Analyze runs every region concurrently, waits for all of them, and votes
// over the survivors. It always produces an observation; total failure
// degrades to the fallback pair at low confidence.
func (a *Aggregator) Analyze(ctx context.Context, subjectID string, photo Photo) model.Observation {
	replies := make([]*Reply, len(Regions))

	g, gctx := errgroup.WithContext(ctx)
	for i, region := range Regions {
		g.Go(func() error {
			reply, err := a.analyzeRegion(gctx, subjectID, photo, region)
			if err != nil {
				a.logger.Warn("vision: region discarded",
					"subject_id", subjectID, "region", region.Name, "error", err)
				return nil
			}
			replies[i] = &reply
			return nil
		})
	}
	// Region errors are swallowed above; Wait is purely the barrier.
	_ = g.Wait()

	var obs []model.Observation
	for _, r := range replies {
		if r == nil || r.Confidence <= discardThreshold {
			continue
		}
		obs = append(obs, model.Observation{
			Material:   r.Material,
			Type:       r.Type,
			Confidence: r.Confidence,
			Source:     model.SourceVision,
			// Within the region vote a reply's confidence is also its weight.
			Weight: r.Confidence,
		})
	}

	result, ok := vote.Weighted(obs)
	if !ok {
		a.logger.Warn("vision: no usable region replies", "subject_id", subjectID)
		return model.Observation{
			Material:   a.fallback.Material,
			Type:       a.fallback.Type,
			Confidence: fallbackConfidence,
			Source:     model.SourceVision,
		}
	}

	a.logger.Debug("vision: consensus",
		"subject_id", subjectID, "material", result.Material, "type", result.Type,
		"confidence", result.Confidence, "regions_used", len(obs))

	return model.Observation{
		Material:   result.Material,
		Type:       result.Type,
		Confidence: result.Confidence,
		Source:     model.SourceVision,
	}
}

func (a *Aggregator) analyzeRegion(ctx context.Context, subjectID string, photo Photo, region Region) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	image, err := photo.Region(ctx, region.Name)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	reply, err := a.oracle.Analyze(ctx, image, region.Instruction)
	a.regionLatency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("region", region.Name)))
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}
