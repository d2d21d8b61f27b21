package engine

import (
	"strconv"

	"github.com/roadsight/holderd/internal/model"
)

// Rule heuristics keyed on the numeric structure of subject ids. Municipal
// inventories tend to number infrastructure in blocks, so round ids skew
// toward lighting and signal poles. These are weak signals and carry the
// lowest vote weight; they exist so a subject with no photograph and no
// history still gets a reasoned guess instead of a coin flip.
const (
	ruleSignalConfidence   = 0.65
	ruleDoubleConfidence   = 0.60
	ruleLightingConfidence = 0.55
	ruleHighRangeConf      = 0.50
	ruleDefaultConfidence  = 0.50

	highRangeStart = 1000
)

// ruleObservation derives the heuristic observation for a subject. Ids that
// are not decimal integers have no rule signal.
func (e *Engine) ruleObservation(subjectID string) (model.Observation, bool) {
	n, err := strconv.ParseInt(subjectID, 10, 64)
	if err != nil {
		return model.Observation{}, false
	}

	o := model.Observation{
		Source: model.SourceRule,
		Weight: e.cfg.Weights.Rule,
	}

	switch {
	case n%100 == 0:
		o.Material = "kov"
		o.Type = "stĺp svetelného signalizačného zariadenia"
		o.Confidence = ruleSignalConfidence
	case n%20 == 0:
		o.Material = "kov"
		o.Type = "stĺp značky dvojitý"
		o.Confidence = ruleDoubleConfidence
	case n%10 == 0:
		o.Material = "kov"
		o.Type = "stĺp verejného osvetlenia"
		o.Confidence = ruleLightingConfidence
	case n > highRangeStart:
		o.Material = "betón"
		o.Type = e.cfg.Fallback.Type
		o.Confidence = ruleHighRangeConf
	default:
		o.Material = e.cfg.Fallback.Material
		o.Type = e.cfg.Fallback.Type
		o.Confidence = ruleDefaultConfidence
	}

	return o, true
}
