// Package vote implements the weighted per-axis majority vote shared by the
// ensemble engine and the multi-region vision aggregator.
package vote

import "github.com/roadsight/holderd/internal/model"

// Result is the outcome of one weighted vote.
type Result struct {
	Material string
	Type     string
	// Confidence is the mean of the two per-axis confidences.
	Confidence float64
}

// Weighted combines observations into a single classification. Each
// observation contributes confidence×weight to its candidate value on each
// axis independently; the winning value takes the highest accumulated score,
// and the axis confidence is the winner's share of all accumulated score on
// that axis. Ties go to the candidate backed by the heaviest single
// observation.
//
// A single observation is returned unchanged rather than voted on, so a lone
// low-confidence signal cannot launder itself into certainty. Zero
// observations return ok=false.
func Weighted(obs []model.Observation) (Result, bool) {
	switch len(obs) {
	case 0:
		return Result{}, false
	case 1:
		return Result{
			Material:   obs[0].Material,
			Type:       obs[0].Type,
			Confidence: obs[0].Confidence,
		}, true
	}

	material, materialConf := tallyAxis(obs, func(o model.Observation) string { return o.Material })
	typ, typeConf := tallyAxis(obs, func(o model.Observation) string { return o.Type })

	return Result{
		Material:   material,
		Type:       typ,
		Confidence: (materialConf + typeConf) / 2,
	}, true
}

func tallyAxis(obs []model.Observation, value func(model.Observation) string) (string, float64) {
	scores := make(map[string]float64, len(obs))
	heaviest := make(map[string]float64, len(obs))
	var total float64

	for _, o := range obs {
		v := value(o)
		if v == "" {
			continue
		}
		score := o.Confidence * o.Weight
		scores[v] += score
		total += score
		if o.Weight > heaviest[v] {
			heaviest[v] = o.Weight
		}
	}

	var winner string
	var best float64
	for v, s := range scores {
		switch {
		case winner == "" || s > best:
			winner, best = v, s
		case s == best && heaviest[v] > heaviest[winner]:
			winner = v
		}
	}

	if total == 0 {
		return winner, 0
	}
	return winner, best / total
}
