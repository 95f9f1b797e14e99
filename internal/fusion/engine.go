package fusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/veridex/veridex-backend/internal/detectors"
	"github.com/veridex/veridex-backend/pkg/config"
	"github.com/veridex/veridex-backend/pkg/enums"
)

// ErrAllDetectorsFailed means no adapter produced a usable outcome, so no
// verdict can be fused.
var ErrAllDetectorsFailed = errors.New("all detectors failed")

// Result is the fused ensemble verdict. Score is the weighted probability of
// manipulation; Confidence is the weighted certainty of the voters.
type Result struct {
	Label         enums.VerdictLabel
	Score         float64
	Confidence    float64
	Threshold     float64
	Techniques    map[string]float64
	Weights       map[string]float64
	DetectorCount int
	FailedCount   int
}

// Engine fuses per-detector outcomes with certainty-scaled reliability
// priors. Priors, the certainty floor, and the decision threshold come from
// configuration.
type Engine struct {
	priors    map[string]float64
	floor     float64
	threshold float64
}

// NewEngine validates the fusion configuration.
func NewEngine(cfg config.FusionConfig) (*Engine, error) {
	if cfg.DecisionThreshold <= 0 || cfg.DecisionThreshold >= 1 {
		return nil, fmt.Errorf("decision threshold must be in (0,1), got %f", cfg.DecisionThreshold)
	}
	if cfg.CertaintyFloor < 0 {
		return nil, fmt.Errorf("certainty floor must be non-negative, got %f", cfg.CertaintyFloor)
	}
	for name, prior := range cfg.Priors() {
		if prior < 0 {
			return nil, fmt.Errorf("prior for %s must be non-negative, got %f", name, prior)
		}
	}
	return &Engine{
		priors:    cfg.Priors(),
		floor:     cfg.CertaintyFloor,
		threshold: cfg.DecisionThreshold,
	}, nil
}

// Certainty is how far a score sits from the decision boundary, scaled to
// [0,1].
func Certainty(score float64) float64 {
	return math.Abs(score-0.5) * 2
}

// Fuse combines the outcome set into one verdict. Failed outcomes never vote
// but still count toward the audit totals; indeterminate outcomes are dropped
// before weight normalization.
func (e *Engine) Fuse(outcomes []detectors.Outcome) (*Result, error) {
	result := &Result{
		Threshold:     e.threshold,
		Techniques:    map[string]float64{},
		Weights:       map[string]float64{},
		DetectorCount: len(outcomes),
	}

	var voters []detectors.Outcome
	for _, outcome := range outcomes {
		if outcome.Failed {
			result.FailedCount++
			continue
		}
		for technique, score := range outcome.Techniques {
			if score > result.Techniques[technique] {
				result.Techniques[technique] = score
			}
		}
		if outcome.Label == enums.VerdictIndeterminate {
			continue
		}
		voters = append(voters, outcome)
	}

	if result.FailedCount == len(outcomes) {
		return nil, ErrAllDetectorsFailed
	}
	if len(voters) == 0 {
		// Every survivor abstained; there is no evidence either way.
		result.Label = enums.VerdictIndeterminate
		result.Score = 0.5
		return result, nil
	}

	weights := e.weigh(voters)
	for i, voter := range voters {
		result.Weights[voter.Detector.String()] = weights[i]
		result.Score += weights[i] * voter.Score
		result.Confidence += weights[i] * Certainty(voter.Score)
	}

	if result.Score > e.threshold {
		result.Label = enums.VerdictManipulated
	} else {
		// A score exactly at the threshold stays authentic.
		result.Label = enums.VerdictAuthentic
	}
	return result, nil
}

// weigh computes normalized voting weights, prior times floored certainty.
func (e *Engine) weigh(voters []detectors.Outcome) []float64 {
	weights := make([]float64, len(voters))
	var total float64
	for i, voter := range voters {
		weights[i] = e.prior(voter, len(voters)) * (e.floor + Certainty(voter.Score))
		total += weights[i]
	}
	if total == 0 {
		// Degenerate case, fall back to the priors alone.
		for i, voter := range voters {
			weights[i] = e.prior(voter, len(voters))
			total += weights[i]
		}
	}
	if total == 0 {
		// No usable priors either; vote uniformly.
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func (e *Engine) prior(voter detectors.Outcome, voterCount int) float64 {
	if prior, ok := e.priors[voter.Detector.String()]; ok {
		return prior
	}
	return 1 / float64(voterCount)
}
