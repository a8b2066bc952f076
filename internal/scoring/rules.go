package scoring

import (
	"time"

	"driftwatch/internal/types"
)

// RulesStrategy is the drop-in additive alternative to the ensemble. Each
// rule contributes a fixed weight when its condition fires; weights follow
// the distraction labeler the original model was trained against.
type RulesStrategy struct{}

func (s *RulesStrategy) Name() string { return "rules" }

type rule struct {
	weight float64
	fires  func(rec types.FeatureRecord) bool
}

var additiveRules = []rule{
	{0.30, func(r types.FeatureRecord) bool { return r.TimeSpent > 10*time.Minute }},
	{0.20, func(r types.FeatureRecord) bool { return r.ScrollCount > 50 }},
	{0.15, func(r types.FeatureRecord) bool { return r.ScrollDepth > 0.8 }},
	{0.10, func(r types.FeatureRecord) bool { return r.ClickCount < 2 }},
	{0.15, func(r types.FeatureRecord) bool { return r.TabSwitchCount > 5 }},
	{0.10, func(r types.FeatureRecord) bool { return r.VideoWatchTime > 5*time.Minute }},
}

func (s *RulesStrategy) Score(rec types.FeatureRecord, domain string) types.ScoreResult {
	sum := 0.0
	fired := 0
	for _, r := range additiveRules {
		if r.fires(rec) {
			sum += r.weight
			fired++
		}
	}

	// Confidence reflects how many independent rules agreed either way:
	// all-fired and none-fired are both decisive, an even split is not.
	agreement := float64(fired) / float64(len(additiveRules))
	if agreement < 0.5 {
		agreement = 1 - agreement
	}

	return types.ScoreResult{
		Probability: adjustForDomain(sum, domain),
		Confidence:  clamp01(agreement),
	}
}
