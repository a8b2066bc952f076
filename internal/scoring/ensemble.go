package scoring

import (
	"math"
	"time"

	"driftwatch/internal/types"
)

// EnsembleStrategy averages five independent single-feature step predictors.
// Probability is the arithmetic mean; confidence is 1 - sqrt(variance), so
// predictors that agree produce high confidence. Deliberately interpretable
// and cheap enough to run per-domain every few seconds.
type EnsembleStrategy struct{}

func (s *EnsembleStrategy) Name() string { return "ensemble" }

func (s *EnsembleStrategy) Score(rec types.FeatureRecord, domain string) types.ScoreResult {
	outputs := []float64{
		timeSpentStep(rec.TimeSpent),
		scrollCountStep(rec.ScrollCount),
		scrollClickStep(rec.ScrollCount, rec.ClickCount),
		domainStep(domain),
		videoWatchStep(rec.VideoWatchTime),
	}

	mean := 0.0
	for _, v := range outputs {
		mean += v
	}
	mean /= float64(len(outputs))

	variance := 0.0
	for _, v := range outputs {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(outputs))

	return types.ScoreResult{
		Probability: adjustForDomain(mean, domain),
		Confidence:  clamp01(1 - math.Sqrt(variance)),
	}
}

// Each predictor is a monotone step function over one feature.

func timeSpentStep(spent time.Duration) float64 {
	switch m := spent.Minutes(); {
	case m < 5:
		return 0.1
	case m < 10:
		return 0.3
	case m < 20:
		return 0.6
	default:
		return 0.9
	}
}

func scrollCountStep(count int) float64 {
	switch {
	case count < 20:
		return 0.1
	case count < 50:
		return 0.4
	case count < 100:
		return 0.7
	default:
		return 0.9
	}
}

func scrollClickStep(scrolls, clicks int) float64 {
	ratio := float64(scrolls) / float64(clicks+1)
	switch {
	case ratio < 5:
		return 0.1
	case ratio < 20:
		return 0.4
	case ratio < 60:
		return 0.7
	default:
		return 0.9
	}
}

func domainStep(domain string) float64 {
	if IsDistractionDomain(domain) {
		return 0.9
	}
	return 0.2
}

func videoWatchStep(watched time.Duration) float64 {
	switch m := watched.Minutes(); {
	case m <= 0:
		return 0.1
	case m < 2:
		return 0.3
	case m < 10:
		return 0.6
	default:
		return 0.9
	}
}
