package scoring

import (
	"driftwatch/internal/types"
)

// Strategy scores one feature record for a domain. Implementations must be
// pure: same record in, same result out.
type Strategy interface {
	Name() string
	Score(rec types.FeatureRecord, domain string) types.ScoreResult
}

// distractionDomains maps known time-sink domains to their post-hoc score
// bonus (0.1-0.3). Membership also drives the ensemble's domain predictor
// and the nudge policy's rule (1).
var distractionDomains = map[string]float64{
	"youtube.com":   0.3,
	"netflix.com":   0.3,
	"twitch.tv":     0.3,
	"tiktok.com":    0.3,
	"instagram.com": 0.3,
	"facebook.com":  0.25,
	"twitter.com":   0.25,
	"x.com":         0.25,
	"reddit.com":    0.25,
	"9gag.com":      0.2,
	"imgur.com":     0.2,
	"pinterest.com": 0.2,
	"tumblr.com":    0.2,
	"buzzfeed.com":  0.2,
}

// IsDistractionDomain reports membership in the fixed distraction list
func IsDistractionDomain(domain string) bool {
	_, ok := distractionDomains[domain]
	return ok
}

// DomainBonus returns the post-hoc adjustment for a domain (0 if unknown)
func DomainBonus(domain string) float64 {
	return distractionDomains[domain]
}

// adjustForDomain applies the domain bonus and clamps. A high base score
// must saturate at 1.0, never overflow.
func adjustForDomain(p float64, domain string) float64 {
	return clamp01(p + DomainBonus(domain))
}

// New returns the strategy selected by name: "rules" for the additive rule
// set, anything else (including "") for the threshold ensemble.
func New(name string) Strategy {
	if name == "rules" {
		return &RulesStrategy{}
	}
	return &EnsembleStrategy{}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
