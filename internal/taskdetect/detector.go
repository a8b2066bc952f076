package taskdetect

import (
	"fmt"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Config holds the detector's tunables. The detection bar and weak-signal
// floor are configuration, not load-bearing constants: the cascade only
// relies on "higher confidence wins".
type Config struct {
	MinEvents        int           // minimum events overall and inside the window
	Window           time.Duration // trailing window considered "recent"
	DetectionBar     float64       // stage confidence that stops the cascade
	WeakSignalFloor  float64       // minimum confidence to report at all
	ContentScale     float64       // sparse-content compensation multiplier
	InteractionScale float64       // sparse-click compensation multiplier
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		MinEvents:        5,
		Window:           5 * time.Minute,
		DetectionBar:     0.7,
		WeakSignalFloor:  0.4,
		ContentScale:     3,
		InteractionScale: 2,
	}
}

// Detector fuses four independent signal extractors into a best-guess task
// label. Detect is deterministic: identical input yields identical output.
type Detector struct {
	cfg        Config
	signatures SignatureSet
}

// New creates a detector with the built-in signatures
func New(cfg Config) *Detector {
	if cfg.MinEvents <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg, signatures: defaultSignatures()}
}

// SetSignatures replaces the signature set (used after LoadSignatures)
func (d *Detector) SetSignatures(set SignatureSet) {
	d.signatures = set
}

// Detect returns the best task guess for the recent event window. Too few
// events is a defined result (unknown / confidence 0 / insufficient_data),
// never an error.
func (d *Detector) Detect(events []types.Event) types.TaskDetectionResult {
	// Idle events carry no task signal; keeping them would let an idle
	// machine pad the minimum-event thresholds
	signal := make([]types.Event, 0, len(events))
	for _, e := range events {
		if e.Type != types.EventIdle {
			signal = append(signal, e)
		}
	}
	events = signal

	if len(events) < d.cfg.MinEvents {
		return types.Unknown()
	}

	// The trailing window is anchored on the newest event, not wall clock,
	// so re-running detection on an unchanged set gives the same answer.
	latest := events[0].Timestamp
	for _, e := range events {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	cutoff := latest.Add(-d.cfg.Window)
	recent := make([]types.Event, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	if len(recent) < d.cfg.MinEvents {
		return types.Unknown()
	}

	obs := observe(recent)

	stages := []func(observation) types.TaskDetectionResult{
		d.detectByDomainRules,
		d.detectByURLPatterns,
		d.detectByContent,
		d.detectByInteraction,
	}

	best := types.TaskDetectionResult{TaskType: types.TaskUnknown}
	for _, stage := range stages {
		result := stage(obs)
		if result.Confidence > best.Confidence {
			best = result
		}
		if best.Confidence >= d.cfg.DetectionBar {
			break
		}
	}

	if best.Confidence < d.cfg.WeakSignalFloor {
		return types.Unknown()
	}

	logging.Debug("taskdetect", "detected %s (%.2f via %s) from %d recent events",
		best.TaskType, best.Confidence, best.DetectionMethod, len(recent))
	return best
}

// observation is the pre-digested view of the recent window shared by all
// four extractors
type observation struct {
	urls       []string // lowercased URLs of URL-bearing events
	domains    map[string]int
	contents   []string // lowercased sampled page text
	clickTexts []string // lowercased click-target text
	total      int
}

func observe(events []types.Event) observation {
	obs := observation{domains: make(map[string]int), total: len(events)}
	for _, e := range events {
		if e.URL != "" {
			obs.urls = append(obs.urls, lower(e.URL))
		}
		if d := domainOf(e); d != "" {
			obs.domains[d]++
		}
		switch e.Type {
		case types.EventContentLoad:
			if text, ok := e.Payload[types.PayloadText].(string); ok && text != "" {
				obs.contents = append(obs.contents, lower(text))
			}
		case types.EventClick:
			if text, ok := e.Payload[types.PayloadTargetText].(string); ok && text != "" {
				obs.clickTexts = append(obs.clickTexts, lower(text))
			}
		}
	}
	return obs
}

// detectByDomainRules scores each hand-authored per-domain signature:
// presence bonus + weighted URL/content/click match ratios. A rule that
// clears the weak-signal floor but not the bar is still reported rather
// than falling through empty-handed.
func (d *Detector) detectByDomainRules(obs observation) types.TaskDetectionResult {
	best := types.TaskDetectionResult{TaskType: types.TaskUnknown, DetectionMethod: types.MethodDomainRules}

	for _, rule := range d.signatures.DomainRules {
		hits := obs.domains[rule.Domain]
		if hits == 0 {
			continue
		}

		urlRatio := matchRatio(obs.urls, rule.URLPatterns)
		contentRatio := keywordPairRatio(obs.contents, rule.ContentKeywords, 1)
		clickRatio := keywordPairRatio(obs.clickTexts, rule.ClickKeywords, 1)

		confidence := clamp01(rule.PresenceBonus +
			urlRatio*rule.URLWeight +
			contentRatio*rule.ContentWeight +
			clickRatio*rule.ClickWeight)

		if confidence <= best.Confidence {
			continue
		}
		best = types.TaskDetectionResult{
			TaskType:        rule.Task,
			Confidence:      confidence,
			DetectionMethod: types.MethodDomainRules,
			Evidence: []string{
				fmt.Sprintf("domain %s seen in %d events", rule.Domain, hits),
				fmt.Sprintf("url match %.2f, content match %.2f, click match %.2f", urlRatio, contentRatio, clickRatio),
			},
		}
	}
	return best
}

// detectByURLPatterns picks the task whose path substrings match the highest
// share of URL-bearing events
func (d *Detector) detectByURLPatterns(obs observation) types.TaskDetectionResult {
	best := types.TaskDetectionResult{TaskType: types.TaskUnknown, DetectionMethod: types.MethodURLPatterns}
	if len(obs.urls) == 0 {
		return best
	}

	for _, sig := range d.signatures.Tasks {
		ratio := matchRatio(obs.urls, sig.URLPatterns)
		if ratio <= best.Confidence {
			continue
		}
		best = types.TaskDetectionResult{
			TaskType:        sig.Task,
			Confidence:      ratio,
			DetectionMethod: types.MethodURLPatterns,
			Evidence: []string{
				fmt.Sprintf("%.0f%% of %d urls matched %s patterns", ratio*100, len(obs.urls), sig.Task),
			},
		}
	}
	return best
}

// detectByContent scans sampled page text for per-task keywords. Content
// events are sparse relative to keywords, so the pair ratio is scaled up
// and clamped.
func (d *Detector) detectByContent(obs observation) types.TaskDetectionResult {
	best := types.TaskDetectionResult{TaskType: types.TaskUnknown, DetectionMethod: types.MethodPageContent}
	if len(obs.contents) == 0 {
		return best
	}

	// Tokenize once per content sample; single-word keywords match on token
	// boundaries, phrases match on the raw text
	tokenSets := make([]map[string]bool, len(obs.contents))
	for i, text := range obs.contents {
		tokenSets[i] = tokenize(text)
	}

	for _, sig := range d.signatures.Tasks {
		matched, checked := 0, 0
		for i, tokens := range tokenSets {
			for _, kw := range sig.ContentKeywords {
				checked++
				if containsKeyword(tokens, obs.contents[i], kw) {
					matched++
				}
			}
		}
		if checked == 0 {
			continue
		}
		confidence := clamp01(float64(matched) / float64(checked) * d.cfg.ContentScale)
		if confidence <= best.Confidence {
			continue
		}
		best = types.TaskDetectionResult{
			TaskType:        sig.Task,
			Confidence:      confidence,
			DetectionMethod: types.MethodPageContent,
			Evidence: []string{
				fmt.Sprintf("%d/%d keyword-content pairs matched for %s", matched, checked, sig.Task),
			},
		}
	}
	return best
}

// detectByInteraction matches click-target text against per-task action
// keywords, scaled for sparsity like the content stage
func (d *Detector) detectByInteraction(obs observation) types.TaskDetectionResult {
	best := types.TaskDetectionResult{TaskType: types.TaskUnknown, DetectionMethod: types.MethodInteraction}
	if len(obs.clickTexts) == 0 {
		return best
	}

	for _, sig := range d.signatures.Tasks {
		confidence := clamp01(keywordPairRatio(obs.clickTexts, sig.ActionKeywords, d.cfg.InteractionScale))
		if confidence <= best.Confidence {
			continue
		}
		best = types.TaskDetectionResult{
			TaskType:        sig.Task,
			Confidence:      confidence,
			DetectionMethod: types.MethodInteraction,
			Evidence: []string{
				fmt.Sprintf("click targets matched %s actions (%.2f)", sig.Task, confidence),
			},
		}
	}
	return best
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
