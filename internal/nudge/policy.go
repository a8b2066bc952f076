package nudge

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/scoring"
	"driftwatch/internal/types"
)

// Recorder is the slice of the session machine the policy needs: confirming
// a distraction is the session's decision (debounce may suppress it).
type Recorder interface {
	RecordDistraction(tabID, domain string) bool
}

// Policy decides whether a scored window deserves a nudge, and which one.
// Stateless apart from its RNG; all session state comes in as a snapshot.
type Policy struct {
	data     PolicyData
	recorder Recorder
	bar      float64 // task-detection confidence needed for rule (3)
	rng      *rand.Rand
	now      func() time.Time
}

// New creates a policy. bar <= 0 uses 0.7.
func New(data PolicyData, recorder Recorder, bar float64) *Policy {
	if bar <= 0 {
		bar = 0.7
	}
	return &Policy{
		data:     data,
		recorder: recorder,
		bar:      bar,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Decide applies the nudge rules in priority order:
//  1. task mode + known-distraction domain off the allow-list: reminder,
//     always (bypasses scoring and the focus-window schedule), counted
//     through the session debounce
//  2. task mode + allow-listed domain: nothing
//  3. task detected confidently and task nudges enabled: task nudge
//  4. distraction probability over the user threshold: generic nudge,
//     uniformly random enabled category and message
//
// Rules 3 and 4 only apply inside a configured focus window (none
// configured = always). Returns nil for "no nudge".
func (p *Policy) Decide(score types.ScoreResult, task types.TaskDetectionResult,
	state types.SessionState, prefs types.Preferences, domain, tabID string) *types.Nudge {

	if state.FocusModeActive {
		allowed := p.allowListed(state.TaskType, domain)

		// Rule 1
		if scoring.IsDistractionDomain(domain) && !allowed {
			if !p.recorder.RecordDistraction(tabID, domain) {
				return nil // debounced: suppressed from counter and notification
			}
			return &types.Nudge{
				Kind:        types.NudgeReminder,
				Message:     p.pick(p.data.Generic[types.NudgeReminder]),
				Domain:      domain,
				Probability: score.Probability,
				CreatedAt:   p.now(),
			}
		}

		// Rule 2
		if allowed {
			return nil
		}
	}

	if !p.withinFocusWindows(prefs) {
		return nil
	}

	// Rule 3
	if prefs.TaskNudgesEnabled && task.Confidence >= p.bar {
		if pool := p.data.Task[task.TaskType]; len(pool) > 0 {
			return &types.Nudge{
				Kind:      types.NudgeTaskReminder,
				Message:   p.pick(pool),
				Domain:    domain,
				TaskType:  task.TaskType,
				CreatedAt: p.now(),
			}
		}
	}

	// Rule 4
	if score.Probability >= prefs.DistractionThreshold {
		kind, ok := p.pickKind(prefs.EnabledNudgeKinds)
		if !ok {
			return nil
		}
		pool := p.data.Generic[kind]
		if len(pool) == 0 {
			return nil
		}
		return &types.Nudge{
			Kind:        kind,
			Message:     p.pick(pool),
			Domain:      domain,
			Probability: score.Probability,
			CreatedAt:   p.now(),
		}
	}

	return nil
}

func (p *Policy) allowListed(taskType, domain string) bool {
	for _, d := range p.data.AllowLists[taskType] {
		if d == domain || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func (p *Policy) pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[p.rng.Intn(len(pool))]
}

func (p *Policy) pickKind(kinds []types.NudgeKind) (types.NudgeKind, bool) {
	if len(kinds) == 0 {
		return "", false
	}
	return kinds[p.rng.Intn(len(kinds))], true
}

// withinFocusWindows checks the time-of-day schedule. No configured windows
// means nudging is always allowed.
func (p *Policy) withinFocusWindows(prefs types.Preferences) bool {
	if len(prefs.FocusWindows) == 0 {
		return true
	}
	now := p.now()
	minutes := now.Hour()*60 + now.Minute()
	for _, w := range prefs.FocusWindows {
		start, ok1 := parseHHMM(w.Start)
		end, ok2 := parseHHMM(w.End)
		if !ok1 || !ok2 {
			logging.Warn("nudge", "ignoring malformed focus window %q-%q", w.Start, w.End)
			continue
		}
		if start <= end {
			if minutes >= start && minutes < end {
				return true
			}
		} else { // wraps midnight
			if minutes >= start || minutes < end {
				return true
			}
		}
	}
	return false
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
