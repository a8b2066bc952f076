package features

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

const (
	// MinEventCount below which a partition gets a basic zeroed record
	MinEventCount = 5
	// ActiveGap is the largest gap between consecutive non-idle events that
	// still counts as continuous active time
	ActiveGap = 30 * time.Second
	// MinVisibilitySignals needed before focus ratio is computed rather than
	// defaulted to 1
	MinVisibilitySignals = 2
)

// Engagement weights per event type. Normalized by event count and clipped,
// so the maximum weight bounds the score at 1.
var engagementWeights = map[types.EventType]float64{
	types.EventClick:       1.0,
	types.EventKeyPress:    0.8,
	types.EventScroll:      0.3,
	types.EventContentLoad: 0.5,
	types.EventVideoPlay:   0.7,
}

// Extract converts a batch of events into one FeatureRecord per domain seen
// in the window. Malformed events (no timestamp, no resolvable domain) are
// dropped individually; they never fail the batch. Domain-less idle events
// are host-wide: their duration folds into every partition's idle time
// rather than being dropped.
func Extract(events []types.Event, windowStart, windowEnd time.Time) []types.FeatureRecord {
	partitions := make(map[string][]types.Event)
	var hostIdle time.Duration
	dropped := 0
	for _, e := range events {
		if e.Timestamp.IsZero() {
			dropped++
			continue
		}
		domain := DomainOf(e)
		if domain == "" {
			if e.Type == types.EventIdle {
				if secs, ok := payloadFloat(e, types.PayloadIdleSeconds); ok && secs > 0 {
					hostIdle += time.Duration(secs * float64(time.Second))
				}
				continue
			}
			dropped++
			continue
		}
		partitions[domain] = append(partitions[domain], e)
	}
	if dropped > 0 {
		logging.Debug("features", "dropped %d malformed events from window", dropped)
	}

	records := make([]types.FeatureRecord, 0, len(partitions))
	for domain, part := range partitions {
		records = append(records, extractDomain(domain, part, hostIdle, windowStart, windowEnd))
	}

	// Deterministic output order for callers and tests
	sort.Slice(records, func(i, j int) bool { return records[i].Domain < records[j].Domain })
	return records
}

// DomainOf resolves an event's domain: the source-declared domain wins, then
// the URL host with any www. prefix stripped. Empty means unresolvable.
func DomainOf(e types.Event) string {
	if e.Domain != "" {
		return normalizeDomain(e.Domain)
	}
	if e.URL == "" {
		return ""
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return normalizeDomain(u.Hostname())
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "www.")
}

func extractDomain(domain string, events []types.Event, hostIdle time.Duration, windowStart, windowEnd time.Time) types.FeatureRecord {
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	rec := types.FeatureRecord{
		Domain:      domain,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		EventCount:  len(events),
	}

	for _, e := range events {
		switch e.Type {
		case types.EventScroll:
			rec.ScrollCount++
			if d, ok := payloadFloat(e, types.PayloadScrollDepth); ok && d > rec.ScrollDepth {
				rec.ScrollDepth = clamp01(d)
			}
		case types.EventClick:
			rec.ClickCount++
		case types.EventKeyPress:
			rec.KeyPressCount++
		case types.EventTabSwitch:
			rec.TabSwitchCount++
		case types.EventVideoPlay, types.EventVideoPause:
			rec.HasVideo = true
		case types.EventVideoProgress:
			rec.HasVideo = true
			if secs, ok := payloadFloat(e, types.PayloadWatchedSecs); ok && secs > 0 {
				rec.VideoWatchTime += time.Duration(secs * float64(time.Second))
			}
		case types.EventIdle:
			if secs, ok := payloadFloat(e, types.PayloadIdleSeconds); ok && secs > 0 {
				rec.IdleTime += time.Duration(secs * float64(time.Second))
			}
		}
	}

	rec.IdleTime += hostIdle
	rec.TimeSpent = events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	rec.ContentType = contentType(rec)

	// Too few events: counts only, derived fields stay zeroed
	if len(events) < MinEventCount {
		rec.Basic = true
		return rec
	}

	rec.ActiveTime = activeTime(events)

	// Invariant: active + idle never exceeds the window
	window := windowEnd.Sub(windowStart)
	if window > 0 && rec.ActiveTime+rec.IdleTime > window {
		rec.IdleTime = window - rec.ActiveTime
		if rec.IdleTime < 0 {
			rec.IdleTime = 0
			rec.ActiveTime = window
		}
	}

	rec.Engagement = engagement(events)
	rec.FocusRatio = focusRatio(events, windowEnd)
	return rec
}

// activeTime sums gaps below ActiveGap between consecutive non-idle events
func activeTime(events []types.Event) time.Duration {
	var active time.Duration
	var prev time.Time
	for _, e := range events {
		if e.Type == types.EventIdle {
			continue
		}
		if !prev.IsZero() {
			gap := e.Timestamp.Sub(prev)
			if gap > 0 && gap < ActiveGap {
				active += gap
			}
		}
		prev = e.Timestamp
	}
	return active
}

// engagement is the weighted interaction sum normalized by event count
func engagement(events []types.Event) float64 {
	sum := 0.0
	for _, e := range events {
		sum += engagementWeights[e.Type]
	}
	return clamp01(sum / float64(len(events)))
}

// focusRatio estimates the foreground share of the window from visibility
// events. With fewer than MinVisibilitySignals signals it defaults to 1.
func focusRatio(events []types.Event, windowEnd time.Time) float64 {
	type signal struct {
		at      time.Time
		visible bool
	}
	var signals []signal
	for _, e := range events {
		if e.Type != types.EventVisibility {
			continue
		}
		v, ok := payloadBool(e, types.PayloadVisible)
		if !ok {
			continue
		}
		signals = append(signals, signal{at: e.Timestamp, visible: v})
	}
	if len(signals) < MinVisibilitySignals {
		return 1
	}

	var visible, total time.Duration
	for i := 0; i < len(signals); i++ {
		until := windowEnd
		if i+1 < len(signals) {
			until = signals[i+1].at
		}
		span := until.Sub(signals[i].at)
		if span <= 0 {
			continue
		}
		total += span
		if signals[i].visible {
			visible += span
		}
	}
	if total <= 0 {
		return 1
	}
	return clamp01(float64(visible) / float64(total))
}

func contentType(rec types.FeatureRecord) string {
	switch {
	case rec.HasVideo && rec.KeyPressCount == 0:
		return "video"
	case rec.HasVideo:
		return "mixed"
	default:
		return "text"
	}
}

func payloadFloat(e types.Event, key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func payloadBool(e types.Event, key string) (bool, bool) {
	if e.Payload == nil {
		return false, false
	}
	v, ok := e.Payload[key].(bool)
	return v, ok
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
