package engine

import (
	"testing"
	"time"

	"driftwatch/internal/buffer"
	"driftwatch/internal/effectors"
	"driftwatch/internal/nudge"
	"driftwatch/internal/scoring"
	"driftwatch/internal/session"
	"driftwatch/internal/store"
	"driftwatch/internal/taskdetect"
	"driftwatch/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *effectors.TestSink, *session.Machine) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sink := effectors.NewTestSink()
	sess := session.New(session.DefaultConfig(), st, nil)

	policyData, err := nudge.LoadPolicyData(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to load policy data: %v", err)
	}
	policy := nudge.New(policyData, sess, 0.7)

	eng, err := New(DefaultConfig(), buffer.New(0), st, scoring.New(""),
		taskdetect.New(taskdetect.DefaultConfig()), sess, policy,
		[]effectors.Sink{sink})
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	return eng, sink, sess
}

func tabEvent(typ types.EventType, age time.Duration, url, tabID string) types.Event {
	return types.Event{
		Type:      typ,
		Timestamp: time.Now().Add(-age),
		URL:       url,
		TabID:     tabID,
		SessionID: "s1",
	}
}

func TestIngestDropsMalformedEvents(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	accepted := eng.Ingest([]types.Event{
		tabEvent(types.EventScroll, 0, "https://example.com", "tab-1"),
		{Type: types.EventScroll},                   // no tab
		{TabID: "tab-2", URL: "https://example.com"}, // no type
	})
	if accepted != 1 {
		t.Errorf("Expected 1 accepted event, got %d", accepted)
	}
	if eng.QueueLen() != 1 {
		t.Errorf("Expected 1 queued event, got %d", eng.QueueLen())
	}
}

func TestFlushPersistsAndNudgesDistractionDuringTaskMode(t *testing.T) {
	eng, sink, sess := newTestEngine(t)
	sess.Enable("writing", false, 0)

	for i := 0; i < 6; i++ {
		eng.Ingest([]types.Event{
			tabEvent(types.EventScroll, time.Duration(i)*30*time.Second, "https://www.youtube.com/feed", "tab-1"),
		})
	}
	eng.Flush()

	if eng.QueueLen() != 0 {
		t.Errorf("Expected queue drained, got %d", eng.QueueLen())
	}
	if sink.NudgeCount() != 1 {
		t.Fatalf("Expected one reminder for a distraction domain, got %d", sink.NudgeCount())
	}
	if sink.Nudges[0].Kind != types.NudgeReminder {
		t.Errorf("Expected reminder kind, got %s", sink.Nudges[0].Kind)
	}
	if got := sess.Stats().DistractionCount; got != 1 {
		t.Errorf("Expected the distraction counted once, got %d", got)
	}
	if scores := eng.DomainScores(); scores["youtube.com"].Probability <= 0 {
		t.Errorf("Expected a persisted per-domain rollup for youtube.com, got %v", scores)
	}

	// A second flush with no new events: the same tab is debounced, no
	// second nudge
	eng.Flush()
	if sink.NudgeCount() != 1 {
		t.Errorf("Expected the repeat suppressed, got %d nudges", sink.NudgeCount())
	}
}

func TestDetectNowAnnouncesConfidentTask(t *testing.T) {
	eng, sink, _ := newTestEngine(t)

	batch := []types.Event{
		tabEvent(types.EventPageVisit, 4*time.Minute, "https://www.linkedin.com/jobs/search", "tab-1"),
		tabEvent(types.EventPageVisit, 3*time.Minute, "https://www.linkedin.com/jobs/view/1", "tab-1"),
		tabEvent(types.EventPageVisit, 2*time.Minute, "https://www.linkedin.com/jobs/view/2", "tab-1"),
		tabEvent(types.EventPageVisit, time.Minute, "https://www.linkedin.com/jobs/view/3", "tab-1"),
		tabEvent(types.EventPageVisit, 0, "https://www.linkedin.com/jobs/collections", "tab-1"),
	}
	eng.Ingest(batch)
	eng.Flush()

	task := eng.CurrentTask()
	if task.TaskType != types.TaskJobSearch {
		t.Fatalf("Expected job_search detected, got %s via %s", task.TaskType, task.DetectionMethod)
	}
	if len(sink.Tasks) != 1 {
		t.Fatalf("Expected one task announcement, got %d", len(sink.Tasks))
	}

	// Re-detection of the same task stays quiet
	eng.DetectNow()
	if len(sink.Tasks) != 1 {
		t.Errorf("Expected no repeat announcement, got %d", len(sink.Tasks))
	}
}

func TestUpdatePreferencesPartialAndValidated(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	threshold := 0.5
	prefs, err := eng.UpdatePreferences(PreferencesPatch{DistractionThreshold: &threshold})
	if err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}
	if prefs.DistractionThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", prefs.DistractionThreshold)
	}
	if !prefs.TaskNudgesEnabled || len(prefs.EnabledNudgeKinds) != 3 {
		t.Error("Untouched fields must keep their values")
	}

	bad := 1.5
	if _, err := eng.UpdatePreferences(PreferencesPatch{DistractionThreshold: &bad}); err == nil {
		t.Error("Expected an out-of-range threshold to be rejected")
	}

	badWindow := []types.FocusWindow{{Start: "25:00", End: "17:00"}}
	if _, err := eng.UpdatePreferences(PreferencesPatch{FocusWindows: &badWindow}); err == nil {
		t.Error("Expected a malformed focus window to be rejected")
	}
}

func TestPreferencesSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	sess := session.New(session.DefaultConfig(), st, nil)
	policyData, _ := nudge.LoadPolicyData(dir)
	policy := nudge.New(policyData, sess, 0.7)
	build := func() *Engine {
		eng, err := New(DefaultConfig(), buffer.New(0), st, scoring.New(""),
			taskdetect.New(taskdetect.DefaultConfig()), sess, policy,
			[]effectors.Sink{effectors.NewTestSink()})
		if err != nil {
			t.Fatalf("Failed to build engine: %v", err)
		}
		return eng
	}

	eng := build()
	goal := 300
	if _, err := eng.UpdatePreferences(PreferencesPatch{DailyGoalMinutes: &goal}); err != nil {
		t.Fatal(err)
	}

	restarted := build()
	if got := restarted.Preferences().DailyGoalMinutes; got != 300 {
		t.Errorf("Expected persisted goal 300 after restart, got %d", got)
	}
	st.Close()
}
