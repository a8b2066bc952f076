package store

import (
	"testing"
	"time"

	"driftwatch/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)

	prefs := types.DefaultPreferences()
	prefs.DistractionThreshold = 0.55
	if err := s.Set(KeyUserPreferences, prefs); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got types.Preferences
	found, err := s.Get(KeyUserPreferences, &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected the key to exist")
	}
	if got.DistractionThreshold != 0.55 {
		t.Errorf("Expected threshold 0.55, got %v", got.DistractionThreshold)
	}
}

func TestKVMissingKey(t *testing.T) {
	s := openTestStore(t)

	var v map[string]any
	found, err := s.Get("never-written", &v)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected found=false for an absent key")
	}
}

func TestKVOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("k", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", 2); err != nil {
		t.Fatal(err)
	}

	var got int
	if _, err := s.Get("k", &got); err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("Expected overwritten value 2, got %d", got)
	}
}

func eventAt(ts time.Time, seq int64) types.Event {
	return types.Event{
		Type:       types.EventScroll,
		Timestamp:  ts,
		URL:        "https://example.com",
		Domain:     "example.com",
		TabID:      "tab-1",
		SessionID:  "s1",
		SequenceID: seq,
		Payload:    map[string]any{types.PayloadScrollDepth: 0.4},
	}
}

func TestInsertAndQueryEvents(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	batch := []types.Event{
		eventAt(now.Add(-2*time.Minute), 1),
		eventAt(now.Add(-1*time.Minute), 2),
		eventAt(now.Add(-10*time.Second), 3),
	}
	if err := s.InsertEvents(batch); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}

	events, err := s.EventsSince(now.Add(-90*time.Second), 0)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events inside the window, got %d", len(events))
	}
	if events[0].SequenceID != 2 || events[1].SequenceID != 3 {
		t.Errorf("Expected oldest-first order, got %d then %d", events[0].SequenceID, events[1].SequenceID)
	}
	if d, ok := events[0].Payload[types.PayloadScrollDepth].(float64); !ok || d != 0.4 {
		t.Errorf("Expected payload restored, got %v", events[0].Payload)
	}
}

func TestInsertEventsRetrySafe(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	batch := []types.Event{eventAt(now, 1), eventAt(now, 2)}
	if err := s.InsertEvents(batch); err != nil {
		t.Fatal(err)
	}
	// A retried batch must not duplicate rows
	if err := s.InsertEvents(batch); err != nil {
		t.Fatalf("Retried insert should succeed silently: %v", err)
	}

	events, err := s.EventsSince(now.Add(-time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events after retry, got %d", len(events))
	}
}

func TestPruneEventsByAgeAndCount(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	var batch []types.Event
	batch = append(batch, eventAt(now.Add(-48*time.Hour), 1)) // too old
	for i := int64(2); i <= 7; i++ {
		batch = append(batch, eventAt(now.Add(-time.Duration(i)*time.Minute), i))
	}
	if err := s.InsertEvents(batch); err != nil {
		t.Fatal(err)
	}

	if err := s.PruneEvents(24*time.Hour, 4); err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}

	events, err := s.EventsSince(now.Add(-72*time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 events after pruning, got %d", len(events))
	}
	for _, e := range events {
		if time.Since(e.Timestamp) > 24*time.Hour {
			t.Errorf("Expected aged-out event pruned, found %v", e.Timestamp)
		}
	}
}

func TestScoreHistoryRoundTripAndPrune(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	entries := []types.DistractionScoreEntry{
		{Timestamp: now.Add(-30 * time.Hour), OverallScore: 0.2, TotalEvents: 10},
		{Timestamp: now.Add(-2 * time.Hour), OverallScore: 0.6,
			PerDomainScores: map[string]float64{"youtube.com": 0.9}, TotalEvents: 40},
		{Timestamp: now.Add(-time.Minute), OverallScore: 0.4, TotalEvents: 20},
	}
	for _, e := range entries {
		if err := s.AppendScore(e); err != nil {
			t.Fatalf("AppendScore failed: %v", err)
		}
	}

	if err := s.PruneScores(24 * time.Hour); err != nil {
		t.Fatalf("PruneScores failed: %v", err)
	}

	got, err := s.ScoreHistory(now.Add(-48*time.Hour), now)
	if err != nil {
		t.Fatalf("ScoreHistory failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected the 30h-old entry pruned, got %d entries", len(got))
	}
	if got[0].OverallScore != 0.6 {
		t.Errorf("Expected oldest-first order, got %v first", got[0].OverallScore)
	}
	if got[0].PerDomainScores["youtube.com"] != 0.9 {
		t.Errorf("Expected per-domain scores restored, got %v", got[0].PerDomainScores)
	}
}
