package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// memPersister is an in-memory stand-in for the store
type memPersister struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (p *memPersister) Get(key string, v any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, ok := p.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (p *memPersister) Set(key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.data[key] = raw
	return nil
}

func TestEnableResetsCountersKeepsStreak(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)

	m.Enable("writing", false, 0)
	m.RecordDistraction("tab-1", "youtube.com")
	m.mu.Lock()
	m.state.Stats.StreakCount = 3
	m.mu.Unlock()

	m.Enable("job_application", false, 0)
	snap := m.Snapshot()
	if !snap.FocusModeActive {
		t.Fatal("Expected task mode active after Enable")
	}
	if snap.TaskType != "job_application" {
		t.Errorf("Expected task type job_application, got %s", snap.TaskType)
	}
	if snap.Stats.DistractionCount != 0 {
		t.Errorf("Expected distraction count reset, got %d", snap.Stats.DistractionCount)
	}
	if snap.Stats.StreakCount != 3 {
		t.Errorf("Expected streak carried across sessions, got %d", snap.Stats.StreakCount)
	}
}

func TestDistractionDebouncePerTab(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("job_application", false, 0)

	// First occurrence counts
	if !m.RecordDistraction("tab-1", "youtube.com") {
		t.Fatal("First distraction should count")
	}
	// Same tab, same domain, 2 minutes later: suppressed
	m.TestSetDebounceTimestamp("tab-1", time.Now().Add(-2*time.Minute))
	if m.RecordDistraction("tab-1", "youtube.com") {
		t.Error("Repeat within the 5m window should be suppressed")
	}
	// 6 minutes later: the window expired, counts again
	m.TestSetDebounceTimestamp("tab-1", time.Now().Add(-6*time.Minute))
	if !m.RecordDistraction("tab-1", "youtube.com") {
		t.Error("Repeat after the window should count")
	}

	if got := m.Stats().DistractionCount; got != 2 {
		t.Errorf("Expected 2 counted distractions, got %d", got)
	}
}

func TestDistractionTabsAreIndependent(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("job_application", false, 0)

	if !m.RecordDistraction("tab-1", "youtube.com") {
		t.Fatal("tab-1 distraction should count")
	}
	if !m.RecordDistraction("tab-2", "youtube.com") {
		t.Error("tab-2 should not share tab-1's debounce window")
	}
	if got := m.Stats().DistractionCount; got != 2 {
		t.Errorf("Expected both tabs counted, got %d", got)
	}
}

func TestNavigatingAwayClearsDebounce(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("job_application", false, 0)

	m.RecordDistraction("tab-1", "youtube.com")
	m.OnNavigate("tab-1", "linkedin.com")

	// Back to the same domain: a fresh window, so it counts again
	if !m.RecordDistraction("tab-1", "youtube.com") {
		t.Error("Leaving and returning to the domain should count as a new distraction")
	}
}

func TestRecordDistractionInactiveSession(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	if m.RecordDistraction("tab-1", "youtube.com") {
		t.Error("Distractions outside task mode should not count")
	}
}

func TestRecentDistractionsRingCapped(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("job_application", false, 0)

	for i := 0; i < 15; i++ {
		tab := string(rune('a' + i))
		m.RecordDistraction("tab-"+tab, "youtube.com")
	}

	recent := m.Stats().RecentDistractions
	if len(recent) != 10 {
		t.Errorf("Expected recent list capped at 10, got %d", len(recent))
	}
	// Newest are kept: the last recorded tab must be present
	if recent[len(recent)-1].TabID != "tab-o" {
		t.Errorf("Expected newest distraction retained, got %s", recent[len(recent)-1].TabID)
	}
}

func TestFocusScoreWeighting(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("writing", false, 0)

	// No focus time yet, no distractions, no streak: score is just the
	// clean-run term at full weight
	m.mu.Lock()
	m.state.Stats.FocusTime = 0
	m.state.Stats.DistractionCount = 0
	m.state.Stats.StreakCount = 0
	m.state.StartTime = time.Now()
	m.recomputeLocked()
	score := m.state.Stats.FocusScore
	m.mu.Unlock()

	if score < 0.29 || score > 0.31 {
		t.Errorf("Expected score ~0.30 (clean-run term only), got %v", score)
	}

	// Saturate every term: 0.4 + 0.3 + 0.3 = 1.0
	m.mu.Lock()
	m.state.StartTime = time.Now().Add(-5 * time.Hour)
	m.state.Stats.StreakCount = 10
	m.recomputeLocked()
	score = m.state.Stats.FocusScore
	m.mu.Unlock()

	if score < 0.99 {
		t.Errorf("Expected saturated score ~1.0, got %v", score)
	}
}

func TestSetDailyGoalMovesFocusScore(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("writing", false, 0)

	// Two hours in against the stock 4h goal: goal term is 0.5 * 0.4
	m.mu.Lock()
	m.state.StartTime = time.Now().Add(-2 * time.Hour)
	m.recomputeLocked()
	before := m.state.Stats.FocusScore
	m.mu.Unlock()

	// Halving the goal saturates the term: the score gains the missing 0.2
	m.SetDailyGoal(2 * time.Hour)
	after := m.Stats().FocusScore

	if diff := after - before; diff < 0.19 || diff > 0.21 {
		t.Errorf("Expected the goal term to move the score by ~0.2, got %v -> %v", before, after)
	}
}

func TestSetDailyGoalIgnoresNonPositive(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.SetDailyGoal(0)
	if m.cfg.DailyGoal != DefaultConfig().DailyGoal {
		t.Errorf("Expected a non-positive goal ignored, got %v", m.cfg.DailyGoal)
	}
}

func TestTimedSessionExpiresAndNotifies(t *testing.T) {
	var mu sync.Mutex
	var messages []string
	m := New(DefaultConfig(), newMemPersister(), func(msg string) {
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
	})

	m.Enable("job_application", true, 20*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for m.Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if m.Active() {
		t.Fatal("Expected timed session to expire")
	}
	mu.Lock()
	n := len(messages)
	mu.Unlock()
	if n != 1 {
		t.Errorf("Expected exactly one expiry notification, got %d", n)
	}
}

func TestDisableCancelsTimerWithoutNotification(t *testing.T) {
	var mu sync.Mutex
	notified := 0
	m := New(DefaultConfig(), newMemPersister(), func(string) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	m.Enable("job_application", true, 30*time.Millisecond)
	m.Disable()

	// Give a stale timer fire every chance to go wrong
	time.Sleep(80 * time.Millisecond)

	if m.Active() {
		t.Error("Expected task mode off after Disable")
	}
	mu.Lock()
	n := notified
	mu.Unlock()
	if n != 0 {
		t.Errorf("Disable must not notify, got %d notifications", n)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	p := newMemPersister()

	m := New(DefaultConfig(), p, nil)
	m.Enable("job_application", false, 0)
	m.RecordDistraction("tab-1", "youtube.com")

	// Restart: a new machine over the same persister
	m2 := New(DefaultConfig(), p, nil)
	if err := m2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !m2.Active() {
		t.Fatal("Expected restored session still active")
	}
	if got := m2.Stats().DistractionCount; got != 1 {
		t.Errorf("Expected distraction count restored, got %d", got)
	}
	// Debounce state survives too: the same tab is still suppressed
	if m2.RecordDistraction("tab-1", "youtube.com") {
		t.Error("Expected restored debounce window to suppress")
	}
}

func TestExpiredOfflineSessionClosesOnLoad(t *testing.T) {
	p := newMemPersister()

	m := New(DefaultConfig(), p, nil)
	m.Enable("job_application", true, time.Hour)

	// Rewrite the stored deadline into the past, as if the process was down
	m.mu.Lock()
	past := time.Now().Add(-time.Minute)
	m.state.EndTime = &past
	m.persistLocked()
	m.mu.Unlock()

	m2 := New(DefaultConfig(), p, nil)
	if err := m2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m2.Active() {
		t.Error("Expected an offline-expired session to be closed on load")
	}
}

func TestOfflineExpiryCapsFocusTimeAtDeadline(t *testing.T) {
	p := newMemPersister()

	// A 30-minute session that started 2 hours ago and expired 90 minutes
	// ago: the downtime after the deadline is not focus time
	m := New(DefaultConfig(), p, nil)
	m.Enable("job_application", true, time.Hour)
	m.mu.Lock()
	m.state.StartTime = time.Now().Add(-2 * time.Hour)
	end := time.Now().Add(-90 * time.Minute)
	m.state.EndTime = &end
	m.persistLocked()
	m.mu.Unlock()

	m2 := New(DefaultConfig(), p, nil)
	if err := m2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m2.Active() {
		t.Fatal("Expected the session closed on load")
	}

	stats := m2.Stats()
	if stats.FocusTime < 29*time.Minute || stats.FocusTime > 31*time.Minute {
		t.Errorf("Expected focus time capped at the 30m the session actually ran, got %v", stats.FocusTime)
	}
	// 30 minutes of real work clears the 25m streak bar
	if stats.StreakCount != 1 {
		t.Errorf("Expected the capped session to still credit the streak, got %d", stats.StreakCount)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(DefaultConfig(), newMemPersister(), nil)
	m.Enable("writing", false, 0)
	m.RecordDistraction("tab-1", "youtube.com")

	snap := m.Snapshot()
	snap.Stats.RecentDistractions[0].Domain = "mutated.example"
	snap.TaskType = "mutated"

	fresh := m.Snapshot()
	if fresh.Stats.RecentDistractions[0].Domain != "youtube.com" {
		t.Error("Mutating a snapshot must not affect the machine's state")
	}
	if fresh.TaskType != "writing" {
		t.Error("Expected task type unchanged")
	}
}
