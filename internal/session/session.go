package session

import (
	"fmt"
	"sync"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/store"
	"driftwatch/internal/types"
)

// Config holds the session machine's tunables
type Config struct {
	DebounceWindow  time.Duration // repeat distractions on one tab inside this window count once
	MaxDistractions int           // distraction count at which that score term bottoms out
	MaxStreak       int           // streak length at which that score term saturates
	DailyGoal       time.Duration // focus-time target for the focus-score term
	MinStreakWork   time.Duration // session length that counts toward the streak
}

// DefaultConfig returns the stock session tunables
func DefaultConfig() Config {
	return Config{
		DebounceWindow:  5 * time.Minute,
		MaxDistractions: 10,
		MaxStreak:       7,
		DailyGoal:       4 * time.Hour,
		MinStreakWork:   25 * time.Minute,
	}
}

// Persister is the slice of the store the machine needs
type Persister interface {
	Get(key string, v any) (bool, error)
	Set(key string, v any) error
}

// debounceEntry tracks the suppression window for one tab. Entries expire
// lazily and are cleared when the tab leaves the distracting domain or
// closes, so the map cannot grow with dead tabs.
type debounceEntry struct {
	Domain      string    `json:"domain"`
	LastCounted time.Time `json:"last_counted"`
}

// Machine owns the focus-session state: task mode, debounced distraction
// counting, and the running statistics. All mutations persist before
// returning; state survives restarts via Load.
type Machine struct {
	mu       sync.Mutex
	cfg      Config
	state    types.SessionState
	debounce map[string]*debounceEntry // tabID -> suppression window

	persister   Persister
	expireTimer *time.Timer
	onEnded     func(message string) // notification sink callback for expiry
}

// New creates a session machine. onEnded may be nil.
func New(cfg Config, p Persister, onEnded func(message string)) *Machine {
	if cfg.DebounceWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Machine{
		cfg:       cfg,
		debounce:  make(map[string]*debounceEntry),
		persister: p,
		onEnded:   onEnded,
	}
}

// Load restores session state from the store. A missing key starts fresh.
func (m *Machine) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var saved struct {
		State    types.SessionState        `json:"state"`
		Debounce map[string]*debounceEntry `json:"debounce,omitempty"`
	}
	found, err := m.persister.Get(store.KeyFocusStats, &saved)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if !found {
		return nil
	}

	m.state = saved.State
	if saved.Debounce != nil {
		m.debounce = saved.Debounce
	}

	// A time-boxed session whose deadline passed while we were down ends as
	// of the deadline, not now: the downtime does not count as focus time
	if m.state.FocusModeActive && m.state.EndTime != nil && time.Now().After(*m.state.EndTime) {
		logging.Info("session", "task mode expired while offline, closing session")
		m.endAtLocked(*m.state.EndTime)
		return nil
	}
	if m.state.FocusModeActive {
		m.scheduleExpireLocked()
	}
	return nil
}

// Save persists the current state (also called on shutdown)
func (m *Machine) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Machine) persistLocked() error {
	saved := struct {
		State    types.SessionState        `json:"state"`
		Debounce map[string]*debounceEntry `json:"debounce,omitempty"`
	}{State: m.state, Debounce: m.debounce}
	return m.persister.Set(store.KeyFocusStats, saved)
}

// persistOrWarn is the after-every-mutation path: a store failure is
// transient, logged, and healed by the next mutation or tick
func (m *Machine) persistOrWarn() {
	if err := m.persistLocked(); err != nil {
		logging.Warn("session", "failed to persist session state: %v", err)
	}
}

// Enable enters task mode. With useTimer, an expire trigger fires after
// duration; Disable before then cancels it.
func (m *Machine) Enable(taskType string, useTimer bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}

	now := time.Now()
	streak := m.state.Stats.StreakCount // streak survives across sessions
	m.state = types.SessionState{
		FocusModeActive: true,
		TaskType:        taskType,
		StartTime:       now,
		Stats:           types.SessionStats{StreakCount: streak},
	}
	if useTimer && duration > 0 {
		end := now.Add(duration)
		m.state.EndTime = &end
		m.scheduleExpireLocked()
	}
	m.recomputeLocked()
	m.persistOrWarn()
	logging.Info("session", "task mode enabled: %s (timed: %v)", taskType, useTimer)
}

func (m *Machine) scheduleExpireLocked() {
	if m.state.EndTime == nil {
		return
	}
	d := time.Until(*m.state.EndTime)
	if d < 0 {
		d = 0
	}
	m.expireTimer = time.AfterFunc(d, m.expire)
}

// expire fires when a timed session runs out. A stale fire after Disable is
// a no-op: focusModeActive is checked under the lock.
func (m *Machine) expire() {
	m.mu.Lock()
	if !m.state.FocusModeActive {
		m.mu.Unlock()
		return
	}
	taskType := m.state.TaskType
	m.endLocked()
	notify := m.onEnded
	m.mu.Unlock()

	logging.Info("session", "task mode expired: %s", taskType)
	if notify != nil {
		notify(fmt.Sprintf("Focus session for %s is up. Nice work - take a break.", taskType))
	}
}

// Disable is the explicit user-initiated exit; same persistence path as
// expiry, but never notifies
func (m *Machine) Disable() types.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
	if !m.state.FocusModeActive {
		return m.state.Stats
	}
	m.endLocked()
	logging.Info("session", "task mode disabled")
	return m.state.Stats
}

// endLocked finalizes stats and leaves task mode. Caller holds the lock.
func (m *Machine) endLocked() {
	m.endAtLocked(time.Now())
}

// endAtLocked ends the session as of endedAt, so a deadline that passed
// while the process was down does not inflate the final focus time
func (m *Machine) endAtLocked(endedAt time.Time) {
	elapsed := endedAt.Sub(m.state.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	m.state.Stats.FocusTime = elapsed
	m.state.FocusModeActive = false
	m.recomputeLocked()
	if m.state.Stats.FocusTime >= m.cfg.MinStreakWork {
		m.state.Stats.StreakCount++
	} else {
		m.state.Stats.StreakCount = 0
	}
	m.expireTimer = nil
	m.debounce = make(map[string]*debounceEntry)
	m.persistOrWarn()
}

// SetDailyGoal updates the focus-time target used by the goal term of the
// focus score. Called when the user preference changes.
func (m *Machine) SetDailyGoal(goal time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if goal <= 0 || goal == m.cfg.DailyGoal {
		return
	}
	m.cfg.DailyGoal = goal
	m.recomputeLocked()
	m.persistOrWarn()
	logging.Info("session", "daily focus goal set to %v", goal)
}

// RecomputeStats refreshes focusTime and the weighted focus score. The
// engine calls this every 60s while task mode is active.
func (m *Machine) RecomputeStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.FocusModeActive {
		return
	}
	m.recomputeLocked()
	m.persistOrWarn()
}

func (m *Machine) recomputeLocked() {
	if m.state.FocusModeActive {
		m.state.Stats.FocusTime = time.Since(m.state.StartTime)
	}

	goal := minRatio(m.state.Stats.FocusTime.Minutes(), m.cfg.DailyGoal.Minutes())
	clean := 1 - float64(m.state.Stats.DistractionCount)/float64(m.cfg.MaxDistractions)
	if clean < 0 {
		clean = 0
	}
	streak := minRatio(float64(m.state.Stats.StreakCount), float64(m.cfg.MaxStreak))

	m.state.Stats.FocusScore = 0.4*goal + 0.3*clean + 0.3*streak
}

// RecordDistraction counts a confirmed distraction for a tab, subject to the
// per-tab debounce window. Returns true when the occurrence was counted (and
// the caller may notify), false when suppressed. The window resets on each
// counted occurrence. Tabs are independent: concurrent calls for different
// tabs each count.
func (m *Machine) RecordDistraction(tabID, domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.FocusModeActive {
		return false
	}

	now := time.Now()
	if entry, ok := m.debounce[tabID]; ok {
		// Lazy eviction of expired windows
		if now.Sub(entry.LastCounted) < m.cfg.DebounceWindow && entry.Domain == domain {
			logging.Debug("session", "distraction on tab %s suppressed (debounce)", tabID)
			return false
		}
		delete(m.debounce, tabID)
	}

	m.debounce[tabID] = &debounceEntry{Domain: domain, LastCounted: now}
	m.state.Stats.DistractionCount++
	m.state.Stats.RecentDistractions = append(m.state.Stats.RecentDistractions, types.DistractionEvent{
		Domain:    domain,
		TabID:     tabID,
		Timestamp: now,
	})
	if n := len(m.state.Stats.RecentDistractions); n > 10 {
		m.state.Stats.RecentDistractions = m.state.Stats.RecentDistractions[n-10:]
	}

	m.recomputeLocked()
	m.persistOrWarn()
	logging.Info("session", "distraction counted: %s on tab %s (total: %d)",
		domain, tabID, m.state.Stats.DistractionCount)
	return true
}

// TestSetDebounceTimestamp backdates a tab's suppression window (for testing only)
func (m *Machine) TestSetDebounceTimestamp(tabID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.debounce[tabID]; ok {
		entry.LastCounted = t
	}
}

// OnNavigate clears a tab's suppression window when it leaves the domain it
// was debounced for
func (m *Machine) OnNavigate(tabID, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.debounce[tabID]; ok && entry.Domain != domain {
		delete(m.debounce, tabID)
	}
}

// CloseTab evicts all debounce state for a closed tab
func (m *Machine) CloseTab(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.debounce, tabID)
}

// Active reports whether task mode is on
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.FocusModeActive
}

// Snapshot returns a copy of the current session state
func (m *Machine) Snapshot() types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state
	snap.Stats.RecentDistractions = append([]types.DistractionEvent(nil), m.state.Stats.RecentDistractions...)
	if m.state.EndTime != nil {
		end := *m.state.EndTime
		snap.EndTime = &end
	}
	return snap
}

// Stats returns a copy of the running statistics
func (m *Machine) Stats() types.SessionStats {
	return m.Snapshot().Stats
}

func minRatio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	r := v / max
	if r > 1 {
		return 1
	}
	return r
}
