package engine

import (
	"fmt"
	"sync"
	"time"

	"driftwatch/internal/buffer"
	"driftwatch/internal/effectors"
	"driftwatch/internal/features"
	"driftwatch/internal/logging"
	"driftwatch/internal/nudge"
	"driftwatch/internal/scoring"
	"driftwatch/internal/session"
	"driftwatch/internal/store"
	"driftwatch/internal/taskdetect"
	"driftwatch/internal/types"
)

// Config holds the engine's loop intervals
type Config struct {
	DrainInterval  time.Duration // queue drain + scoring cycle
	StatsInterval  time.Duration // session stat recompute while task mode is on
	DetectInterval time.Duration // standalone task re-detection
	PruneInterval  time.Duration // event-log retention enforcement
	FeatureWindow  time.Duration // trailing window for feature extraction
}

// DefaultConfig returns the stock intervals
func DefaultConfig() Config {
	return Config{
		DrainInterval:  buffer.DefaultDrainInterval,
		StatsInterval:  60 * time.Second,
		DetectInterval: 2 * time.Minute,
		PruneInterval:  time.Hour,
		FeatureWindow:  5 * time.Minute,
	}
}

// Engine wires the pipeline together and drives it on timers: drain the event
// queue, persist, extract features, score, detect, and let the nudge policy
// decide. One processing cycle runs at a time; overlapping triggers (timer,
// urgent wakeup, explicit flush) skip instead of stacking.
type Engine struct {
	cfg      Config
	queue    *buffer.Queue
	store    *store.Store
	strategy scoring.Strategy
	recorder *scoring.Recorder
	detector *taskdetect.Detector
	session  *session.Machine
	policy   *nudge.Policy
	sinks    []effectors.Sink

	mu           sync.Mutex
	prefs        types.Preferences
	lastTask     types.TaskDetectionResult
	notifiedTask types.TaskType // last task type announced to sinks

	procMu     sync.Mutex
	processing bool

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New assembles an engine from its parts. Preferences are restored from the
// store, falling back to defaults.
func New(cfg Config, q *buffer.Queue, st *store.Store, strategy scoring.Strategy,
	detector *taskdetect.Detector, sess *session.Machine, policy *nudge.Policy,
	sinks []effectors.Sink) (*Engine, error) {

	if cfg.DrainInterval <= 0 {
		cfg = DefaultConfig()
	}

	e := &Engine{
		cfg:      cfg,
		queue:    q,
		store:    st,
		strategy: strategy,
		recorder: scoring.NewRecorder(st),
		detector: detector,
		session:  sess,
		policy:   policy,
		sinks:    sinks,
		lastTask: types.Unknown(),
		stopChan: make(chan struct{}),
	}

	prefs := types.DefaultPreferences()
	found, err := st.Get(store.KeyUserPreferences, &prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if found {
		logging.Info("engine", "restored user preferences")
	}
	e.prefs = prefs
	sess.SetDailyGoal(time.Duration(prefs.DailyGoalMinutes) * time.Minute)

	return e, nil
}

// Start launches the timer loops
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(2)
	go e.drainLoop()
	go e.maintenanceLoop()
	logging.Info("engine", "started (drain=%v, stats=%v, detect=%v)",
		e.cfg.DrainInterval, e.cfg.StatsInterval, e.cfg.DetectInterval)
}

// Stop halts the loops and runs one final cycle so queued events are not lost
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	e.processCycle()
	logging.Info("engine", "stopped")
}

func (e *Engine) drainLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.processCycle()
		case <-e.queue.Urgent():
			e.processCycle()
		}
	}
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()
	stats := time.NewTicker(e.cfg.StatsInterval)
	detect := time.NewTicker(e.cfg.DetectInterval)
	prune := time.NewTicker(e.cfg.PruneInterval)
	defer stats.Stop()
	defer detect.Stop()
	defer prune.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-stats.C:
			e.session.RecomputeStats()
		case <-detect.C:
			e.DetectNow()
		case <-prune.C:
			if err := e.store.PruneEvents(store.DefaultEventMaxAge, store.DefaultEventMaxCount); err != nil {
				logging.Warn("engine", "event prune failed: %v", err)
			}
		}
	}
}

// Ingest stamps and queues a batch of raw events, returning how many were
// accepted. Malformed events (no type, no tab) are dropped here so they never
// enter the queue.
func (e *Engine) Ingest(events []types.Event) int {
	accepted := 0
	for _, ev := range events {
		if ev.Type == "" || ev.TabID == "" {
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		e.queue.Push(ev)
		accepted++
	}
	logging.Debug("engine", "ingested %d/%d events (queue: %d)", accepted, len(events), e.queue.Len())
	return accepted
}

// Flush forces a processing cycle immediately (no-op if one is running)
func (e *Engine) Flush() {
	e.processCycle()
}

// processCycle is the heart of the pipeline: drain, persist, extract, score,
// detect, decide. Single-flight: a trigger during a running cycle is dropped.
func (e *Engine) processCycle() {
	e.procMu.Lock()
	if e.processing {
		e.procMu.Unlock()
		return
	}
	e.processing = true
	e.procMu.Unlock()
	defer func() {
		e.procMu.Lock()
		e.processing = false
		e.procMu.Unlock()
	}()

	batch := e.queue.Drain(buffer.DefaultDrainMax)
	if len(batch) > 0 {
		if err := e.store.InsertEvents(batch); err != nil {
			logging.Warn("engine", "failed to persist batch of %d, requeueing: %v", len(batch), err)
			e.queue.Requeue(batch)
			return
		}
		e.trackNavigation(batch)
	}

	now := time.Now()
	windowStart := now.Add(-e.cfg.FeatureWindow)
	events, err := e.store.EventsSince(windowStart, 0)
	if err != nil {
		logging.Warn("engine", "failed to read recent events: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	records := features.Extract(events, windowStart, now)
	scores := make(map[string]types.ScoreResult, len(records))
	perDomain := make(map[string]float64, len(records))
	for _, rec := range records {
		if rec.Basic {
			continue // too few events to score meaningfully
		}
		res := e.strategy.Score(rec, rec.Domain)
		scores[rec.Domain] = res
		perDomain[rec.Domain] = res.Probability
	}
	if len(perDomain) > 0 {
		if err := e.recorder.Snapshot(perDomain, len(events)); err != nil {
			logging.Warn("engine", "score snapshot failed: %v", err)
		}
		// The latest per-domain rollup is its own aggregate, separate from
		// the bounded history series
		rollup := sessionRollup{UpdatedAt: now, Domains: scores, TotalEvents: len(events)}
		if err := e.store.Set(store.KeySessionData, rollup); err != nil {
			logging.Warn("engine", "failed to persist domain rollup: %v", err)
		}
	}

	task := e.detector.Detect(events)
	e.updateTask(task)

	e.mu.Lock()
	prefs := e.prefs
	e.mu.Unlock()
	state := e.session.Snapshot()

	// At most one nudge per cycle: evaluate the tabs active in this batch and
	// stop at the first decision
	for tabID, domain := range latestTabDomains(batch) {
		n := e.policy.Decide(scores[domain], task, state, prefs, domain, tabID)
		if n == nil {
			continue
		}
		e.deliver(*n)
		break
	}
}

// trackNavigation feeds page transitions to the session machine so the
// per-tab debounce clears when a tab leaves its distracting domain
func (e *Engine) trackNavigation(batch []types.Event) {
	for _, ev := range batch {
		switch ev.Type {
		case types.EventPageVisit:
			if d := features.DomainOf(ev); d != "" {
				e.session.OnNavigate(ev.TabID, d)
			}
		}
	}
}

// latestTabDomains maps each tab in the batch to the domain of its newest
// URL-bearing event
func latestTabDomains(batch []types.Event) map[string]string {
	tabs := make(map[string]string)
	for _, ev := range batch {
		if d := features.DomainOf(ev); d != "" {
			tabs[ev.TabID] = d
		}
	}
	return tabs
}

// updateTask stores the newest detection result and announces a confident,
// newly-seen task to the sinks (unless a session is already running)
func (e *Engine) updateTask(task types.TaskDetectionResult) {
	e.mu.Lock()
	e.lastTask = task
	announce := task.TaskType != types.TaskUnknown &&
		task.Confidence >= 0.7 &&
		task.TaskType != e.notifiedTask &&
		!e.session.Active()
	if announce {
		e.notifiedTask = task.TaskType
	}
	e.mu.Unlock()

	if !announce {
		return
	}
	for _, sink := range e.sinks {
		if err := sink.TaskDetected(task); err != nil {
			logging.Warn("engine", "task notification failed: %v", err)
		}
	}
}

func (e *Engine) deliver(n types.Nudge) {
	logging.Info("engine", "nudge: [%s] %s", n.Kind, logging.Truncate(n.Message, 120))
	for _, sink := range e.sinks {
		if err := sink.ShowNudge(n); err != nil {
			logging.Warn("engine", "nudge delivery failed: %v", err)
		}
	}
}

// sessionRollup is the persisted latest per-domain scoring state
type sessionRollup struct {
	UpdatedAt   time.Time                    `json:"updated_at"`
	Domains     map[string]types.ScoreResult `json:"domains"`
	TotalEvents int                          `json:"total_events"`
}

// DomainScores returns the persisted per-domain rollup from the last scoring
// cycle (empty before the first one)
func (e *Engine) DomainScores() map[string]types.ScoreResult {
	var rollup sessionRollup
	found, err := e.store.Get(store.KeySessionData, &rollup)
	if err != nil {
		logging.Warn("engine", "failed to read domain rollup: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	return rollup.Domains
}

// CurrentTask returns the most recent detection result
func (e *Engine) CurrentTask() types.TaskDetectionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTask
}

// DetectNow runs detection over the stored recent window immediately and
// returns the result (also retained as the current task)
func (e *Engine) DetectNow() types.TaskDetectionResult {
	events, err := e.store.EventsSince(time.Now().Add(-e.cfg.FeatureWindow), 0)
	if err != nil {
		logging.Warn("engine", "detect: failed to read recent events: %v", err)
		return types.Unknown()
	}
	task := e.detector.Detect(events)
	e.updateTask(task)
	return task
}

// ScoreHistory returns the trailing score series (rng capped at retention)
func (e *Engine) ScoreHistory(rng time.Duration) ([]types.DistractionScoreEntry, error) {
	return e.recorder.History(rng)
}

// CloseTab drops all per-tab state for a closed tab
func (e *Engine) CloseTab(tabID string) {
	e.queue.DropTab(tabID)
	e.session.CloseTab(tabID)
}

// QueueLen reports the in-memory queue depth (health endpoint)
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Preferences returns a copy of the current user preferences
func (e *Engine) Preferences() types.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.prefs
	p.EnabledNudgeKinds = append([]types.NudgeKind(nil), e.prefs.EnabledNudgeKinds...)
	p.FocusWindows = append([]types.FocusWindow(nil), e.prefs.FocusWindows...)
	return p
}

// PreferencesPatch is a partial preferences update: nil fields are untouched
type PreferencesPatch struct {
	DistractionThreshold *float64             `json:"distraction_threshold"`
	EnabledNudgeKinds    *[]types.NudgeKind   `json:"enabled_nudge_kinds"`
	TaskNudgesEnabled    *bool                `json:"task_nudges_enabled"`
	FocusWindows         *[]types.FocusWindow `json:"focus_windows"`
	DailyGoalMinutes     *int                 `json:"daily_goal_minutes"`
}

// UpdatePreferences validates and applies a partial update, persists the
// result, and returns the merged preferences
func (e *Engine) UpdatePreferences(patch PreferencesPatch) (types.Preferences, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.prefs
	if patch.DistractionThreshold != nil {
		t := *patch.DistractionThreshold
		if t < 0 || t > 1 {
			return e.prefs, fmt.Errorf("distraction_threshold must be in [0, 1], got %v", t)
		}
		next.DistractionThreshold = t
	}
	if patch.EnabledNudgeKinds != nil {
		for _, k := range *patch.EnabledNudgeKinds {
			switch k {
			case types.NudgeReminder, types.NudgeReflection, types.NudgeSuggestion:
			default:
				return e.prefs, fmt.Errorf("unknown nudge kind %q", k)
			}
		}
		next.EnabledNudgeKinds = *patch.EnabledNudgeKinds
	}
	if patch.TaskNudgesEnabled != nil {
		next.TaskNudgesEnabled = *patch.TaskNudgesEnabled
	}
	if patch.FocusWindows != nil {
		for _, w := range *patch.FocusWindows {
			if !validHHMM(w.Start) || !validHHMM(w.End) {
				return e.prefs, fmt.Errorf("malformed focus window %q-%q", w.Start, w.End)
			}
		}
		next.FocusWindows = *patch.FocusWindows
	}
	if patch.DailyGoalMinutes != nil {
		if *patch.DailyGoalMinutes <= 0 {
			return e.prefs, fmt.Errorf("daily_goal_minutes must be positive")
		}
		next.DailyGoalMinutes = *patch.DailyGoalMinutes
	}

	if err := e.store.Set(store.KeyUserPreferences, next); err != nil {
		return e.prefs, fmt.Errorf("failed to persist preferences: %w", err)
	}
	e.prefs = next
	if patch.DailyGoalMinutes != nil {
		e.session.SetDailyGoal(time.Duration(next.DailyGoalMinutes) * time.Minute)
	}
	logging.Info("engine", "preferences updated")
	return next, nil
}

func validHHMM(s string) bool {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return false
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}
