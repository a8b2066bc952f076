package types

import "time"

// EventType identifies a raw interaction event from the browsing stream
type EventType string

const (
	EventPageVisit     EventType = "page_visit"
	EventPageExit      EventType = "page_exit"
	EventScroll        EventType = "scroll"
	EventClick         EventType = "click"
	EventKeyPress      EventType = "key_press"
	EventVideoPlay     EventType = "video_play"
	EventVideoPause    EventType = "video_pause"
	EventVideoProgress EventType = "video_progress"
	EventVisibility    EventType = "visibility"
	EventContentLoad   EventType = "content_load"
	EventTabSwitch     EventType = "tab_switch"
	EventIdle          EventType = "idle"
)

// IsUrgent reports whether this event type should trigger an immediate
// buffer drain instead of waiting for the next timer tick. Page visits,
// exits, and video play/pause mark session-critical transitions.
func (t EventType) IsUrgent() bool {
	switch t {
	case EventPageVisit, EventPageExit, EventVideoPlay, EventVideoPause:
		return true
	}
	return false
}

// Event is one raw interaction observation. Immutable once created;
// SequenceID is monotonic per tab and assigned at ingestion.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	URL        string         `json:"url"`
	Domain     string         `json:"domain,omitempty"` // declared by the source, else derived from URL
	TabID      string         `json:"tab_id"`
	SessionID  string         `json:"session_id"`
	SequenceID int64          `json:"sequence_id"`
	Payload    map[string]any `json:"payload,omitempty"` // type-specific extras
}

// Payload keys used by the pipeline. Senses fill these; everything else in
// Payload is carried but ignored.
const (
	PayloadScrollDepth = "scroll_depth" // scroll: 0.0-1.0 page depth
	PayloadTargetText  = "target_text"  // click: text of the clicked element
	PayloadText        = "text"         // content_load: sampled page text
	PayloadVisible     = "visible"      // visibility: bool, tab is foreground
	PayloadIdleSeconds = "idle_seconds" // idle: float64 duration
	PayloadWatchedSecs = "watched_secs" // video_progress: float64 watched since last report
)

// FeatureRecord is the fixed-shape per-(window, domain) feature vector.
// Ephemeral: recomputed per window, never persisted.
type FeatureRecord struct {
	Domain         string        `json:"domain"`
	WindowStart    time.Time     `json:"window_start"`
	WindowEnd      time.Time     `json:"window_end"`
	TimeSpent      time.Duration `json:"time_spent"`
	ActiveTime     time.Duration `json:"active_time"`
	IdleTime       time.Duration `json:"idle_time"`
	ScrollCount    int           `json:"scroll_count"`
	ScrollDepth    float64       `json:"scroll_depth"` // max observed, 0.0-1.0
	ClickCount     int           `json:"click_count"`
	KeyPressCount  int           `json:"key_press_count"`
	TabSwitchCount int           `json:"tab_switch_count"`
	VideoWatchTime time.Duration `json:"video_watch_time"`
	HasVideo       bool          `json:"has_video"`
	ContentType    string        `json:"content_type"` // "video", "text", "mixed"
	EventCount     int           `json:"event_count"`
	Engagement     float64       `json:"engagement"`  // 0.0-1.0 weighted interaction score
	FocusRatio     float64       `json:"focus_ratio"` // 0.0-1.0 foreground share of window
	Basic          bool          `json:"basic"`       // true when too few events for derived fields
}

// ScoreResult is a distraction probability with a spread-derived confidence
type ScoreResult struct {
	Probability float64 `json:"probability"` // 0.0-1.0
	Confidence  float64 `json:"confidence"`  // 0.0-1.0
}

// DistractionScoreEntry is one snapshot in the bounded 24h history series
type DistractionScoreEntry struct {
	Timestamp       time.Time          `json:"timestamp"`
	OverallScore    float64            `json:"overall_score"`
	PerDomainScores map[string]float64 `json:"per_domain_scores,omitempty"`
	TotalEvents     int                `json:"total_events"`
}

// TaskType is the closed set of detectable tasks
type TaskType string

const (
	TaskJobSearch      TaskType = "job_search"
	TaskLearning       TaskType = "learning"
	TaskSocialBrowsing TaskType = "social_browsing"
	TaskShopping       TaskType = "shopping"
	TaskEntertainment  TaskType = "entertainment"
	TaskResearch       TaskType = "research"
	TaskCommunication  TaskType = "communication"
	TaskUnknown        TaskType = "unknown"
)

// Detection methods reported in TaskDetectionResult
const (
	MethodDomainRules      = "domain_rules"
	MethodURLPatterns      = "url_patterns"
	MethodPageContent      = "page_content"
	MethodInteraction      = "interaction"
	MethodInsufficientData = "insufficient_data"
)

// TaskDetectionResult is the detector's best guess. Replaced wholesale on
// each detection - never partially updated.
type TaskDetectionResult struct {
	TaskType        TaskType `json:"task_type"`
	Confidence      float64  `json:"confidence"`
	DetectionMethod string   `json:"detection_method"`
	Evidence        []string `json:"evidence,omitempty"` // human-readable, not used in scoring
}

// Unknown returns the defined non-error result for insufficient data
func Unknown() TaskDetectionResult {
	return TaskDetectionResult{
		TaskType:        TaskUnknown,
		Confidence:      0,
		DetectionMethod: MethodInsufficientData,
	}
}

// DistractionEvent is one counted distraction occurrence
type DistractionEvent struct {
	Domain    string    `json:"domain"`
	TabID     string    `json:"tab_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStats are the running focus-session statistics
type SessionStats struct {
	FocusScore         float64            `json:"focus_score"` // 0.0-1.0 weighted composite
	FocusTime          time.Duration      `json:"focus_time"`
	DistractionCount   int                `json:"distraction_count"`
	StreakCount        int                `json:"streak_count"`
	RecentDistractions []DistractionEvent `json:"recent_distractions,omitempty"` // capped at 10
}

// SessionState is the serializable focus-session state. The session machine
// owns the only mutable copy; everyone else sees snapshots.
type SessionState struct {
	FocusModeActive bool         `json:"focus_mode_active"`
	TaskType        string       `json:"task_type,omitempty"` // user-declared, e.g. "job_application"
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"` // set when time-boxed
	Stats           SessionStats `json:"stats"`
}

// NudgeKind is the advisory message category
type NudgeKind string

const (
	NudgeReminder     NudgeKind = "reminder"
	NudgeReflection   NudgeKind = "reflection"
	NudgeSuggestion   NudgeKind = "suggestion"
	NudgeTaskReminder NudgeKind = "task_reminder"
)

// Nudge is an advisory payload for the notification sink
type Nudge struct {
	Kind        NudgeKind `json:"kind"`
	Message     string    `json:"message"`
	Domain      string    `json:"domain,omitempty"`
	TaskType    TaskType  `json:"task_type,omitempty"`
	Probability float64   `json:"probability,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FocusWindow is a daily time-of-day window during which nudging is allowed
type FocusWindow struct {
	Start string `json:"start" yaml:"start"` // "HH:MM"
	End   string `json:"end" yaml:"end"`     // "HH:MM"
}

// Preferences are user-tunable settings, persisted across restarts
type Preferences struct {
	DistractionThreshold float64       `json:"distraction_threshold" yaml:"distraction_threshold"`
	EnabledNudgeKinds    []NudgeKind   `json:"enabled_nudge_kinds" yaml:"enabled_nudge_kinds"`
	TaskNudgesEnabled    bool          `json:"task_nudges_enabled" yaml:"task_nudges_enabled"`
	FocusWindows         []FocusWindow `json:"focus_windows,omitempty" yaml:"focus_windows"`
	DailyGoalMinutes     int           `json:"daily_goal_minutes" yaml:"daily_goal_minutes"`
}

// DefaultPreferences returns the settings used before the user changes anything
func DefaultPreferences() Preferences {
	return Preferences{
		DistractionThreshold: 0.7,
		EnabledNudgeKinds:    []NudgeKind{NudgeReminder, NudgeReflection, NudgeSuggestion},
		TaskNudgesEnabled:    true,
		DailyGoalMinutes:     240,
	}
}
