package effectors

import (
	"sync"

	"driftwatch/internal/types"
)

// TestSink records everything it receives, for tests. Function fields can
// override behavior per-call (e.g. to inject delivery failures).
type TestSink struct {
	mu      sync.Mutex
	Nudges  []types.Nudge
	Tasks   []types.TaskDetectionResult
	Endings []string

	ShowNudgeFunc      func(n types.Nudge) error
	TaskDetectedFunc   func(r types.TaskDetectionResult) error
	FocusModeEndedFunc func(message string) error
}

func NewTestSink() *TestSink { return &TestSink{} }

func (s *TestSink) ShowNudge(n types.Nudge) error {
	s.mu.Lock()
	s.Nudges = append(s.Nudges, n)
	s.mu.Unlock()
	if s.ShowNudgeFunc != nil {
		return s.ShowNudgeFunc(n)
	}
	return nil
}

func (s *TestSink) TaskDetected(r types.TaskDetectionResult) error {
	s.mu.Lock()
	s.Tasks = append(s.Tasks, r)
	s.mu.Unlock()
	if s.TaskDetectedFunc != nil {
		return s.TaskDetectedFunc(r)
	}
	return nil
}

func (s *TestSink) FocusModeEnded(message string) error {
	s.mu.Lock()
	s.Endings = append(s.Endings, message)
	s.mu.Unlock()
	if s.FocusModeEndedFunc != nil {
		return s.FocusModeEndedFunc(message)
	}
	return nil
}

// NudgeCount returns how many nudges were delivered
func (s *TestSink) NudgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Nudges)
}
