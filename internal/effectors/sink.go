package effectors

import (
	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Sink delivers structured payloads to the user-facing surface. Delivery
// failures are transient: the caller logs and moves on, the next emission
// retries naturally.
type Sink interface {
	ShowNudge(n types.Nudge) error
	TaskDetected(r types.TaskDetectionResult) error
	FocusModeEnded(message string) error
}

// LogSink is the fallback sink when no outbound surface is configured
type LogSink struct{}

// NewLogSink creates a sink that only logs
func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) ShowNudge(n types.Nudge) error {
	logging.Info("nudge-sink", "[%s] %s (domain: %s)", n.Kind, logging.Truncate(n.Message, 120), n.Domain)
	return nil
}

func (s *LogSink) TaskDetected(r types.TaskDetectionResult) error {
	logging.Info("nudge-sink", "task detected: %s (%.2f via %s)", r.TaskType, r.Confidence, r.DetectionMethod)
	return nil
}

func (s *LogSink) FocusModeEnded(message string) error {
	logging.Info("nudge-sink", "focus mode ended: %s", message)
	return nil
}
