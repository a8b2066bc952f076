package effectors

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// DiscordSink delivers nudges and session notifications to a Discord channel
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordSink opens a Discord session for the given bot token and channel
func NewDiscordSink(token, channelID string) (*DiscordSink, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord sink requires token and channel id")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord session: %w", err)
	}

	logging.Info("discord-sink", "connected, delivering to channel %s", channelID)
	return &DiscordSink{session: session, channelID: channelID}, nil
}

// Close shuts down the Discord session
func (s *DiscordSink) Close() error {
	return s.session.Close()
}

func (s *DiscordSink) ShowNudge(n types.Nudge) error {
	var header string
	switch n.Kind {
	case types.NudgeReminder:
		header = "Reminder"
	case types.NudgeReflection:
		header = "Worth a thought"
	case types.NudgeSuggestion:
		header = "Suggestion"
	case types.NudgeTaskReminder:
		header = "Back to it"
	default:
		header = "Heads up"
	}

	msg := fmt.Sprintf("**%s** - %s", header, n.Message)
	if n.Domain != "" {
		msg += fmt.Sprintf("\n-# %s", n.Domain)
	}
	_, err := s.session.ChannelMessageSend(s.channelID, msg)
	return err
}

func (s *DiscordSink) TaskDetected(r types.TaskDetectionResult) error {
	msg := fmt.Sprintf("Looks like you're doing some **%s** (confidence %.0f%%). Want to start a focus session?",
		r.TaskType, r.Confidence*100)
	_, err := s.session.ChannelMessageSend(s.channelID, msg)
	return err
}

func (s *DiscordSink) FocusModeEnded(message string) error {
	_, err := s.session.ChannelMessageSend(s.channelID, message)
	return err
}
