package nudge

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

const policyFilename = "nudge_policy.yaml"

// PolicyData is the on-disk nudge configuration: message pools per category
// and per task, plus the per-task allow-lists consulted by rule (2)
type PolicyData struct {
	Generic    map[types.NudgeKind][]string `yaml:"generic"`
	Task       map[types.TaskType][]string  `yaml:"task"`
	AllowLists map[string][]string          `yaml:"allow_lists"` // task-mode task -> domains
}

// defaultPolicyData is compiled in and used until a policy file exists
func defaultPolicyData() PolicyData {
	return PolicyData{
		Generic: map[types.NudgeKind][]string{
			types.NudgeReminder: {
				"Still on track? This doesn't look like what you set out to do.",
				"Quick check-in: is this where you meant to be right now?",
				"Your focus session is still running.",
			},
			types.NudgeReflection: {
				"What were you working on five minutes ago?",
				"Is this helping with what you planned today?",
				"Worth asking: did you come here on purpose?",
			},
			types.NudgeSuggestion: {
				"Try closing this tab and taking three deep breaths.",
				"A short walk beats a long scroll.",
				"Park this page in your reading list and come back to it later.",
			},
		},
		Task: map[types.TaskType][]string{
			types.TaskJobSearch: {
				"Back to the applications - future you says thanks.",
				"One more application beats one more feed refresh.",
			},
			types.TaskLearning: {
				"The course is still open in the other tab.",
				"Ten more focused minutes and the lesson is done.",
			},
			types.TaskResearch: {
				"The sources won't read themselves.",
				"Capture what you found before you wander off.",
			},
			types.TaskShopping: {
				"Cart can wait - was this on the list?",
			},
			types.TaskCommunication: {
				"Inbox zero is close. Finish the replies first.",
			},
		},
		AllowLists: map[string][]string{
			"job_application": {"linkedin.com", "indeed.com", "glassdoor.com", "lever.co", "greenhouse.io"},
			"job_search":      {"linkedin.com", "indeed.com", "glassdoor.com", "lever.co", "greenhouse.io"},
			"learning":        {"coursera.org", "udemy.com", "khanacademy.org", "developer.mozilla.org", "stackoverflow.com"},
			"research":        {"scholar.google.com", "arxiv.org", "wikipedia.org", "jstor.org"},
			"communication":   {"gmail.com", "outlook.com", "slack.com"},
			"writing":         {"docs.google.com", "notion.so"},
		},
	}
}

// LoadPolicyData reads nudge_policy.yaml from the state directory, falling
// back to the compiled-in defaults when the file is absent
func LoadPolicyData(statePath string) (PolicyData, error) {
	path := filepath.Join(statePath, policyFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Debug("nudge", "no %s, using built-in messages", policyFilename)
		return defaultPolicyData(), nil
	}
	if err != nil {
		return PolicyData{}, fmt.Errorf("failed to read nudge policy: %w", err)
	}

	var pd PolicyData
	if err := yaml.Unmarshal(data, &pd); err != nil {
		return PolicyData{}, fmt.Errorf("failed to parse nudge policy: %w", err)
	}

	// Partial files inherit the remaining defaults
	defaults := defaultPolicyData()
	if pd.Generic == nil {
		pd.Generic = defaults.Generic
	}
	if pd.Task == nil {
		pd.Task = defaults.Task
	}
	if pd.AllowLists == nil {
		pd.AllowLists = defaults.AllowLists
	}
	logging.Info("nudge", "loaded nudge policy from %s", policyFilename)
	return pd, nil
}
