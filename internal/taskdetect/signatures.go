package taskdetect

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

const signaturesFilename = "task_signatures.yaml"

// DomainRule is a hand-authored per-domain task signature. Confidence is the
// sum of a flat presence bonus plus weighted match ratios for URLs, sampled
// page content, and click targets on that domain.
type DomainRule struct {
	Domain          string         `yaml:"domain"`
	Task            types.TaskType `yaml:"task"`
	URLPatterns     []string       `yaml:"url_patterns"`
	ContentKeywords []string       `yaml:"content_keywords"`
	ClickKeywords   []string       `yaml:"click_keywords"`
	PresenceBonus   float64        `yaml:"presence_bonus"`
	URLWeight       float64        `yaml:"url_weight"`
	ContentWeight   float64        `yaml:"content_weight"`
	ClickWeight     float64        `yaml:"click_weight"`
}

// TaskSignature holds the per-task pattern sets used by the generic
// URL/content/interaction extractors
type TaskSignature struct {
	Task            types.TaskType `yaml:"task"`
	URLPatterns     []string       `yaml:"url_patterns"`
	ContentKeywords []string       `yaml:"content_keywords"`
	ActionKeywords  []string       `yaml:"action_keywords"`
}

// SignatureSet is the on-disk shape of task_signatures.yaml
type SignatureSet struct {
	DomainRules []DomainRule    `yaml:"domain_rules"`
	Tasks       []TaskSignature `yaml:"tasks"`
}

// defaultSignatures are compiled in and used until a signatures file exists
func defaultSignatures() SignatureSet {
	return SignatureSet{
		DomainRules: []DomainRule{
			{
				Domain: "linkedin.com",
				Task:   types.TaskJobSearch,
				URLPatterns: []string{
					"/jobs", "/job/", "/jobs/search", "/jobs/view", "/jobs/collections",
				},
				ContentKeywords: []string{
					"apply", "job description", "qualifications", "responsibilities",
					"salary", "full-time", "remote", "hiring", "easy apply",
				},
				ClickKeywords: []string{
					"apply", "easy apply", "save job", "submit application",
				},
				PresenceBonus: 0.2,
				URLWeight:     0.3,
				ContentWeight: 0.25,
				ClickWeight:   0.25,
			},
			{
				Domain: "indeed.com",
				Task:   types.TaskJobSearch,
				URLPatterns: []string{
					"/jobs", "/viewjob", "/q-", "/cmp/",
				},
				ContentKeywords: []string{
					"apply now", "job description", "qualifications", "benefits",
					"salary", "urgently hiring",
				},
				ClickKeywords: []string{
					"apply now", "apply", "save", "easily apply",
				},
				PresenceBonus: 0.2,
				URLWeight:     0.3,
				ContentWeight: 0.25,
				ClickWeight:   0.25,
			},
		},
		Tasks: []TaskSignature{
			{
				Task:            types.TaskJobSearch,
				URLPatterns:     []string{"/jobs", "/careers", "/job/", "/apply", "/vacancies", "/positions"},
				ContentKeywords: []string{"job", "career", "apply", "resume", "cv", "interview", "salary", "hiring", "position", "recruiter"},
				ActionKeywords:  []string{"apply", "submit application", "upload resume", "save job"},
			},
			{
				Task:            types.TaskLearning,
				URLPatterns:     []string{"/course", "/learn", "/tutorial", "/lesson", "/docs", "/documentation"},
				ContentKeywords: []string{"course", "lesson", "tutorial", "exercise", "chapter", "quiz", "certificate", "syllabus", "documentation"},
				ActionKeywords:  []string{"enroll", "start lesson", "next lesson", "mark complete", "run code"},
			},
			{
				Task:            types.TaskSocialBrowsing,
				URLPatterns:     []string{"/feed", "/home", "/explore", "/friends", "/followers", "/status/"},
				ContentKeywords: []string{"like", "share", "comment", "follow", "trending", "retweet", "story", "post"},
				ActionKeywords:  []string{"like", "share", "follow", "comment", "retweet"},
			},
			{
				Task:            types.TaskShopping,
				URLPatterns:     []string{"/cart", "/checkout", "/product", "/dp/", "/buy", "/order", "/wishlist"},
				ContentKeywords: []string{"price", "cart", "checkout", "shipping", "discount", "reviews", "add to cart", "in stock", "deal"},
				ActionKeywords:  []string{"add to cart", "buy now", "checkout", "place order", "add to wishlist"},
			},
			{
				Task:            types.TaskEntertainment,
				URLPatterns:     []string{"/watch", "/video", "/playlist", "/movie", "/episode", "/stream"},
				ContentKeywords: []string{"watch", "episode", "season", "trailer", "subscribe", "playlist", "live", "stream"},
				ActionKeywords:  []string{"play", "subscribe", "add to queue", "next episode"},
			},
			{
				Task:            types.TaskResearch,
				URLPatterns:     []string{"/search", "/wiki/", "/paper", "/article", "/abs/", "/pdf"},
				ContentKeywords: []string{"abstract", "references", "study", "analysis", "methodology", "results", "conclusion", "citation"},
				ActionKeywords:  []string{"download pdf", "cite", "view references", "search"},
			},
			{
				Task:            types.TaskCommunication,
				URLPatterns:     []string{"/mail", "/inbox", "/messages", "/chat", "/compose", "/channels"},
				ContentKeywords: []string{"inbox", "compose", "reply", "message", "unread", "sent", "draft", "meeting"},
				ActionKeywords:  []string{"send", "reply", "compose", "forward", "schedule"},
			},
		},
	}
}

// LoadSignatures reads task_signatures.yaml from the state directory,
// falling back to the compiled-in defaults when the file is absent. A file
// that exists but fails to parse is an error; silently reverting to defaults
// would mask a user's broken edit.
func LoadSignatures(statePath string) (SignatureSet, error) {
	path := filepath.Join(statePath, signaturesFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Debug("taskdetect", "no %s, using built-in signatures", signaturesFilename)
		return defaultSignatures(), nil
	}
	if err != nil {
		return SignatureSet{}, fmt.Errorf("failed to read signatures: %w", err)
	}

	var set SignatureSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return SignatureSet{}, fmt.Errorf("failed to parse signatures: %w", err)
	}

	// Fill in defaults for omitted weights so hand-edited files stay short
	for i := range set.DomainRules {
		r := &set.DomainRules[i]
		if r.PresenceBonus == 0 {
			r.PresenceBonus = 0.2
		}
		if r.URLWeight == 0 {
			r.URLWeight = 0.3
		}
		if r.ContentWeight == 0 {
			r.ContentWeight = 0.25
		}
		if r.ClickWeight == 0 {
			r.ClickWeight = 0.25
		}
	}

	logging.Info("taskdetect", "loaded %d domain rules, %d task signatures from %s",
		len(set.DomainRules), len(set.Tasks), signaturesFilename)
	return set, nil
}
