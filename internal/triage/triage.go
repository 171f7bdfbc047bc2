// Package triage classifies a task request as trivial, standard or complex
// with keyword and scope heuristics.
package triage

import (
	"math"
	"regexp"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
)

// Recommended actions.
const (
	ActionFastTrack      = "fast_track"
	ActionDebate         = "debate"
	ActionExtendedDebate = "extended_debate"
)

// Reasons a classification may carry.
const (
	ReasonTrivialKeywords = "trivial_keywords"
	ReasonComplexKeywords = "complex_keywords"
	ReasonSingleFileScope = "single_file_scope"
	ReasonMultiFileScope  = "multi_file_scope"
)

// DefaultHistoryWeight is the weight of the historical-similarity score.
const DefaultHistoryWeight = 0.3

// historyPlaceholder is the historical-similarity score used until task
// history is mined.
const historyPlaceholder = 0.5

var trivialKeywords = []string{
	"typo", "typos", "spelling", "rename", "comment", "documentation", "readme", "docs", "todo",
	"remove unused", "delete unused", "cleanup", "update version", "bump version",
}

var complexKeywords = []string{
	"architecture", "refactor", "security", "authentication", "authorization", "database schema",
	"migration", "performance", "scalability", "api redesign", "breaking change", "major version",
}

var singleFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`in (\w+\.\w+)`),
	regexp.MustCompile(`file (\w+\.\w+)`),
	regexp.MustCompile(`^fix (\w+)`),
}

var multiFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`across (?:all|the|multiple)`),
	regexp.MustCompile(`throughout`),
	regexp.MustCompile(`everywhere`),
	regexp.MustCompile(`all (\w+) files`),
}

// Result is a triage classification.
type Result struct {
	Complexity           domain.Complexity `json:"complexity"`
	Confidence           float64           `json:"confidence"`
	Score                float64           `json:"score"`
	Reasons              []string          `json:"reasons"`
	RecommendedAction    string            `json:"recommended_action"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// Triager classifies requests. The zero value is not usable; call New.
type Triager struct {
	historyWeight float64
}

// New creates a Triager. historyWeight is clamped to [0, 0.3].
func New(historyWeight float64) *Triager {
	return &Triager{historyWeight: math.Max(0, math.Min(0.3, historyWeight))}
}

// Classify scores the task title together with everything the human said
// about it.
func (t *Triager) Classify(title string, humanMessages []string) Result {
	text := strings.ToLower(strings.Join(append([]string{title}, humanMessages...), " "))

	keyword := keywordScore(text)
	scope := scopeScore(text)
	history := historyPlaceholder

	final := 0.4*keyword + 0.3*scope + t.historyWeight*history + (0.3-t.historyWeight)*0.5

	var reasons []string
	if keyword < 0.3 {
		reasons = append(reasons, ReasonTrivialKeywords)
	}
	if keyword > 0.7 {
		reasons = append(reasons, ReasonComplexKeywords)
	}
	if scope < 0.3 {
		reasons = append(reasons, ReasonSingleFileScope)
	}
	if scope > 0.7 {
		reasons = append(reasons, ReasonMultiFileScope)
	}

	complexity := domain.ComplexityStandard
	action := ActionDebate
	switch {
	case final <= 0.3:
		complexity, action = domain.ComplexityTrivial, ActionFastTrack
	case final >= 0.7:
		complexity, action = domain.ComplexityComplex, ActionExtendedDebate
	}

	spread := math.Max(keyword, math.Max(scope, history)) - math.Min(keyword, math.Min(scope, history))
	confidence := math.Max(0, math.Min(1, 1-spread))

	return Result{
		Complexity:        complexity,
		Confidence:        confidence,
		Score:             final,
		Reasons:           reasons,
		RecommendedAction: action,
		RequiresConfirmation: confidence < 0.7 ||
			(complexity == domain.ComplexityTrivial && strings.Contains(text, "security")),
	}
}

func keywordScore(text string) float64 {
	trivial := countContained(text, trivialKeywords)
	complex := countContained(text, complexKeywords)
	switch {
	case trivial > 0 && complex == 0:
		return 0.1
	case complex > 0 && trivial == 0:
		return 0.9
	case complex > trivial:
		return 0.7
	case trivial > complex:
		return 0.3
	}
	return 0.5
}

func scopeScore(text string) float64 {
	for _, re := range multiFilePatterns {
		if re.MatchString(text) {
			return 0.9
		}
	}
	for _, re := range singleFilePatterns {
		if re.MatchString(text) {
			return 0.2
		}
	}
	return 0.5
}

func countContained(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
