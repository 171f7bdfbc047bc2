// Package consensus scores how far two planners agree after a debate round.
//
// Five factors are each scored 0-100 and combined with fixed weights:
//
//	total = 0.15*category + 0.25*file_path + 0.15*severity + 0.25*semantic + 0.20*explicit
//
// The raw total gates the approval threshold; [Breakdown.Rounded] gives the
// two-decimal values that are persisted.
package consensus

import (
	"context"
	"math"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/logging"
)

// Factor weights. They sum to 1.
const (
	WeightCategory = 0.15
	WeightFilePath = 0.25
	WeightSeverity = 0.15
	WeightSemantic = 0.25
	WeightExplicit = 0.20
)

// neutralScore is used for the explicit factor when there is no
// cross-reference history to judge.
const neutralScore = 50.0

var severityWeights = map[string]int{
	domain.SeverityCritical: 4,
	domain.SeverityHigh:     3,
	domain.SeverityMedium:   2,
	domain.SeverityLow:      1,
	domain.SeverityInfo:     0,
}

// Semantic methods reported in a Breakdown.
const (
	MethodEmbedding = "embedding"
	MethodTokens    = "tokens"
	MethodTrivial   = "trivial"
)

// Side is one planner's output for a round.
type Side struct {
	Findings        []*domain.Finding
	Recommendations []string
	// Aliases are the names the other planner may use in agreed_by and
	// disputed_by when referring to this side.
	Aliases []string
}

// Input is the material for one round's calculation.
type Input struct {
	Round     int
	Primary   Side
	Secondary Side
}

// Breakdown holds the five raw factor scores.
type Breakdown struct {
	Category       float64 `json:"category"`
	FilePath       float64 `json:"file_path"`
	Severity       float64 `json:"severity"`
	Semantic       float64 `json:"semantic"`
	Explicit       float64 `json:"explicit"`
	SemanticMethod string  `json:"semantic_method"`
}

// Total returns the unrounded weighted total.
func (b Breakdown) Total() float64 {
	return WeightCategory*b.Category +
		WeightFilePath*b.FilePath +
		WeightSeverity*b.Severity +
		WeightSemantic*b.Semantic +
		WeightExplicit*b.Explicit
}

// Rounded returns every factor and the weighted total rounded to two
// decimals, keyed as persisted on the round.
func (b Breakdown) Rounded() map[string]float64 {
	return map[string]float64{
		"category":       round2(b.Category),
		"file_path":      round2(b.FilePath),
		"severity":       round2(b.Severity),
		"semantic":       round2(b.Semantic),
		"explicit":       round2(b.Explicit),
		"weighted_total": round2(b.Total()),
	}
}

// MeetsThreshold reports whether the raw total reaches threshold.
func (b Breakdown) MeetsThreshold(threshold float64) bool {
	return b.Total() >= threshold
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculator computes a Breakdown. It is safe for concurrent use.
type Calculator struct {
	embedder Embedder
	logger   *logging.Logger
}

// NewCalculator creates a Calculator. embedder may be nil, in which case
// semantic similarity always uses token overlap.
func NewCalculator(embedder Embedder, logger *logging.Logger) *Calculator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Calculator{embedder: embedder, logger: logger}
}

// Calculate scores the round.
func (c *Calculator) Calculate(ctx context.Context, in Input) Breakdown {
	b := Breakdown{
		Category: categoryScore(in.Primary.Findings, in.Secondary.Findings),
		FilePath: filePathScore(in.Primary.Findings, in.Secondary.Findings),
		Severity: severityScore(in.Primary.Findings, in.Secondary.Findings),
		Explicit: explicitScore(in),
	}
	b.Semantic, b.SemanticMethod = c.semanticScore(ctx, in.Primary.Recommendations, in.Secondary.Recommendations)
	return b
}

func categoryScore(a, b []*domain.Finding) float64 {
	setA := collect(a, func(f *domain.Finding) string { return f.Category })
	setB := collect(b, func(f *domain.Finding) string { return f.Category })
	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	return jaccard(setA, setB) * 100
}

func filePathScore(a, b []*domain.Finding) float64 {
	filesA := collect(a, func(f *domain.Finding) string { return f.FilePath })
	filesB := collect(b, func(f *domain.Finding) string { return f.FilePath })
	if len(filesA) == 0 && len(filesB) == 0 {
		return 100
	}
	if len(filesA) == 0 || len(filesB) == 0 {
		return 0
	}

	totalUnique := len(union(filesA, filesB))
	exact := intersection(filesA, filesB)
	exactScore := float64(len(exact)) / float64(totalUnique)

	dirsA := make(map[string]bool)
	for f := range filesA {
		if !exact[f] {
			dirsA[directory(f)] = true
		}
	}
	dirsB := make(map[string]bool)
	for f := range filesB {
		if !exact[f] {
			dirsB[directory(f)] = true
		}
	}
	dirScore := float64(len(intersection(dirsA, dirsB))) / float64(totalUnique) * 0.5

	return (exactScore + dirScore) * 100
}

// directory returns the path without its final segment, "" for a bare name.
func directory(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func severityScore(a, b []*domain.Finding) float64 {
	distA, distB := severityDistribution(a), severityDistribution(b)

	var diff, sum int
	for sev, w := range severityWeights {
		ca, cb := distA[sev], distB[sev]
		d := ca - cb
		if d < 0 {
			d = -d
		}
		diff += d * (w + 1)
		sum += (ca + cb) * (w + 1)
	}
	if sum == 0 {
		return 100
	}
	return (1 - float64(diff)/float64(sum)) * 100
}

func severityDistribution(findings []*domain.Finding) map[string]int {
	dist := make(map[string]int, len(severityWeights))
	for _, f := range findings {
		sev := strings.ToLower(f.Severity)
		if _, ok := severityWeights[sev]; ok {
			dist[sev]++
		}
	}
	return dist
}

func (c *Calculator) semanticScore(ctx context.Context, a, b []string) (float64, string) {
	if len(a) == 0 && len(b) == 0 {
		return 100, MethodTrivial
	}
	if len(a) == 0 || len(b) == 0 {
		return 0, MethodTrivial
	}

	if c.embedder != nil {
		score, err := embeddingSimilarity(ctx, c.embedder, a, b)
		if err == nil {
			return score, MethodEmbedding
		}
		c.logger.Warn("embedding similarity failed, using token overlap", "error", err.Error())
	}
	return tokenSimilarity(a, b), MethodTokens
}

func tokenSimilarity(a, b []string) float64 {
	tokA, tokB := tokenize(a), tokenize(b)
	if len(tokA) == 0 && len(tokB) == 0 {
		return 100
	}
	u := union(tokA, tokB)
	if len(u) == 0 {
		return 0
	}
	return float64(len(intersection(tokA, tokB))) / float64(len(u)) * 100
}

func tokenize(texts []string) map[string]bool {
	words := make(map[string]bool)
	for _, t := range texts {
		for _, w := range strings.Fields(strings.ToLower(t)) {
			words[w] = true
		}
	}
	return words
}

// explicitScore counts cross-references in both directions: the primary's
// findings referenced by the secondary and the other way round.
func explicitScore(in Input) float64 {
	if in.Round < 2 {
		return neutralScore
	}

	var agreements, total int
	tally := func(findings []*domain.Finding, otherAliases []string) {
		for _, f := range findings {
			if containsAny(f.AgreedBy, otherAliases) {
				agreements++
				total++
			}
			if containsAny(f.DisputedBy, otherAliases) {
				total++
			}
		}
	}
	tally(in.Primary.Findings, in.Secondary.Aliases)
	tally(in.Secondary.Findings, in.Primary.Aliases)

	if total == 0 {
		return neutralScore
	}
	return float64(agreements) / float64(total) * 100
}

func containsAny(list, names []string) bool {
	for _, v := range list {
		for _, n := range names {
			if strings.EqualFold(v, n) {
				return true
			}
		}
	}
	return false
}

func collect(findings []*domain.Finding, key func(*domain.Finding) string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range findings {
		if v := key(f); v != "" {
			set[v] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	u := union(a, b)
	if len(u) == 0 {
		return 1
	}
	return float64(len(intersection(a, b))) / float64(len(u))
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func intersection(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
