package consensus

import (
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
)

// BuildInput splits a round's analyses and findings between the two seats.
// A row belongs to a seat when its agent is the seat name or one of the
// seat's aliases (for example the agent value it ran as). An alias both
// seats share, as when one agent fills both, identifies neither.
func BuildInput(round int, analyses []*domain.Analysis, findings []*domain.Finding, aliases map[domain.Participant][]string) Input {
	shared := make(map[string]bool)
	for _, a := range aliases[domain.PlannerPrimary] {
		if matches(a, aliases[domain.PlannerSecondary]) {
			shared[strings.ToLower(a)] = true
		}
	}
	names := func(p domain.Participant) []string {
		out := []string{string(p)}
		for _, a := range aliases[p] {
			if !shared[strings.ToLower(a)] {
				out = append(out, a)
			}
		}
		return out
	}
	side := func(p domain.Participant) Side {
		s := Side{Aliases: names(p)}
		for _, f := range findings {
			if matches(f.Agent, s.Aliases) {
				s.Findings = append(s.Findings, f)
			}
		}
		for _, a := range analyses {
			if matches(a.Agent, s.Aliases) && a.Status == domain.AnalysisCompleted {
				s.Recommendations = append(s.Recommendations, a.Recommendations...)
			}
		}
		return s
	}
	return Input{
		Round:     round,
		Primary:   side(domain.PlannerPrimary),
		Secondary: side(domain.PlannerSecondary),
	}
}

func matches(agent string, names []string) bool {
	for _, n := range names {
		if n != "" && strings.EqualFold(agent, n) {
			return true
		}
	}
	return false
}

// AgreedItems returns up to limit recommendations from the analyses in
// order, dropping exact duplicates.
func AgreedItems(analyses []*domain.Analysis, limit int) []string {
	seen := make(map[string]bool)
	items := make([]string, 0, limit)
	for _, a := range analyses {
		for _, r := range a.Recommendations {
			r = strings.TrimSpace(r)
			if r == "" || seen[r] {
				continue
			}
			seen[r] = true
			items = append(items, r)
			if len(items) >= limit {
				return items
			}
		}
	}
	return items
}
