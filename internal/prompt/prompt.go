// Package prompt assembles agent prompts from role templates and the
// task context held in the store.
package prompt

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Iron-Ham/debate/internal/domain"
)

const (
	none                  = "(none)"
	conversationPreviewLn = 200
)

// Build joins the role instructions and the rendered context block.
func Build(instructions string, c *Context, round int, phase string) string {
	return instructions + "\n\n---\n\n" + Render(c, round, phase)
}

// Render formats c as the context block agents receive, ending with the
// execution footer.
func Render(c *Context, round int, phase string) string {
	task := c.Task
	complexity := string(task.Complexity)
	if complexity == "" {
		complexity = string(domain.ComplexityStandard)
	}

	var b strings.Builder
	b.WriteString("\n=== TASK CONTEXT ===\n\n")
	fmt.Fprintf(&b, "TASK: %s\n", task.Slug)
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Complexity: %s\n", complexity)

	section(&b, "ORCHESTRATOR-HUMAN CONVERSATIONS", formatConversations(c.Conversations))
	section(&b, "ANSWERED QUESTIONS", formatQuestions(c.AnsweredQuestions))
	section(&b, "HUMAN DECISIONS", formatDecisions(c.Decisions))
	section(&b, "EXPLORATION FINDINGS", formatExplorations(c.Explorations))
	section(&b, "CONFLICT SUMMARY", formatConflicts(c.Conflicts))
	section(&b, "PREVIOUS ROUND ANALYSES", formatAnalyses(c.PreviousAnalyses))

	b.WriteString("\n=== END CONTEXT ===\n\n")
	fmt.Fprintf(&b, "NOW EXECUTE YOUR ANALYSIS FOR: %s (Round %d, Phase: %s)\n", task.Slug, round, phase)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "\n%s:\n%s\n", title, body)
}

func formatConversations(cs []*domain.Conversation) string {
	if len(cs) == 0 {
		return none
	}
	lines := make([]string, 0, len(cs))
	for _, c := range cs {
		lines = append(lines, fmt.Sprintf("  [%s]: %s", c.Role, truncate(c.Content, conversationPreviewLn)))
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to n runes and marks the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func formatQuestions(qs []*domain.Question) string {
	if len(qs) == 0 {
		return none
	}
	lines := make([]string, 0, len(qs))
	for _, q := range qs {
		answer := q.Answer
		if answer == "" {
			answer = "(pending)"
		}
		lines = append(lines, fmt.Sprintf("  Q: %s\n  A: %s", q.Question, answer))
	}
	return strings.Join(lines, "\n")
}

func formatDecisions(ds []*domain.Decision) string {
	if len(ds) == 0 {
		return none
	}
	lines := make([]string, 0, len(ds))
	for _, d := range ds {
		lines = append(lines, fmt.Sprintf("  %s: %s (source: %s)", d.Topic, d.Decision, d.Source))
	}
	return strings.Join(lines, "\n")
}

func formatAnalyses(as []*domain.Analysis) string {
	if len(as) == 0 {
		return none
	}
	lines := make([]string, 0, len(as))
	for _, a := range as {
		summary := a.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		lines = append(lines, fmt.Sprintf("  [%s]: %s", a.Agent, summary))
	}
	return strings.Join(lines, "\n")
}

func formatExplorations(es []*domain.Exploration) string {
	if len(es) == 0 {
		return none
	}
	blocks := make([]string, 0, len(es))
	for _, e := range es {
		blocks = append(blocks, fmt.Sprintf(
			"  Agent: %s\n  Relevant files: %s\n  Tech stack: %s\n  Patterns: %s\n  Dependencies: %s\n  Schema: %s\n  Structure: %s",
			e.Agent, compactJSON(e.RelevantFiles, "[]"), compactJSON(e.TechStack, "{}"),
			compactJSON(e.ExistingPatterns, "{}"), compactJSON(e.Dependencies, "{}"),
			e.SchemaSummary, e.DirectoryStructure))
	}
	return strings.Join(blocks, "\n")
}

func compactJSON[T any](v T, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func formatConflicts(cs []Conflict) string {
	if len(cs) == 0 {
		return none
	}
	blocks := make([]string, 0, len(cs))
	for _, c := range cs {
		positions := "  " + none
		if len(c.Positions) > 0 {
			names := make([]string, 0, len(c.Positions))
			for k := range c.Positions {
				names = append(names, k)
			}
			slices.Sort(names)
			lines := make([]string, 0, len(names))
			for _, k := range names {
				lines = append(lines, fmt.Sprintf("  - %s: %s", k, c.Positions[k]))
			}
			positions = strings.Join(lines, "\n")
		}
		blocks = append(blocks, fmt.Sprintf("  Topic: %s\n  Positions:\n%s\n  Impact: %s", c.Topic, positions, c.Impact))
	}
	return strings.Join(blocks, "\n")
}
