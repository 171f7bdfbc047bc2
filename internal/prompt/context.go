package prompt

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
)

// Conflict is an open disagreement between the planners.
type Conflict struct {
	Topic     string            `json:"topic"`
	Positions map[string]string `json:"positions"`
	Impact    string            `json:"impact,omitempty"`
}

// Context is everything an agent is told about a task.
type Context struct {
	Task              *domain.Task           `json:"task"`
	Conversations     []*domain.Conversation `json:"conversations"`
	AnsweredQuestions []*domain.Question     `json:"answered_questions"`
	Decisions         []*domain.Decision     `json:"decisions"`
	Explorations      []*domain.Exploration  `json:"explorations,omitempty"`
	Conflicts         []Conflict             `json:"conflicts,omitempty"`
	PreviousAnalyses  []*domain.Analysis     `json:"previous_analyses,omitempty"`
}

// Source is the read side of the store that Load draws on.
type Source interface {
	ListConversations(ctx context.Context, taskID string) ([]*domain.Conversation, error)
	ListDecisions(ctx context.Context, taskID string) ([]*domain.Decision, error)
	ListExplorations(ctx context.Context, taskID string) ([]*domain.Exploration, error)
	ListQuestions(ctx context.Context, taskID string, status domain.QuestionStatus) ([]*domain.Question, error)
	ListTaskAnalyses(ctx context.Context, taskID string) ([]*domain.Analysis, error)
	ListFindings(ctx context.Context, taskID string, round int) ([]*domain.Finding, error)
}

// LoadOptions tune Load.
type LoadOptions struct {
	// SkipExploration leaves exploration findings out, e.g. for the explorer itself.
	SkipExploration bool
}

// Load gathers the context for round of task. Analyses and disputed
// findings come only from earlier rounds.
func Load(ctx context.Context, src Source, task *domain.Task, round int, opts LoadOptions) (*Context, error) {
	c := &Context{Task: task}
	var err error

	if c.Conversations, err = src.ListConversations(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if c.Decisions, err = src.ListDecisions(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	if !opts.SkipExploration {
		if c.Explorations, err = src.ListExplorations(ctx, task.ID); err != nil {
			return nil, fmt.Errorf("load explorations: %w", err)
		}
	}
	if c.AnsweredQuestions, err = src.ListQuestions(ctx, task.ID, domain.QuestionAnswered); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	if round <= 1 {
		return c, nil
	}

	all, err := src.ListTaskAnalyses(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	for _, a := range all {
		if a.RoundNumber < round {
			c.PreviousAnalyses = append(c.PreviousAnalyses, a)
		}
	}
	slices.SortStableFunc(c.PreviousAnalyses, func(a, b *domain.Analysis) int {
		if a.RoundNumber != b.RoundNumber {
			return a.RoundNumber - b.RoundNumber
		}
		return strings.Compare(a.Agent, b.Agent)
	})

	for r := 1; r < round; r++ {
		findings, err := src.ListFindings(ctx, task.ID, r)
		if err != nil {
			return nil, fmt.Errorf("load findings for round %d: %w", r, err)
		}
		c.Conflicts = append(c.Conflicts, Conflicts(findings)...)
	}
	return c, nil
}

// Conflicts turns disputed findings into conflicts: the finding's author
// holds the finding, each disputer holds the dispute reason.
func Conflicts(findings []*domain.Finding) []Conflict {
	var out []Conflict
	for _, f := range findings {
		if len(f.DisputedBy) == 0 {
			continue
		}
		topic := f.Finding
		if f.FilePath != "" {
			topic = fmt.Sprintf("%s (%s)", f.Finding, f.FilePath)
		}
		positions := map[string]string{f.Agent: f.Finding}
		for _, by := range f.DisputedBy {
			reason := f.DisputeReason
			if reason == "" {
				reason = "disputed"
			}
			positions[by] = reason
		}
		out = append(out, Conflict{Topic: topic, Positions: positions, Impact: f.Severity})
	}
	return out
}
