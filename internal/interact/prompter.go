// Package interact puts the debate's human checkpoints in front of a
// person: a bubbletea prompter for terminals, a fixed prompter for scripted
// decisions and a progress printer fed from the event bus.
package interact

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Iron-Ham/debate/internal/approval"
	"github.com/Iron-Ham/debate/internal/debate"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/triage"
)

// IsInteractive reports whether both in and out are terminals.
func IsInteractive(in, out *os.File) bool {
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}

// errDismissed leaves the task at its checkpoint so it can be resumed.
var errDismissed = fmt.Errorf("%w: prompt dismissed", errors.ErrCheckpoint)

// Choice labels.
const (
	choiceFastTrack = "Fast-track"
	choiceDebate    = "Debate anyway"
	choiceProceed   = "Proceed with partial results"
	choiceCancel    = "Cancel task"
)

// TTY prompts through bubbletea programs on a terminal.
type TTY struct {
	in   io.Reader
	out  io.Writer
	opts []tea.ProgramOption
}

// NewTTY creates a TTY prompter reading in and drawing on out.
func NewTTY(in io.Reader, out io.Writer, opts ...tea.ProgramOption) *TTY {
	return &TTY{in: in, out: out, opts: opts}
}

func (p *TTY) run(ctx context.Context, model tea.Model) (tea.Model, error) {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(p.in), tea.WithOutput(p.out)}, p.opts...)
	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return final, nil
}

func (p *TTY) choose(ctx context.Context, title, body string, options []string) (string, error) {
	final, err := p.run(ctx, newChoiceModel(title, body, options))
	if err != nil {
		return "", err
	}
	m := final.(choiceModel)
	if m.aborted || m.chosen < 0 {
		return "", errDismissed
	}
	return m.options[m.chosen], nil
}

func (p *TTY) ask(ctx context.Context, title, body, placeholder string) (string, bool, error) {
	final, err := p.run(ctx, newInputModel(title, body, placeholder))
	if err != nil {
		return "", false, err
	}
	m := final.(inputModel)
	if m.aborted {
		return "", false, errDismissed
	}
	return m.value, m.skipped, nil
}

// ConfirmFastTrack implements debate.Prompter.
func (p *TTY) ConfirmFastTrack(ctx context.Context, task *domain.Task, result triage.Result) (bool, error) {
	got, err := p.choose(ctx, "Fast-track "+task.Slug+"?", FormatTriage(result), []string{choiceFastTrack, choiceDebate})
	if err != nil {
		return false, err
	}
	return got == choiceFastTrack, nil
}

// ContinueAfterFailure implements debate.Prompter.
func (p *TTY) ContinueAfterFailure(ctx context.Context, task *domain.Task, round *domain.Round) (bool, error) {
	got, err := p.choose(ctx, fmt.Sprintf("A planner failed in round %d", round.Number),
		FormatSeats(round), []string{choiceProceed, choiceCancel})
	if err != nil {
		return false, err
	}
	return got == choiceProceed, nil
}

// AnswerQuestion implements debate.Prompter.
func (p *TTY) AnswerQuestion(ctx context.Context, q *domain.Question) (string, bool, error) {
	body := q.Question
	if q.Context != "" {
		body += "\n\n" + mutedStyle.Render(q.Context)
	}
	return p.ask(ctx, "Question from "+q.Agent, body, "your answer")
}

// Decide implements debate.Prompter.
func (p *TTY) Decide(ctx context.Context, req *approval.Request) (approval.Decision, string, error) {
	options := make([]string, len(req.Options))
	for i, o := range req.Options {
		options[i] = decisionLabel(o)
	}
	title := fmt.Sprintf("Approve %s (round %d of %d)?", req.Task.Slug, req.Round, req.MaxRounds)
	got, err := p.choose(ctx, title, FormatConsensus(req), options)
	if err != nil {
		return "", "", err
	}
	decision, err := approval.ParseDecision(got)
	if err != nil {
		return "", "", err
	}
	if decision == approval.Cancel {
		return decision, "", nil
	}
	notes, _, err := p.ask(ctx, "Notes", "", "optional notes for the planners")
	if err != nil {
		return "", "", err
	}
	return decision, notes, nil
}

func decisionLabel(d approval.Decision) string {
	s := string(d)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Fixed answers the approval checkpoint with a decision made up front, as
// when a human runs the approve command. Every other prompt, and any
// approval after the first, leaves the task at its checkpoint.
type Fixed struct {
	Decision approval.Decision
	Notes    string

	used bool
}

// ConfirmFastTrack implements debate.Prompter.
func (f *Fixed) ConfirmFastTrack(ctx context.Context, task *domain.Task, result triage.Result) (bool, error) {
	return false, nil
}

// ContinueAfterFailure implements debate.Prompter.
func (f *Fixed) ContinueAfterFailure(ctx context.Context, task *domain.Task, round *domain.Round) (bool, error) {
	return false, fmt.Errorf("%w: planner failed in round %d", errors.ErrCheckpoint, round.Number)
}

// AnswerQuestion implements debate.Prompter.
func (f *Fixed) AnswerQuestion(ctx context.Context, q *domain.Question) (string, bool, error) {
	return "", false, fmt.Errorf("%w: question %s is pending", errors.ErrCheckpoint, q.ID)
}

// Decide implements debate.Prompter.
func (f *Fixed) Decide(ctx context.Context, req *approval.Request) (approval.Decision, string, error) {
	if f.used {
		return "", "", fmt.Errorf("%w: round %d awaits approval", errors.ErrCheckpoint, req.Round)
	}
	f.used = true
	return f.Decision, f.Notes, nil
}

var (
	_ debate.Prompter = (*TTY)(nil)
	_ debate.Prompter = (*Fixed)(nil)
)
