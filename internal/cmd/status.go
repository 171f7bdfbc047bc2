package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/interact"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status <slug>",
	Short: "Show a task with its rounds, questions and consensus",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks, newest first.

--match filters slugs with a glob, e.g. 'auth-*' or '*-{cache,redis}-*'.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var historyCmd = &cobra.Command{
	Use:   "history <slug>",
	Short: "Show the execution journal of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var (
	statusFormat  string
	listStatus    string
	listMatch     string
	listFormat    string
	historyLimit  int
	historyFormat string
)

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", formatText, "Output format: text, json or yaml")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only tasks with this status")
	listCmd.Flags().StringVar(&listMatch, "match", "", "Only tasks whose slug matches this glob")
	listCmd.Flags().StringVar(&listFormat, "format", formatText, "Output format: text, json or yaml")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the last N entries (0 for all)")
	historyCmd.Flags().StringVar(&historyFormat, "format", formatText, "Output format: text, json or yaml")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
}

// taskReport is everything status shows about a task.
type taskReport struct {
	Task         *domain.Task         `json:"task"`
	Rounds       []*domain.Round      `json:"rounds"`
	Questions    []*domain.Question   `json:"questions"`
	Consensus    *domain.Consensus    `json:"consensus,omitempty"`
	Progress     *domain.ImplProgress `json:"implementation,omitempty"`
	Verification *domain.Verification `json:"verification,omitempty"`
	Costs        []*domain.CostEntry  `json:"costs,omitempty"`
}

func loadReport(ctx context.Context, st *store.Store, slug string) (*taskReport, error) {
	task, err := st.GetTaskBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	r := &taskReport{Task: task}
	if r.Rounds, err = st.ListRounds(ctx, task.ID); err != nil {
		return nil, err
	}
	if r.Questions, err = st.ListQuestions(ctx, task.ID, ""); err != nil {
		return nil, err
	}
	if r.Costs, err = st.ListCosts(ctx, task.ID); err != nil {
		return nil, err
	}

	c, err := st.LatestConsensus(ctx, task.ID)
	switch {
	case err == nil:
		r.Consensus = c
	case !errors.Is(err, errors.ErrNoConsensus):
		return nil, err
	}

	progress, err := st.ImplProgress(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if progress.Total > 0 {
		r.Progress = &progress
	}

	v, err := st.LatestVerification(ctx, task.ID)
	switch {
	case err == nil:
		r.Verification = v
	case !errors.Is(err, &errors.NotFoundError{}):
		return nil, err
	}
	return r, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkFormat(statusFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		report, err := loadReport(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, statusFormat, report); ok {
			return err
		}
		printReport(out, report, time.Now())
		return nil
	})
}

func printReport(out io.Writer, r *taskReport, now time.Time) {
	t := r.Task
	fmt.Fprintln(out, headerStyle.Render(t.Title))
	field(out, "Slug", t.Slug)
	field(out, "Status", statusStyle(t.Status))
	if t.ErrorMessage != "" {
		field(out, "Reason", t.ErrorMessage)
	}
	field(out, "Round", fmt.Sprintf("%d of %d", t.CurrentRound, t.MaxRounds))
	if t.Complexity != "" {
		field(out, "Complexity", string(t.Complexity))
	}
	if t.SkipDebate {
		field(out, "Fast-track", "yes")
	}
	field(out, "Cost", fmt.Sprintf("%s (%s tokens)", util.FormatCost(t.TotalCost), util.FormatTokens(t.TotalTokens)))
	field(out, "Updated", util.FormatAge(t.UpdatedAt, now))

	if len(r.Rounds) > 0 {
		section(out, "Rounds")
		for _, round := range r.Rounds {
			rate := "-"
			if round.AgreementRate != nil {
				rate = util.FormatPercent(*round.AgreementRate)
			}
			fmt.Fprintf(out, "Round %d  %s  agreement %s\n", round.Number, round.Status, rate)
			fmt.Fprintln(out, interact.FormatSeats(round))
		}
	}

	pending := 0
	for _, q := range r.Questions {
		if q.Status == domain.QuestionPending {
			pending++
		}
	}
	if len(r.Questions) > 0 {
		section(out, "Questions")
		fmt.Fprintf(out, "%d asked, %d pending\n", len(r.Questions), pending)
	}

	if r.Consensus != nil {
		section(out, "Consensus")
		c := r.Consensus
		field(out, "Agreement", util.FormatPercent(c.AgreementRate))
		field(out, "Round", strconv.Itoa(c.FinalRound))
		field(out, "Summary", c.Summary)
		if c.HumanApproved {
			field(out, "Approved", util.FormatAge(*c.ApprovedAt, now))
		}
		if c.HumanNotes != "" {
			field(out, "Notes", c.HumanNotes)
		}
		for _, item := range c.AgreedItems {
			fmt.Fprintln(out, util.TruncateANSI("  • "+item, 100))
		}
	}

	if r.Progress != nil {
		section(out, "Implementation")
		p := r.Progress
		fmt.Fprintf(out, "%d/%d completed (%s), %d in progress, %d failed\n",
			p.Completed, p.Total, util.FormatPercent(p.Percent()), p.InProgress, p.Failed)
	}

	if r.Verification != nil {
		section(out, "Verification")
		field(out, "Result", verificationStyle(r.Verification.Status))
		field(out, "Diff", fmt.Sprintf("%d files, +%d -%d",
			len(r.Verification.FilesChanged), r.Verification.LinesAdded, r.Verification.LinesRemoved))
	}
}

func runList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(listFormat); err != nil {
		return err
	}
	var matcher glob.Glob
	if listMatch != "" {
		g, err := glob.Compile(listMatch, '-')
		if err != nil {
			return errors.NewValidationError("invalid --match pattern").WithField("match").WithValue(listMatch).WithCause(err)
		}
		matcher = g
	}

	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		tasks, err := a.store.ListTasks(ctx, domain.TaskStatus(listStatus))
		if err != nil {
			return err
		}
		tasks = filterTasks(tasks, matcher)

		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, listFormat, tasks); ok {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}
		now := time.Now()
		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, []string{
				t.Slug,
				statusStyle(t.Status),
				fmt.Sprintf("%d/%d", t.CurrentRound, t.MaxRounds),
				string(t.Complexity),
				util.FormatCost(t.TotalCost),
				util.FormatAge(t.UpdatedAt, now),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"SLUG", "STATUS", "ROUND", "COMPLEXITY", "COST", "UPDATED"}, rows))
		return nil
	})
}

// filterTasks keeps the tasks whose slug matches g. A nil g keeps all.
func filterTasks(tasks []*domain.Task, g glob.Glob) []*domain.Task {
	if g == nil {
		return tasks
	}
	kept := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if g.Match(t.Slug) {
			kept = append(kept, t)
		}
	}
	return kept
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		entries, err := a.store.ListLog(ctx, task.ID, historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, historyFormat, entries); ok {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s %-14s %-24s", labelStyle.Render(e.CreatedAt.Format("15:04:05")), e.Phase, e.Event)
			if e.Agent != "" {
				line += " " + e.Agent
			}
			if e.Message != "" {
				line += " " + labelStyle.Render(util.FirstLine(e.Message))
			}
			if e.DurationMs > 0 {
				line += " " + util.FormatDuration(time.Duration(e.DurationMs)*time.Millisecond)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	})
}

func verificationStyle(s domain.VerificationStatus) string {
	switch s {
	case domain.VerificationPassed:
		return okStyle.Render(string(s))
	case domain.VerificationFailed:
		return failStyle.Render(string(s))
	}
	return warnStyle.Render(string(s))
}
