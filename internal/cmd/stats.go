package cmd

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/cost"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/util"
)

var statsCmd = &cobra.Command{
	Use:   "stats [slug]",
	Short: "Show token usage and cost statistics",
	Long: `Display token usage and estimated cost recorded for agent calls.

With a slug, shows that task broken down by agent and model. Without one,
totals every task and lists the most expensive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

var (
	statsFormat string
	statsTop    int
)

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", formatText, "Output format: text, json or yaml")
	statsCmd.Flags().IntVarP(&statsTop, "top", "n", 10, "Number of tasks to list when no slug is given")
	rootCmd.AddCommand(statsCmd)
}

// taskUsage is one row of the all-tasks report.
type taskUsage struct {
	Slug   string            `json:"slug"`
	Status domain.TaskStatus `json:"status"`
	Usage  cost.Usage        `json:"usage"`
}

type statsReport struct {
	Task    string       `json:"task,omitempty"`
	Summary cost.Summary `json:"summary"`
	Tasks   []taskUsage  `json:"tasks,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := checkFormat(statsFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		var tasks []*domain.Task
		if len(args) == 1 {
			task, err := a.store.GetTaskBySlug(ctx, args[0])
			if err != nil {
				return err
			}
			tasks = []*domain.Task{task}
		} else {
			all, err := a.store.ListTasks(ctx, "")
			if err != nil {
				return err
			}
			tasks = all
		}

		var (
			all    []*domain.CostEntry
			report statsReport
		)
		for _, t := range tasks {
			entries, err := a.store.ListCosts(ctx, t.ID)
			if err != nil {
				return err
			}
			all = append(all, entries...)
			if len(args) == 0 && len(entries) > 0 {
				report.Tasks = append(report.Tasks, taskUsage{
					Slug:   t.Slug,
					Status: t.Status,
					Usage:  cost.Summarize(entries).Total,
				})
			}
		}
		report.Summary = cost.Summarize(all)
		if len(args) == 1 {
			report.Task = tasks[0].Slug
		}
		report.Tasks = topTasks(report.Tasks, statsTop)

		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, statsFormat, report); ok {
			return err
		}
		printStats(out, &report)
		return nil
	})
}

// topTasks orders rows by cost, most expensive first, and keeps n of them.
// n <= 0 keeps every row.
func topTasks(rows []taskUsage, n int) []taskUsage {
	slices.SortStableFunc(rows, func(a, b taskUsage) int {
		return cmp.Compare(b.Usage.Cost, a.Usage.Cost)
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func printStats(out io.Writer, r *statsReport) {
	total := r.Summary.Total
	if total.Calls == 0 {
		fmt.Fprintln(out, "No cost data recorded yet.")
		return
	}

	if r.Task != "" {
		field(out, "Task", r.Task)
	}
	section(out, "Token usage")
	field(out, "Calls", strconv.Itoa(total.Calls))
	field(out, "Input", util.FormatTokens(total.InputTokens))
	field(out, "Output", util.FormatTokens(total.OutputTokens))
	field(out, "Total", util.FormatTokens(total.TotalTokens()))

	section(out, "Estimated cost")
	field(out, "Total", util.FormatCost(total.Cost))

	section(out, "By agent")
	rows := make([][]string, 0, len(r.Summary.ByAgent))
	for _, u := range r.Summary.ByAgent {
		rows = append(rows, []string{
			u.Agent, u.Model, strconv.Itoa(u.Calls), util.FormatTokens(u.TotalTokens()), util.FormatCost(u.Cost),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"AGENT", "MODEL", "CALLS", "TOKENS", "COST"}, rows))

	if len(r.Tasks) > 0 {
		section(out, "Top tasks by cost")
		rows = rows[:0]
		for _, t := range r.Tasks {
			rows = append(rows, []string{
				t.Slug, statusStyle(t.Status), util.FormatTokens(t.Usage.TotalTokens()), util.FormatCost(t.Usage.Cost),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"SLUG", "STATUS", "TOKENS", "COST"}, rows))
	}
}
