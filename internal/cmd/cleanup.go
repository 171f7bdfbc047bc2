package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/util"
)

// cleanupPlan holds the resources cleanup would remove.
type cleanupPlan struct {
	DeadAgents []agent.Handle
	OldTasks   []*domain.Task
}

func (p *cleanupPlan) empty() bool {
	return len(p.DeadAgents) == 0 && len(p.OldTasks) == 0
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove exited agent records and old finished tasks",
	Long: `Cleanup removes leftovers that accumulate over time:

- Agent records: registry entries of agent processes that have exited
- Tasks: completed, cancelled or failed tasks not updated for --older-than
  (only with --tasks; deleting a task removes its whole history)

Use --dry-run to see what would be cleaned up without making changes.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

var (
	cleanupDryRun    bool
	cleanupForce     bool
	cleanupTasks     bool
	cleanupOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupTasks, "tasks", false, "Also delete old finished tasks")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Minimum age of tasks deleted with --tasks")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		out := cmd.OutOrStdout()

		plan := &cleanupPlan{}
		handles, err := a.supervisor.List()
		if err != nil {
			return fmt.Errorf("failed to list agent processes: %w", err)
		}
		for _, h := range handles {
			if !h.Alive {
				plan.DeadAgents = append(plan.DeadAgents, h)
			}
		}
		if cleanupTasks {
			tasks, err := a.store.ListTasks(ctx, "")
			if err != nil {
				return err
			}
			plan.OldTasks = staleTasks(tasks, time.Now().Add(-cleanupOlderThan))
		}

		if plan.empty() {
			fmt.Fprintln(out, "Nothing to clean up.")
			return nil
		}
		printCleanupPlan(out, plan)

		if cleanupDryRun {
			fmt.Fprintln(out, "\nDry run mode - no changes made.")
			return nil
		}
		if !cleanupForce && !confirm(cmd.InOrStdin(), out, "\nProceed with cleanup? [y/N] ") {
			fmt.Fprintln(out, "Cleanup cancelled.")
			return nil
		}

		for _, h := range plan.DeadAgents {
			a.supervisor.Unregister(h.PID)
		}
		deleted := 0
		for _, t := range plan.OldTasks {
			if err := a.store.DeleteTask(ctx, t.ID); err != nil {
				a.logger.Warn("failed to delete task", "task", t.Slug, "error", err.Error())
				continue
			}
			deleted++
		}
		a.logger.Info("cleanup finished", "agents", len(plan.DeadAgents), "tasks", deleted)
		fmt.Fprintf(out, "Removed %d agent records and %d tasks.\n", len(plan.DeadAgents), deleted)
		return nil
	})
}

// staleTasks returns the finished tasks last updated before cutoff.
func staleTasks(tasks []*domain.Task, cutoff time.Time) []*domain.Task {
	var stale []*domain.Task
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusCompleted, domain.TaskStatusCancelled, domain.TaskStatusFailed:
			if t.UpdatedAt.Before(cutoff) {
				stale = append(stale, t)
			}
		}
	}
	return stale
}

func printCleanupPlan(out io.Writer, p *cleanupPlan) {
	now := time.Now()
	if len(p.DeadAgents) > 0 {
		fmt.Fprintf(out, "Exited agent processes (%d):\n", len(p.DeadAgents))
		for _, h := range p.DeadAgents {
			fmt.Fprintf(out, "  %s %s %s\n", strconv.Itoa(h.PID), h.Agent, labelStyle.Render(h.TaskSlug))
		}
	}
	if len(p.OldTasks) > 0 {
		fmt.Fprintf(out, "Finished tasks (%d):\n", len(p.OldTasks))
		for _, t := range p.OldTasks {
			fmt.Fprintf(out, "  %s %s %s\n", t.Slug, statusStyle(t.Status), labelStyle.Render(util.FormatAge(t.UpdatedAt, now)))
		}
	}
}

// confirm asks a yes/no question on in and reports whether it was answered
// yes.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
