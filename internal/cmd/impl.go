package cmd

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/util"
)

var implCmd = &cobra.Command{
	Use:   "impl",
	Short: "Track the implementation steps of an approved task",
}

var implAddCmd = &cobra.Command{
	Use:   "add <slug> <title>",
	Short: "Append an implementation step",
	Args:  cobra.ExactArgs(2),
	RunE:  runImplAdd,
}

var implListCmd = &cobra.Command{
	Use:   "list <slug>",
	Short: "List implementation steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runImplList,
}

var implUpdateCmd = &cobra.Command{
	Use:   "update <slug> <sequence> <status>",
	Short: "Set the status of an implementation step",
	Long: `Set the status of an implementation step: pending, in_progress, completed,
failed or skipped.

Starting a step moves an approved task to implementing. Once every step is
completed or skipped the task is marked completed.`,
	Args: cobra.ExactArgs(3),
	RunE: runImplUpdate,
}

var implProgressCmd = &cobra.Command{
	Use:   "progress <slug>",
	Short: "Summarize implementation progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runImplProgress,
}

var (
	implDescription string
	implFiles       []string
	implAgent       string
	implPending     bool
	implFormat      string
)

func init() {
	implAddCmd.Flags().StringVarP(&implDescription, "description", "d", "", "What the step changes")
	implAddCmd.Flags().StringSliceVarP(&implFiles, "file", "f", nil, "File the step touches (repeatable)")
	implAddCmd.Flags().StringVarP(&implAgent, "agent", "a", "", "Agent assigned to the step")
	implListCmd.Flags().BoolVar(&implPending, "pending", false, "Only steps that still need work")
	implListCmd.Flags().StringVar(&implFormat, "format", formatText, "Output format: text, json or yaml")

	implCmd.AddCommand(implAddCmd)
	implCmd.AddCommand(implListCmd)
	implCmd.AddCommand(implUpdateCmd)
	implCmd.AddCommand(implProgressCmd)
	rootCmd.AddCommand(implCmd)
}

func runImplAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		step := &domain.ImplTask{
			TaskID:      task.ID,
			Title:       strings.TrimSpace(args[1]),
			Description: implDescription,
			Files:       implFiles,
			Agent:       implAgent,
		}
		if err := a.store.AddImplTask(ctx, step); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": step.ID, "sequence": step.Sequence, "status": "added"})
	})
}

func runImplList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(implFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		steps, err := a.store.ListImplTasks(ctx, task.ID)
		if err != nil {
			return err
		}
		if implPending {
			steps = slices.DeleteFunc(steps, func(s *domain.ImplTask) bool {
				return s.Status != domain.ImplStatusPending && s.Status != domain.ImplStatusInProgress
			})
		}

		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, implFormat, steps); ok {
			return err
		}
		if len(steps) == 0 {
			fmt.Fprintln(out, "No implementation steps.")
			return nil
		}
		rows := make([][]string, 0, len(steps))
		for _, s := range steps {
			rows = append(rows, []string{
				strconv.Itoa(s.Sequence),
				implStatusStyle(s.Status),
				util.TruncateANSI(s.Title, 60),
				strings.Join(s.Files, ", "),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"#", "STATUS", "TITLE", "FILES"}, rows))
		return nil
	})
}

func runImplUpdate(cmd *cobra.Command, args []string) error {
	seq, err := strconv.Atoi(args[1])
	if err != nil || seq < 1 {
		return errors.NewValidationError("sequence must be a positive integer").WithField("sequence").WithValue(args[1])
	}
	status := domain.ImplStatus(args[2])
	if !slices.Contains(domain.ValidImplStatuses(), status) {
		return errors.NewValidationError("unknown implementation status").WithField("status").WithValue(args[2])
	}

	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		steps, err := a.store.ListImplTasks(ctx, task.ID)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(steps, func(s *domain.ImplTask) bool { return s.Sequence == seq })
		if idx < 0 {
			return errors.NewNotFoundError("impl task", fmt.Sprintf("%s#%d", task.Slug, seq))
		}
		old := steps[idx].Status
		if err := a.store.UpdateImplTaskStatus(ctx, task.ID, seq, status); err != nil {
			return err
		}

		progress, err := a.store.ImplProgress(ctx, task.ID)
		if err != nil {
			return err
		}
		if next, ok := implTaskStatus(task.Status, status, progress); ok {
			if err := a.store.UpdateTaskStatus(ctx, task.ID, next, ""); err != nil {
				return err
			}
			a.bus.Publish(event.NewTaskStatusChangedEvent(task.ID, string(task.Status), string(next), "implementation progress"))
		}

		return printJSON(cmd.OutOrStdout(), map[string]string{
			"old_status": string(old),
			"new_status": string(status),
			"status":     "updated",
		})
	})
}

// implTaskStatus derives the task status an implementation update implies.
// It reports false when the task status should stay as it is.
func implTaskStatus(current domain.TaskStatus, changed domain.ImplStatus, p domain.ImplProgress) (domain.TaskStatus, bool) {
	if current == domain.TaskStatusApproved && changed == domain.ImplStatusInProgress {
		return domain.TaskStatusImplementing, true
	}
	if current != domain.TaskStatusApproved && current != domain.TaskStatusImplementing {
		return "", false
	}
	if p.Total > 0 && p.Completed+p.Skipped == p.Total && p.Completed > 0 {
		return domain.TaskStatusCompleted, true
	}
	return "", false
}

func runImplProgress(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := a.store.ImplProgress(ctx, task.ID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"task_slug":        task.Slug,
			"total":            p.Total,
			"completed":        p.Completed,
			"in_progress":      p.InProgress,
			"failed":           p.Failed,
			"pending":          p.Pending,
			"skipped":          p.Skipped,
			"percent_complete": int(math.Round(p.Percent())),
		})
	})
}

func implStatusStyle(s domain.ImplStatus) string {
	switch s {
	case domain.ImplStatusCompleted:
		return okStyle.Render(string(s))
	case domain.ImplStatusFailed:
		return failStyle.Render(string(s))
	case domain.ImplStatusInProgress:
		return warnStyle.Render(string(s))
	case domain.ImplStatusSkipped:
		return labelStyle.Render(string(s))
	}
	return string(s)
}
