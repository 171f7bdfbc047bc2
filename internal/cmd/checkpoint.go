package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/approval"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/interact"
	"github.com/Iron-Ham/debate/internal/util"
)

var questionsCmd = &cobra.Command{
	Use:   "questions <slug>",
	Short: "List the questions the planners asked",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuestions,
}

var answerCmd = &cobra.Command{
	Use:   "answer <slug> <question-id> [answer...]",
	Short: "Answer or skip a pending question",
	Long: `Answer a pending question. The question id may be abbreviated to any unique
prefix. Use --skip to dismiss the question without an answer.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAnswer,
}

var approveCmd = &cobra.Command{
	Use:   "approve <slug>",
	Short: "Decide on the consensus awaiting approval",
	Long: `Approve, revise or cancel the consensus of a task waiting for approval.

Approving marks the task ready for implementation. Revising starts the next
round with your notes when the round budget allows it. The debate continues
in this command until it reaches the next checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <slug>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var (
	questionsAll  bool
	answerSkip    bool
	approveNotes  string
	approveRevise bool
	approveCancel bool
)

func init() {
	questionsCmd.Flags().BoolVar(&questionsAll, "all", false, "Include answered and skipped questions")
	answerCmd.Flags().BoolVar(&answerSkip, "skip", false, "Skip the question instead of answering it")
	approveCmd.Flags().StringVar(&approveNotes, "notes", "", "Notes recorded with the decision")
	approveCmd.Flags().BoolVar(&approveRevise, "revise", false, "Request another round instead of approving")
	approveCmd.Flags().BoolVar(&approveCancel, "cancel", false, "Cancel the task instead of approving")
	approveCmd.MarkFlagsMutuallyExclusive("revise", "cancel")

	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runQuestions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		status := domain.QuestionPending
		if questionsAll {
			status = ""
		}
		qs, err := a.store.ListQuestions(ctx, task.ID, status)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(qs) == 0 {
			fmt.Fprintln(out, "No questions.")
			return nil
		}
		rows := make([][]string, 0, len(qs))
		for _, q := range qs {
			text := q.Question
			if q.Answer != "" {
				text += "\n" + labelStyle.Render("→ "+q.Answer)
			}
			rows = append(rows, []string{q.ID[:8], q.Agent, string(q.Status), util.TruncateANSI(text, 72)})
		}
		fmt.Fprintln(out, renderTable([]string{"ID", "AGENT", "STATUS", "QUESTION"}, rows))
		return nil
	})
}

func runAnswer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	answer := strings.TrimSpace(strings.Join(args[2:], " "))
	if answer == "" && !answerSkip {
		return errors.NewValidationError("an answer is required unless --skip is given").WithField("answer")
	}

	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		q, err := a.store.GetQuestion(ctx, task.ID, args[1])
		if err != nil {
			return err
		}
		if q.Status != domain.QuestionPending {
			return fmt.Errorf("question %s is already %s", q.ID[:8], q.Status)
		}
		if answerSkip {
			err = a.store.SkipQuestion(ctx, q.ID, "human")
		} else {
			err = a.store.AnswerQuestion(ctx, q.ID, answer, "human")
		}
		if err != nil {
			return err
		}
		a.bus.Publish(event.NewQuestionAnsweredEvent(task.ID, q.ID, answerSkip))

		out := cmd.OutOrStdout()
		if answerSkip {
			fmt.Fprintf(out, "Skipped %s\n", q.ID[:8])
		} else {
			fmt.Fprintf(out, "Answered %s\n", q.ID[:8])
		}
		pending, err := a.store.ListQuestions(ctx, task.ID, domain.QuestionPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintf(out, "All questions resolved; continue with 'debate resume %s'.\n", task.Slug)
		} else {
			fmt.Fprintf(out, "%d questions still pending.\n", len(pending))
		}
		return nil
	})
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	decision := approval.Approve
	switch {
	case approveRevise:
		decision = approval.Revise
	case approveCancel:
		decision = approval.Cancel
	}

	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		if task.Status != domain.TaskStatusApproval {
			return fmt.Errorf("%s is %s, not waiting for approval", task.Slug, task.Status)
		}
		if decision == approval.Revise && task.CurrentRound >= task.MaxRounds {
			return errors.NewValidationError(
				fmt.Sprintf("round %d is the last of %d; approve or cancel", task.CurrentRound, task.MaxRounds),
			).WithField("decision")
		}

		m := a.machine(&interact.Fixed{Decision: decision, Notes: approveNotes})
		run, err := m.Resume(ctx, task.Slug)
		if err != nil {
			return err
		}
		return drive(cmd, a, m, run)
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if err := a.machine(nil).Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
		return nil
	})
}
