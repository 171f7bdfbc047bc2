package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/debate"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/interact"
)

var startCmd = &cobra.Command{
	Use:   "start <request>",
	Short: "Start a debate on a request",
	Long: `Start a debate: the request is triaged, optionally explored, then analysed by
both planners for up to --max-rounds rounds.

On a terminal the command asks questions and the approval decision inline.
Otherwise it stops at the first human checkpoint; answer with 'debate answer'
and 'debate approve', then continue with 'debate resume'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <slug>",
	Short: "Continue a debate from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var (
	startMaxRounds int
	startExplore   bool
	startQueue     bool
	startSlug      string
	noInteractive  bool
)

func init() {
	startCmd.Flags().IntVar(&startMaxRounds, "max-rounds", 0, "Round budget (default: debate.max_rounds, capped by complexity)")
	startCmd.Flags().BoolVar(&startExplore, "explore", false, "Map the codebase with the explorer before analysis")
	startCmd.Flags().BoolVar(&startQueue, "queue", false, "Run planners through queue workers")
	startCmd.Flags().StringVar(&startSlug, "slug", "", "Task slug (default: derived from the request)")
	startCmd.Flags().BoolVar(&noInteractive, "no-input", false, "Never prompt; stop at human checkpoints")
	resumeCmd.Flags().BoolVar(&startQueue, "queue", false, "Run planners through queue workers")
	resumeCmd.Flags().BoolVar(&noInteractive, "no-input", false, "Never prompt; stop at human checkpoints")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
}

// terminalPrompter returns a TTY prompter when stdin and stdout are both
// terminals and prompting was not disabled.
func terminalPrompter() debate.Prompter {
	if noInteractive || !interact.IsInteractive(os.Stdin, os.Stdout) {
		return nil
	}
	return interact.NewTTY(os.Stdin, os.Stdout)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if startQueue {
			if _, err := a.connectQueue(ctx); err != nil {
				return err
			}
		}
		m := a.machine(terminalPrompter())
		run, err := m.Start(ctx, debate.StartRequest{
			Request:   strings.Join(args, " "),
			Slug:      startSlug,
			MaxRounds: startMaxRounds,
			Explore:   startExplore,
		})
		if err != nil {
			return err
		}
		return drive(cmd, a, m, run)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if startQueue {
			if _, err := a.connectQueue(ctx); err != nil {
				return err
			}
		}
		m := a.machine(terminalPrompter())
		run, err := m.Resume(ctx, args[0])
		if err != nil {
			return err
		}
		return drive(cmd, a, m, run)
	})
}

// drive runs the machine until it finishes or waits on a human, printing
// progress as it goes.
func drive(cmd *cobra.Command, a *app, m *debate.Machine, run *debate.Run) error {
	out := cmd.OutOrStdout()
	interact.NewProgress(out).Attach(a.bus)

	state, err := debate.NewLoopEngine(m).Drive(cmd.Context(), run)
	if err != nil && !errors.Is(err, errors.ErrCheckpoint) {
		return err
	}
	printOutcome(out, run, state)
	return nil
}

func printOutcome(out io.Writer, run *debate.Run, state debate.State) {
	slug := run.Slug
	if run.Task != nil {
		slug = run.Task.Slug
	}
	fmt.Fprintln(out)
	switch state {
	case debate.StateQuestions:
		fmt.Fprintln(out, warnStyle.Render("Waiting for answers."))
		fmt.Fprintf(out, "  debate questions %s\n  debate answer %s <question-id> <answer>\n  debate resume %s\n", slug, slug, slug)
	case debate.StateApproval:
		fmt.Fprintln(out, warnStyle.Render("Waiting for approval."))
		fmt.Fprintf(out, "  debate status %s\n  debate approve %s [--revise | --cancel] [--notes ...]\n", slug, slug)
	case debate.StateCompleted:
		if run.Task != nil && run.Task.SkipDebate {
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("%s fast-tracked; ready for implementation.", slug)))
		} else {
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("%s approved; ready for implementation.", slug)))
		}
	case debate.StateCancelled:
		fmt.Fprintln(out, labelStyle.Render(fmt.Sprintf("%s cancelled.", slug)))
	case debate.StateFailed:
		fmt.Fprintln(out, failStyle.Render(fmt.Sprintf("%s failed.", slug)))
	default:
		fmt.Fprintf(out, "%s stopped at %s; continue with 'debate resume %s'.\n", slug, state, slug)
	}
}
