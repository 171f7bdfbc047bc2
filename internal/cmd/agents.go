package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/queue"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <agent> <slug>",
	Short: "Run one agent for a task round",
	Long: `Run one agent for a task round and record its analysis.

The agent name selects its role: gemini runs as planner_primary, claude as
planner_secondary and codex as implementer. Use run-role to pick a role
directly.`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var runRoleCmd = &cobra.Command{
	Use:   "run-role <role> <slug>",
	Short: "Run the agent configured for a role",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunRole,
}

var parallelCmd = &cobra.Command{
	Use:   "parallel <slug>",
	Short: "Run both planners concurrently for a round",
	Args:  cobra.ExactArgs(1),
	RunE:  runParallel,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List supervised agent processes",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

var killCmd = &cobra.Command{
	Use:   "kill <pid|key>",
	Short: "Terminate a supervised agent process",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Terminate every supervised agent process",
	Args:  cobra.NoArgs,
	RunE:  runKillAll,
}

var (
	runRound  int
	runPhase  string
	runFormat string
	killForce bool
)

func init() {
	for _, c := range []*cobra.Command{runCmd, runRoleCmd, parallelCmd} {
		c.Flags().IntVarP(&runRound, "round", "r", 0, "Round number (default: the task's current round, at least 1)")
		c.Flags().StringVarP(&runFormat, "format", "o", formatText, "Output format: text, json or yaml")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringVar(&runPhase, "phase", "analysis", "Workflow phase")
	runRoleCmd.Flags().StringVar(&runPhase, "phase", "analysis", "Workflow phase")
	killCmd.Flags().BoolVarP(&killForce, "force", "f", false, "Send SIGKILL instead of SIGTERM")
	killAllCmd.Flags().BoolVarP(&killForce, "force", "f", false, "Send SIGKILL instead of SIGTERM")

	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(killAllCmd)
}

// roleOutcome is what run, run-role and parallel report per role.
type roleOutcome struct {
	Role     roles.Role `json:"role"`
	Success  bool       `json:"success"`
	Session  string     `json:"session_id,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Error    string     `json:"error,omitempty"`
	Duration string     `json:"duration"`
}

func newRoleOutcome(role roles.Role, res *agent.Result) roleOutcome {
	o := roleOutcome{
		Role:     role,
		Success:  res.Success,
		Session:  res.SessionID,
		Error:    res.Error,
		Duration: util.FormatDuration(res.Duration),
	}
	if res.Structured != nil {
		o.Summary = string(res.Structured.Summary)
	}
	return o
}

func effectiveRound(task *domain.Task) int {
	switch {
	case runRound > 0:
		return runRound
	case task.CurrentRound > 0:
		return task.CurrentRound
	}
	return 1
}

func runRun(cmd *cobra.Command, args []string) error {
	role, err := queue.RoleFor(queue.Job{Agent: args[0]})
	if err != nil {
		return err
	}
	return runRoles(cmd, args[1], []roles.Role{role}, runPhase)
}

func runRunRole(cmd *cobra.Command, args []string) error {
	role, err := roles.Parse(args[0])
	if err != nil {
		return err
	}
	return runRoles(cmd, args[1], []roles.Role{role}, runPhase)
}

func runParallel(cmd *cobra.Command, args []string) error {
	seats := domain.Participants()
	rs := make([]roles.Role, 0, len(seats))
	for _, p := range seats {
		rs = append(rs, roles.ForParticipant(p))
	}
	return runRoles(cmd, args[0], rs, "analysis")
}

// runRoles runs each role concurrently for the task and reports every
// outcome. It fails when any role failed.
func runRoles(cmd *cobra.Command, slug string, rs []roles.Role, phase string) error {
	if err := checkFormat(runFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, slug)
		if err != nil {
			return err
		}
		round := effectiveRound(task)
		exec := a.executor()

		outcomes := make([]roleOutcome, len(rs))
		g, gctx := errgroup.WithContext(ctx)
		for i, role := range rs {
			g.Go(func() error {
				res, err := exec.RunRole(gctx, task, role, round, phase)
				if err != nil {
					return fmt.Errorf("%s: %w", role, err)
				}
				outcomes[i] = newRoleOutcome(role, res)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, runFormat, outcomes); ok {
			if err != nil {
				return err
			}
		} else {
			printOutcomes(out, task, round, outcomes)
		}
		for _, o := range outcomes {
			if !o.Success {
				return &ExitError{Code: 1}
			}
		}
		return nil
	})
}

func printOutcomes(out io.Writer, task *domain.Task, round int, outcomes []roleOutcome) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%s round %d", task.Slug, round)))
	for _, o := range outcomes {
		mark := okStyle.Render("✓")
		if !o.Success {
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(out, "%s %s %s\n", mark, o.Role, labelStyle.Render(o.Duration))
		if o.Summary != "" {
			fmt.Fprintf(out, "  %s\n", util.TruncateANSI(util.FirstLine(o.Summary), 100))
		}
		if o.Error != "" {
			fmt.Fprintf(out, "  %s\n", failStyle.Render(o.Error))
		}
	}
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		hs, err := a.supervisor.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(hs) == 0 {
			fmt.Fprintln(out, "No supervised agent processes.")
			return nil
		}
		now := time.Now()
		rows := make([][]string, 0, len(hs))
		for _, h := range hs {
			state := okStyle.Render("running")
			if !h.Alive {
				state = labelStyle.Render("exited")
			}
			rows = append(rows, []string{
				strconv.Itoa(h.PID), h.Agent, h.TaskSlug, state, util.FormatAge(h.StartedAt, now),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"PID", "AGENT", "TASK", "STATE", "STARTED"}, rows))
		return nil
	})
}

func runKill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		h, err := a.supervisor.Find(args[0])
		if err != nil {
			return err
		}
		if err := a.supervisor.Terminate(h.PID, killForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signalled %d\n", h.PID)
		return nil
	})
}

func runKillAll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		n, err := a.supervisor.TerminateAll(killForce)
		fmt.Fprintf(cmd.OutOrStdout(), "Signalled %d processes\n", n)
		return err
	})
}
