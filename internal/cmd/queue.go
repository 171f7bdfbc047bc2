package cmd

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/queue"
	"github.com/Iron-Ham/debate/internal/util"
)

var workerCmd = &cobra.Command{
	Use:   "worker <agent>",
	Short: "Consume queued jobs for an agent",
	Long: `Consume jobs for an agent (gemini, claude or codex) from Redis until
interrupted. Prompt templates in agent.templates_dir are reloaded when they
change.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorker,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-enqueue work for rounds left unfinished",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the job queue",
}

var queueDepthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show the number of entries in each stream",
	Args:  cobra.NoArgs,
	RunE:  runQueueDepth,
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE:  runQueueDLQ,
}

var (
	workerConcurrency int
	reconcileWatch    bool
	dlqType           string
	dlqLimit          int64
)

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "n", 1, "Number of concurrent consumers")
	reconcileCmd.Flags().BoolVarP(&reconcileWatch, "watch", "w", false, "Keep reconciling every queue.reconcile_interval")
	queueDLQCmd.Flags().StringVar(&dlqType, "type", queue.JobAnalysis, "Job type: analysis or implement")
	queueDLQCmd.Flags().Int64VarP(&dlqLimit, "limit", "n", 50, "Maximum entries to show (0 for all)")

	queueCmd.AddCommand(queueDepthCmd)
	queueCmd.AddCommand(queueDLQCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(queueCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	agentName := queue.AgentName(args[0])
	if _, err := queue.RoleFor(queue.Job{Agent: agentName}); err != nil {
		return err
	}

	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		broker, err := a.connectQueue(ctx)
		if err != nil {
			return err
		}
		if err := a.library.Watch(); err != nil {
			a.logger.Warn("template hot reload disabled", "error", err)
		}

		handler := queue.ExecutorHandler(a.store, a.executor())
		pool := queue.NewPool(broker.Client(), handler, queue.WorkerConfig{
			Agent:          agentName,
			Block:          a.cfg.Queue.Block(),
			IdempotencyTTL: a.cfg.Queue.IdempotencyTTLDuration(),
		}, workerConcurrency,
			queue.WithWorkerBus(a.bus),
			queue.WithWorkerLogger(a.logger),
		)

		fmt.Fprintf(cmd.OutOrStdout(), "Worker %s consuming %v with %d consumers (Ctrl+C to stop)\n",
			agentName, pool.Workers()[0].Streams(), len(pool.Workers()))
		return pool.Run(ctx)
	})
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		broker, err := a.connectQueue(ctx)
		if err != nil {
			return err
		}
		r := queue.NewReconciler(a.store, a.resolver, broker, a.logger,
			queue.WithStaleAfter(a.cfg.Debate.AgentTimeoutDuration()))
		if reconcileWatch {
			interval := a.cfg.Queue.ReconcileIntervalDuration()
			fmt.Fprintf(cmd.OutOrStdout(), "Reconciling every %s (Ctrl+C to stop)\n", interval)
			return r.Run(ctx, interval)
		}
		n, err := r.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d jobs\n", n)
		return nil
	})
}

func runQueueDepth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		broker, err := a.connectQueue(ctx)
		if err != nil {
			return err
		}
		depths, err := broker.Depths(ctx)
		if err != nil {
			return err
		}
		streams := make([]string, 0, len(depths))
		for s := range depths {
			streams = append(streams, s)
		}
		slices.Sort(streams)
		rows := make([][]string, 0, len(streams))
		for _, s := range streams {
			rows = append(rows, []string{s, strconv.FormatInt(depths[s], 10)})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"STREAM", "ENTRIES"}, rows))
		return nil
	})
}

func runQueueDLQ(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		broker, err := a.connectQueue(ctx)
		if err != nil {
			return err
		}
		letters, err := broker.DeadLetters(ctx, dlqType, dlqLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(letters) == 0 {
			fmt.Fprintf(out, "No dead-lettered %s jobs.\n", dlqType)
			return nil
		}
		now := time.Now()
		rows := make([][]string, 0, len(letters))
		for _, d := range letters {
			rows = append(rows, []string{
				d.ID,
				d.Job.TaskSlug,
				strconv.Itoa(d.Job.Round),
				d.Job.Agent,
				strconv.Itoa(d.Job.RetryCount),
				util.TruncateANSI(d.Error, 60),
				util.FormatAge(d.At, now),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"ID", "TASK", "ROUND", "AGENT", "RETRIES", "ERROR", "AT"}, rows))
		return nil
	})
}
