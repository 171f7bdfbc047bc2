package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/prompt"
)

// The commands in this file drive the store directly so external
// orchestration scripts can run a debate step by step. Each prints one JSON
// object on stdout.

var createTaskCmd = &cobra.Command{
	Use:   "create-task <slug> <title>",
	Short: "Create a task (no-op if the slug exists)",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateTask,
}

var addMessageCmd = &cobra.Command{
	Use:   "add-message <slug> <role> <content>",
	Short: "Add a conversation message to a task",
	Long: `Add a conversation message to a task. Role is human, orchestrator or the key
of a known agent.`,
	Args: cobra.ExactArgs(3),
	RunE: runAddMessage,
}

var getContextCmd = &cobra.Command{
	Use:   "get-context <slug>",
	Short: "Print the context agents receive for a round",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetContext,
}

var updateStatusCmd = &cobra.Command{
	Use:   "update-status <slug> <status>",
	Short: "Set a task's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdateStatus,
}

var createRoundCmd = &cobra.Command{
	Use:   "create-round <slug> <round>",
	Short: "Create a round and make it current",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateRound,
}

var addDecisionCmd = &cobra.Command{
	Use:   "add-decision <slug> <topic> <decision>",
	Short: "Record a decision for a task",
	Args:  cobra.ExactArgs(3),
	RunE:  runAddDecision,
}

var logEventCmd = &cobra.Command{
	Use:   "log-event <slug> <phase> <event>",
	Short: "Append an entry to a task's journal",
	Args:  cobra.ExactArgs(3),
	RunE:  runLogEvent,
}

var addQuestionCmd = &cobra.Command{
	Use:   "add-question <slug> <question>",
	Short: "Add a question that needs human input",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddQuestion,
}

var createConsensusCmd = &cobra.Command{
	Use:   "create-consensus <slug> <final-round>",
	Short: "Record a consensus for a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateConsensus,
}

var checkApprovalCmd = &cobra.Command{
	Use:   "check-approval <slug>",
	Short: "Exit 0 when the task's consensus was approved",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckApproval,
}

var (
	createComplexity  string
	createMaxRounds   int
	messagePhase      string
	contextRound      int
	contextPhase      string
	contextFormat     string
	statusErrorMsg    string
	decisionSource    string
	decisionRationale string
	decisionConf      string
	eventAgent        string
	eventMessage      string
	questionAgent     string
	questionCategory  string
	questionContext   string
	consensusSummary  string
	consensusRate     float64
	consensusItems    []string
	consensusPlan     string
)

func init() {
	createTaskCmd.Flags().StringVar(&createComplexity, "complexity", string(domain.ComplexityStandard), "trivial, standard or complex")
	createTaskCmd.Flags().IntVarP(&createMaxRounds, "max-rounds", "r", 3, "Maximum debate rounds")
	addMessageCmd.Flags().StringVarP(&messagePhase, "phase", "p", "scoping", "Workflow phase")
	getContextCmd.Flags().IntVarP(&contextRound, "round", "r", 1, "Round the context is built for")
	getContextCmd.Flags().StringVar(&contextPhase, "phase", "analysis", "Phase named in the prompt footer (text format)")
	getContextCmd.Flags().StringVar(&contextFormat, "format", formatJSON, "Output format: json, yaml or text (the rendered prompt block)")
	updateStatusCmd.Flags().StringVarP(&statusErrorMsg, "error", "e", "", "Error message when failing the task")
	addDecisionCmd.Flags().StringVarP(&decisionSource, "source", "s", "human", "Who made the decision")
	addDecisionCmd.Flags().StringVarP(&decisionRationale, "rationale", "r", "", "Why")
	addDecisionCmd.Flags().StringVar(&decisionConf, "confidence", "", "Confidence, e.g. high")
	logEventCmd.Flags().StringVarP(&eventAgent, "agent", "a", "", "Agent the event concerns")
	logEventCmd.Flags().StringVarP(&eventMessage, "message", "m", "", "Event message")
	addQuestionCmd.Flags().StringVarP(&questionAgent, "agent", "a", "orchestrator", "Who asks")
	addQuestionCmd.Flags().StringVarP(&questionCategory, "category", "c", "clarification", "Question category")
	addQuestionCmd.Flags().StringVar(&questionContext, "context", "", "Additional context")
	createConsensusCmd.Flags().StringVarP(&consensusSummary, "summary", "s", "", "Consensus summary")
	createConsensusCmd.Flags().Float64VarP(&consensusRate, "agreement-rate", "a", 0, "Agreement percentage (0-100)")
	createConsensusCmd.Flags().StringArrayVar(&consensusItems, "item", nil, "Agreed item (repeatable)")
	createConsensusCmd.Flags().StringVar(&consensusPlan, "plan", "", "Implementation plan")

	for _, c := range []*cobra.Command{
		createTaskCmd, addMessageCmd, getContextCmd, updateStatusCmd, createRoundCmd,
		addDecisionCmd, logEventCmd, addQuestionCmd, createConsensusCmd, checkApprovalCmd,
	} {
		c.GroupID = scriptGroup
		rootCmd.AddCommand(c)
	}
}

func printJSON(w io.Writer, v any) error {
	_, err := writeStructured(w, formatJSON, v)
	return err
}

func parseRound(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.NewValidationError("round must be a positive integer").WithField("round").WithValue(s)
	}
	return n, nil
}

func runCreateTask(cmd *cobra.Command, args []string) error {
	slug, title := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	if !slices.Contains(domain.ValidComplexities(), domain.Complexity(createComplexity)) {
		return errors.NewValidationError("complexity must be trivial, standard or complex").
			WithField("complexity").WithValue(createComplexity)
	}
	if createMaxRounds < 1 {
		return errors.NewValidationError("max rounds must be at least 1").WithField("max-rounds")
	}

	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		out := cmd.OutOrStdout()
		if existing, err := a.store.GetTaskBySlug(ctx, slug); err == nil {
			return printJSON(out, map[string]string{"id": existing.ID, "slug": existing.Slug, "status": "exists"})
		} else if !errors.Is(err, &errors.NotFoundError{}) {
			return err
		}

		task := &domain.Task{
			Slug:       slug,
			Title:      title,
			Complexity: domain.Complexity(createComplexity),
			MaxRounds:  createMaxRounds,
		}
		if err := a.store.CreateTask(ctx, task); err != nil {
			return err
		}
		a.bus.Publish(event.NewTaskCreatedEvent(task.ID, task.Slug, task.Title))
		return printJSON(out, map[string]string{"id": task.ID, "slug": task.Slug, "status": "created"})
	})
}

func runAddMessage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		role := domain.ConversationRole(args[1])
		if role != domain.ConversationHuman && role != domain.ConversationOrchestrator {
			known, err := a.resolver.IsKnownAgent(ctx, args[1])
			if err != nil {
				return err
			}
			if !known {
				return errors.NewValidationError("role must be human, orchestrator or a known agent").
					WithField("role").WithValue(args[1])
			}
		}
		conv := &domain.Conversation{TaskID: task.ID, Role: role, Content: args[2], Phase: messagePhase}
		if err := a.store.AddConversation(ctx, conv); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": conv.ID, "status": "added"})
	})
}

func runGetContext(cmd *cobra.Command, args []string) error {
	if contextFormat != formatText {
		if err := checkFormat(contextFormat); err != nil {
			return err
		}
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		c, err := prompt.Load(ctx, a.store, task, contextRound, prompt.LoadOptions{})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, contextFormat, c); ok {
			return err
		}
		fmt.Fprint(out, prompt.Render(c, contextRound, contextPhase))
		return nil
	})
}

func runUpdateStatus(cmd *cobra.Command, args []string) error {
	status := domain.TaskStatus(args[1])
	if !slices.Contains(domain.ValidTaskStatuses(), status) {
		return errors.NewValidationError("unknown task status").WithField("status").WithValue(args[1])
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		old := task.Status
		if err := a.store.UpdateTaskStatus(ctx, task.ID, status, statusErrorMsg); err != nil {
			return err
		}
		a.bus.Publish(event.NewTaskStatusChangedEvent(task.ID, string(old), string(status), statusErrorMsg))
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"old_status": string(old),
			"new_status": string(status),
			"status":     "updated",
		})
	})
}

func runCreateRound(cmd *cobra.Command, args []string) error {
	n, err := parseRound(args[1])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		round, err := a.store.GetOrCreateRound(ctx, task.ID, n)
		if err != nil {
			return err
		}
		task.CurrentRound = n
		if err := a.store.SaveTask(ctx, task); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": round.ID, "round_number": n, "status": "created"})
	})
}

func runAddDecision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		d := &domain.Decision{
			TaskID:     task.ID,
			Topic:      args[1],
			Decision:   args[2],
			Rationale:  decisionRationale,
			Source:     decisionSource,
			Confidence: decisionConf,
		}
		if err := a.store.AddDecision(ctx, d); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": d.ID, "status": "added"})
	})
}

func runLogEvent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		err = a.store.AppendEntry(ctx, event.Entry{
			TaskID:  task.ID,
			Phase:   args[1],
			Name:    args[2],
			Agent:   eventAgent,
			Message: eventMessage,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"status": "logged"})
	})
}

func runAddQuestion(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		q := &domain.Question{
			TaskID:   task.ID,
			Agent:    questionAgent,
			Question: args[1],
			Context:  questionContext,
			Category: questionCategory,
		}
		if err := a.store.AddQuestion(ctx, q); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": q.ID, "status": "added"})
	})
}

func runCreateConsensus(cmd *cobra.Command, args []string) error {
	n, err := parseRound(args[1])
	if err != nil {
		return err
	}
	if consensusRate < 0 || consensusRate > 100 {
		return errors.NewValidationError("agreement rate must be between 0 and 100").
			WithField("agreement-rate").WithValue(strconv.FormatFloat(consensusRate, 'f', -1, 64))
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		c := &domain.Consensus{
			TaskID:             task.ID,
			FinalRound:         n,
			AgreementRate:      consensusRate,
			Summary:            consensusSummary,
			AgreedItems:        consensusItems,
			ImplementationPlan: consensusPlan,
		}
		if err := a.store.CreateConsensus(ctx, c); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": c.ID, "status": "created"})
	})
}

func runCheckApproval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		task, err := a.store.GetTaskBySlug(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		c, err := a.store.LatestConsensus(ctx, task.ID)
		if errors.Is(err, errors.ErrNoConsensus) {
			if err := printJSON(out, map[string]any{"approved": false, "reason": "No consensus found"}); err != nil {
				return err
			}
			return &ExitError{Code: 1}
		}
		if err != nil {
			return err
		}
		if !c.HumanApproved {
			if err := printJSON(out, map[string]any{"approved": false, "reason": "Not yet approved by human"}); err != nil {
				return err
			}
			return &ExitError{Code: 1}
		}
		return printJSON(out, map[string]any{"approved": true, "consensus_id": c.ID})
	})
}
