package roles

import (
	"fmt"

	"github.com/spf13/cobra"

	approles "github.com/Iron-Ham/debate/internal/roles"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show or override the model each agent runs with",
	Long: `Show or override the model each agent runs with.

A {AGENT}_MODEL environment variable (e.g. DEBATE_GEMINI_MODEL) wins over
a model stored with 'models set', which wins over the built-in default.
Agents without any model fall back to the orchestrator's.`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every agent and its resolved model",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

var modelsSetCmd = &cobra.Command{
	Use:   "set <agent> <model>",
	Short: "Store a model override for an agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runModelsSet,
}

var modelsUnsetCmd = &cobra.Command{
	Use:   "unset <agent>",
	Short: "Remove the stored model override of an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsUnset,
}

var modelsFormat string

func init() {
	modelsListCmd.Flags().StringVar(&modelsFormat, "format", "text", "Output format: text or yaml")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsSetCmd)
	modelsCmd.AddCommand(modelsUnsetCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	if modelsFormat != "text" && modelsFormat != "yaml" {
		return fmt.Errorf("invalid format %q: expected text or yaml", modelsFormat)
	}
	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, _ approles.TemplateSet) error {
		entries, err := r.ListModels(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if modelsFormat == "yaml" {
			return writeYAML(out, entries)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Agent, e.Model, string(e.Source)})
		}
		fmt.Fprintln(out, renderTable([]string{"AGENT", "MODEL", "SOURCE"}, rows))
		return nil
	})
}

func runModelsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, _ approles.TemplateSet) error {
		if err := r.SetModel(ctx, args[0], args[1]); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s now runs %s\n", args[0], args[1])
		if _, src, err := r.ResolveModel(ctx, args[0]); err == nil && src == approles.SourceEnv {
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf(
				"note: %s is set and takes precedence", approles.ModelEnvKey(args[0]))))
		}
		return nil
	})
}

func runModelsUnset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, _ approles.TemplateSet) error {
		existed, err := r.DeleteModel(ctx, args[0])
		if err != nil {
			return err
		}
		if existed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed model override for %s\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s has no stored model override\n", args[0])
		}
		return nil
	})
}
