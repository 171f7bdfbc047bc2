// Package roles provides CLI commands for inspecting and overriding the
// agent, model and prompt of each debate role.
package roles

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	approles "github.com/Iron-Ham/debate/internal/roles"
)

// Opener opens the resolver and template set the commands work against.
// The returned func releases them.
type Opener func(ctx context.Context) (*approles.Resolver, approles.TemplateSet, func(), error)

var open Opener

var (
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Show or override the agent behind each role",
	Long: `Show or override the agent behind each role.

Roles resolve in layers: ROLE_{ROLE}_AGENT, ROLE_{ROLE}_MODEL and
ROLE_{ROLE}_PROMPT environment variables win over overrides stored with
'roles set', which win over the built-in defaults.`,
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every role as it resolves now",
	Args:  cobra.NoArgs,
	RunE:  runRolesList,
}

var rolesShowCmd = &cobra.Command{
	Use:   "show <role>",
	Short: "Show the resolved configuration of a role as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesShow,
}

var rolesSetCmd = &cobra.Command{
	Use:   "set <role>",
	Short: "Store an override for a role",
	Long: `Store an override for a role. Only the given flags change; other fields
keep their stored or default value.

Example:
  debate roles set planner_secondary --agent debate_gemini --model google/gemini-3-flash`,
	Args: cobra.ExactArgs(1),
	RunE: runRolesSet,
}

var rolesUnsetCmd = &cobra.Command{
	Use:   "unset <role>",
	Short: "Remove the stored override of a role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesUnset,
}

var rolesCheckCmd = &cobra.Command{
	Use:   "check [role...]",
	Short: "Validate roles against known agents and templates",
	RunE:  runRolesCheck,
}

var (
	listFormat      string
	setAgent        string
	setModel        string
	setPrompt       string
	setDescription  string
	setCapabilities []string
	setTimeout      int
	setJobType      string
)

func init() {
	rolesListCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text or yaml")
	rolesSetCmd.Flags().StringVar(&setAgent, "agent", "", "Agent key, e.g. debate_gemini")
	rolesSetCmd.Flags().StringVar(&setModel, "model", "", "Model identifier")
	rolesSetCmd.Flags().StringVar(&setPrompt, "prompt", "", "Prompt template file name")
	rolesSetCmd.Flags().StringVar(&setDescription, "description", "", "Role description")
	rolesSetCmd.Flags().StringSliceVar(&setCapabilities, "capability", nil, "Capability (repeatable)")
	rolesSetCmd.Flags().IntVar(&setTimeout, "timeout", 0, "Per-invocation timeout override in seconds")
	rolesSetCmd.Flags().StringVar(&setJobType, "job-type", "", "Queue job type: analysis or implement")

	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesShowCmd)
	rolesCmd.AddCommand(rolesSetCmd)
	rolesCmd.AddCommand(rolesUnsetCmd)
	rolesCmd.AddCommand(rolesCheckCmd)
}

// Register adds the roles and models commands to parent. open is called
// once per command invocation.
func Register(parent *cobra.Command, opener Opener) {
	open = opener
	parent.AddCommand(rolesCmd)
	parent.AddCommand(modelsCmd)
}

// withResolver opens the resolver for the duration of fn.
func withResolver(ctx context.Context, fn func(r *approles.Resolver, templates approles.TemplateSet) error) error {
	r, templates, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(r, templates)
}

func renderTable(headers []string, rows [][]string) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			return cell
		}).
		Render()
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func runRolesList(cmd *cobra.Command, args []string) error {
	if listFormat != "text" && listFormat != "yaml" {
		return fmt.Errorf("invalid format %q: expected text or yaml", listFormat)
	}
	return withResolver(cmd.Context(), func(r *approles.Resolver, _ approles.TemplateSet) error {
		entries, err := r.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if listFormat == "yaml" {
			return writeYAML(out, entries)
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			model := e.Config.Model
			if model == "" {
				model = mutedStyle.Render("(agent default)")
			}
			rows = append(rows, []string{
				string(e.Role), e.Config.AgentKey, model, e.Config.PromptTemplate, e.Config.JobType, string(e.Source),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"ROLE", "AGENT", "MODEL", "TEMPLATE", "JOB", "SOURCE"}, rows))
		return nil
	})
}

func runRolesShow(cmd *cobra.Command, args []string) error {
	role, err := approles.Parse(args[0])
	if err != nil {
		return err
	}
	return withResolver(cmd.Context(), func(r *approles.Resolver, _ approles.TemplateSet) error {
		cfg, src, err := r.ResolveWithSource(cmd.Context(), role)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), approles.RoleEntry{Role: role, Config: cfg, Source: src})
	})
}

// override builds the override from the flags that were given.
func override(cmd *cobra.Command) (approles.Override, error) {
	o := approles.Override{
		AgentKey:       setAgent,
		Model:          setModel,
		PromptTemplate: setPrompt,
		Description:    setDescription,
		JobType:        setJobType,
	}
	if cmd.Flags().Changed("capability") {
		o.Capabilities = setCapabilities
	}
	if setTimeout < 0 {
		return o, fmt.Errorf("--timeout must be non-negative")
	}
	o.TimeoutOverride = setTimeout
	if o.JobType != "" && o.JobType != approles.JobAnalysis && o.JobType != approles.JobImplement {
		return o, fmt.Errorf("--job-type must be %s or %s", approles.JobAnalysis, approles.JobImplement)
	}
	if o.AgentKey == "" && o.Model == "" && o.PromptTemplate == "" && o.Description == "" &&
		o.Capabilities == nil && o.TimeoutOverride == 0 && o.JobType == "" {
		return o, fmt.Errorf("nothing to set: pass at least one of --agent, --model, --prompt, --description, --capability, --timeout, --job-type")
	}
	return o, nil
}

func runRolesSet(cmd *cobra.Command, args []string) error {
	role, err := approles.Parse(args[0])
	if err != nil {
		return err
	}
	o, err := override(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, templates approles.TemplateSet) error {
		if err := r.SetOverride(ctx, role, o); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Stored override for %s\n", role)
		for _, p := range r.Validate(ctx, role, templates) {
			fmt.Fprintln(out, warnStyle.Render("warning: "+p))
		}
		agentEnv, modelEnv, promptEnv := approles.EnvKeys(role)
		if _, src, err := r.ResolveWithSource(ctx, role); err == nil && src == approles.SourceEnv {
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf(
				"note: %s, %s or %s is set and takes precedence", agentEnv, modelEnv, promptEnv)))
		}
		return nil
	})
}

func runRolesUnset(cmd *cobra.Command, args []string) error {
	role, err := approles.Parse(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, _ approles.TemplateSet) error {
		existed, err := r.DeleteOverride(ctx, role)
		if err != nil {
			return err
		}
		if existed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed override for %s\n", role)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s has no stored override\n", role)
		}
		return nil
	})
}

func runRolesCheck(cmd *cobra.Command, args []string) error {
	targets := approles.All()
	if len(args) > 0 {
		targets = targets[:0:0]
		for _, a := range args {
			role, err := approles.Parse(a)
			if err != nil {
				return err
			}
			targets = append(targets, role)
		}
	}

	ctx := cmd.Context()
	return withResolver(ctx, func(r *approles.Resolver, templates approles.TemplateSet) error {
		out := cmd.OutOrStdout()
		failing := 0
		for _, role := range targets {
			problems := r.Validate(ctx, role, templates)
			if len(problems) == 0 {
				fmt.Fprintf(out, "%s %s\n", okStyle.Render("✓"), role)
				continue
			}
			failing++
			fmt.Fprintf(out, "%s %s\n", warnStyle.Render("✗"), role)
			for _, p := range problems {
				fmt.Fprintf(out, "    %s\n", p)
			}
		}
		if failing > 0 {
			return fmt.Errorf("%d of %d roles have problems", failing, len(targets))
		}
		return nil
	})
}
