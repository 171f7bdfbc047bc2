package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/config"
	"github.com/Iron-Ham/debate/internal/roles"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the database and check the role setup",
	Long: `Create the database tables if they are missing and check every role
against the known agents and prompt templates.

Run 'debate config init' to write a commented configuration file.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if err := a.store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Debate initialized successfully!")
		field(out, "Database", a.cfg.Store.ResolvePath())
		field(out, "Logs", a.cfg.Logging.ResolveDir())
		if _, err := os.Stat(config.ConfigFile()); err == nil {
			field(out, "Config", config.ConfigFile())
		} else {
			field(out, "Config", labelStyle.Render("defaults (run 'debate config init')"))
		}

		problems := 0
		for _, role := range roles.All() {
			for _, p := range a.resolver.Validate(ctx, role, a.library) {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("%s: %s", role, p)))
				problems++
			}
		}
		if problems > 0 {
			fmt.Fprintln(out, labelStyle.Render("Fix the roles above with 'debate roles set'."))
		}
		return nil
	})
}
