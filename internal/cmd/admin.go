package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/verify"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var schemaCheckCmd = &cobra.Command{
	Use:   "schema-check",
	Short: "Report tables missing from the database",
	Args:  cobra.NoArgs,
	RunE:  runSchemaCheck,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Run the project's tests, linter and build",
	Long: `Detect the test, lint and build commands of the project in dir (default:
agent.directory) from its package.json, pyproject.toml, go.mod or Cargo.toml,
run them and report the result together with the diff of the last commit.

Exits non-zero unless every detected check passed. With --task the result is
stored with the task.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

var (
	verifyTask   string
	verifyFormat string
)

func init() {
	verifyCmd.Flags().StringVarP(&verifyTask, "task", "t", "", "Record the result for this task slug")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", formatText, "Output format: text, json or yaml")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(schemaCheckCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		missing, err := a.store.MissingTables(ctx)
		if err != nil {
			return err
		}
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(missing) == 0 {
			fmt.Fprintln(out, "Schema is up to date.")
			return nil
		}
		fmt.Fprintf(out, "Created %d tables: %s\n", len(missing), strings.Join(missing, ", "))
		return nil
	})
}

func runSchemaCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		missing, err := a.store.MissingTables(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		field(out, "Database", a.cfg.Store.ResolvePath())
		for _, t := range store.Tables {
			mark := okStyle.Render("✓")
			for _, m := range missing {
				if m == t {
					mark = failStyle.Render("✗")
				}
			}
			fmt.Fprintf(out, "%s %s\n", mark, t)
		}
		if len(missing) > 0 {
			fmt.Fprintln(out, warnStyle.Render("Run 'debate migrate' to create the missing tables."))
			return &ExitError{Code: 1}
		}
		return nil
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := checkFormat(verifyFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		dir := a.directory()
		if len(args) == 1 {
			dir = args[0]
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", dir)
		}

		v := verify.New(verify.NewCLICommandExecutor(), a.logger)
		var (
			result *domain.Verification
			err    error
		)
		if verifyTask != "" {
			task, terr := a.store.GetTaskBySlug(ctx, verifyTask)
			if terr != nil {
				return terr
			}
			result, err = v.RunAndRecord(ctx, a.store, task.ID, dir)
		} else {
			result, err = v.Run(ctx, dir)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if ok, err := writeStructured(out, verifyFormat, result); ok {
			if err != nil {
				return err
			}
		} else {
			printVerification(out, result)
		}
		if result.Status != domain.VerificationPassed {
			return &ExitError{Code: 1}
		}
		return nil
	})
}

func printVerification(out io.Writer, v *domain.Verification) {
	for _, c := range v.Checks {
		var mark string
		switch {
		case !c.Ran:
			mark = labelStyle.Render("-")
		case c.Passed:
			mark = okStyle.Render("✓")
		default:
			mark = failStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %-5s %s", mark, c.Kind, c.Command)
		switch {
		case c.Kind == verify.KindTest && c.Total > 0:
			line += labelStyle.Render(fmt.Sprintf("  %d/%d passed", c.Total-c.Failed, c.Total))
		case c.Kind == verify.KindLint && c.Ran:
			line += labelStyle.Render(fmt.Sprintf("  %d errors, %d warnings", c.Errors, c.Warnings))
		case !c.Ran:
			line += labelStyle.Render("  " + c.Output)
		}
		fmt.Fprintln(out, line)
		if c.Ran && !c.Passed && c.Output != "" {
			fmt.Fprintln(out, labelStyle.Render(indent(lastLines(c.Output, 15), "    ")))
		}
	}
	fmt.Fprintf(out, "\n%s %d files, +%d -%d\n", labelStyle.Render("Diff:"), len(v.FilesChanged), v.LinesAdded, v.LinesRemoved)
	field(out, "Result", verificationStyle(v.Status))
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
