package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/debate/internal/cmd/config"
	"github.com/Iron-Ham/debate/internal/cmd/roles"
	appconfig "github.com/Iron-Ham/debate/internal/config"
	"github.com/Iron-Ham/debate/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "debate",
	Short: "Multi-agent debate orchestrator",
	Long: `Debate runs two planning agents against the same request over a bounded
number of rounds, measures how far they agree and puts the result in front of
a human for approval before any code is changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError ends the process with Code after the command has already
// reported the outcome on stdout.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitInternal is the exit status of failures whose message is not meant
// for the user, such as database or broker errors.
const ExitInternal = 2

// Execute runs the root command
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	var exit *ExitError
	if err != nil && !errors.As(err, &exit) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		if !errors.IsUserFacing(err) {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "This is an internal failure; `debate logs --level error` shows the details.")
		}
	}
	return err
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if !errors.IsUserFacing(err) {
		return ExitInternal
	}
	return 1
}

// scriptGroup collects the commands external orchestration scripts call.
const scriptGroup = "script"

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddGroup(&cobra.Group{ID: scriptGroup, Title: "Scripting Commands:"})

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/debate/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides store.path)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	config.Register(rootCmd)
	roles.Register(rootCmd, openResolver)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DEBATE")
	// e.g. DEBATE_QUEUE_REDIS_URL for queue.redis_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
