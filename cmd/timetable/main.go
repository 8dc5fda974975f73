package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashwinkrishna05/timetable-generator/internal/config"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func runtimeError(format string, args ...any) error {
	return &exitError{code: exitRuntimeError, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "timetable",
		Short: "School timetable generation service",
		Long: `timetable drives timetable generation for schools against the scheduling service.

It serves an HTTP API, warms school summaries on a schedule and offers a
terminal dashboard with a "Generate Timetables" action.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newDashboardCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads and validates configuration, then configures logging.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.AppEnv)

	if err := config.Validate(cfg); err != nil {
		return cfg, &exitError{code: exitInvalidConfig, err: fmt.Errorf("configuration error: %w", err)}
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return &exitError{code: exitInvalidConfig, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Load().MaskedJSON()
			if err != nil {
				return runtimeError("failed to marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "timetable version %s (commit: %s)\n", version, commit)
		},
	}
}
