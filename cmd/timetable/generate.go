package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/generation"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
)

func newGenerateCmd() *cobra.Command {
	var (
		schoolArg string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate timetables for one school and wait for the outcome",
		Long: `generate resolves the school's classes, submits them to the scheduling
service and refreshes the cached summary. It exits 0 when the request was
accepted and 1 otherwise. A failed summary refresh is reported but does not
change the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			school, err := domain.ParseSchoolID(schoolArg)
			if err != nil {
				return &exitError{code: exitInvalidConfig, err: fmt.Errorf("--school: %w", err)}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			c, err := build(ctx, cfg, metrics.NewNoopSink(), buildOptions{withDatabase: true, withRedis: true})
			if err != nil {
				return runtimeError("%v", err)
			}
			defer c.close()

			res, err := c.orchestrator.Start(ctx, school)
			if err != nil {
				return runtimeError("school %s: %v", school, err)
			}
			printResult(cmd.OutOrStdout(), res)

			if res.Outcome.Kind != domain.OutcomeSuccess {
				return &exitError{code: exitRuntimeError}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schoolArg, "school", "", "school id (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the run (0 disables)")
	_ = cmd.MarkFlagRequired("school")
	return cmd
}

func printResult(w io.Writer, res generation.Result) {
	fmt.Fprintf(w, "[%s] school %s: %s\n", res.Outcome.Level(), res.SchoolID, res.Outcome.Message())
	if res.Accepted != nil {
		fmt.Fprintf(w, "  classes submitted: %d\n", res.ClassCount)
		if res.Accepted.Message != "" {
			fmt.Fprintf(w, "  scheduler: %s\n", res.Accepted.Message)
		}
	}
	if res.Summary != nil {
		fmt.Fprintf(w, "  timetables generated: %d\n", res.Summary.ClassesWithTimetables)
	}
	if res.RefreshErr != nil {
		msg := res.RefreshErr.Error()
		if errors.Is(res.RefreshErr, context.Canceled) {
			msg = "skipped"
		}
		fmt.Fprintf(w, "  summary refresh: %s\n", msg)
	}
	fmt.Fprintf(w, "  run %s took %s\n", res.RunID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
