package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/metrics"
	"github.com/ashwinkrishna05/timetable-generator/internal/tui"
)

func newDashboardCmd() *cobra.Command {
	var (
		schoolArg string
		logFile   string
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the terminal dashboard for one school",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			school, err := domain.ParseSchoolID(schoolArg)
			if err != nil {
				return &exitError{code: exitInvalidConfig, err: fmt.Errorf("--school: %w", err)}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// The alternate screen owns stdout.
			var out io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return runtimeError("open log file: %v", err)
				}
				defer f.Close()
				out = f
			}
			logger.SetOutput(out)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c, err := build(ctx, cfg, metrics.NewNoopSink(), buildOptions{withDatabase: true, withRedis: true})
			if err != nil {
				return runtimeError("%v", err)
			}
			defer c.close()

			model := tui.New(ctx, school, c.cache, c.orchestrator, c.bus.Channel())
			if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return runtimeError("dashboard: %v", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&schoolArg, "school", "", "school id (required)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file while the dashboard runs")
	_ = cmd.MarkFlagRequired("school")
	return cmd
}
