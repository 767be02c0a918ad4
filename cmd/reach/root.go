// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/telemetry"
	"github.com/spf13/cobra"
)

const telemetryFlushTimeout = 5 * time.Second

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "reach",
		Short: "Reconcile static call graphs with runtime traces",
		Long: `reach builds a static call graph for a program, removes calls denied by
the configured filter, and splices a runtime trace into the graph to decide
whether a sink method is reachable from an entry point.

Commands:
  init       - Write a configuration file interactively
  analyze    - Run one analysis
  watch      - Analyze every trace dump written to a directory
  serve      - Serve the HTTP API
  snapshots  - Inspect stored call graph snapshots`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", telemetry.FormatAuto, "Log format (auto, text, json)")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newWatchCmd(opts),
		newServeCmd(opts),
		newInitCmd(opts),
		newSnapshotsCmd(opts),
	)
	return cmd
}

// startTelemetry installs the configured providers and returns a function
// that flushes them.
func startTelemetry(cmd *cobra.Command, opts *globalOptions, cfg config.Telemetry) (func(), error) {
	providers, err := telemetry.Setup(cmd.Context(), cfg, cmd.ErrOrStderr(), version)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			opts.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}
