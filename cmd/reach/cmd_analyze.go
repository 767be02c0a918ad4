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
	"errors"
	"os"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/export"
	"github.com/spf13/cobra"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "reach.yaml"

// errSinkReachable is returned with --fail-on-reachable so scripts can
// branch on the exit status.
var errSinkReachable = errors.New("sink is reachable")

type analyzeOptions struct {
	configPath      string
	trace           string
	jsonOutput      bool
	failOnReachable bool
	maxMethods      int
}

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis",
		Long: `Build the call graph, apply the filter, reconcile the runtime trace and
write <simulator class>.dot and .json to output_dir_path, plus any configured
exports.

Examples:
  reach analyze -c reach.yaml
  reach analyze -c reach.yaml --trace dumps/2024-03-05_14-07-09__com.acme.Script1__.txt
  reach analyze -c reach.yaml --json --fail-on-reachable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, g, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", DefaultConfigPath, "Configuration file")
	cmd.Flags().StringVarP(&opts.trace, "trace", "t", "", "Override runtime_trace_file_path")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&opts.failOnReachable, "fail-on-reachable", false, "Exit non-zero when the sink is reachable")
	cmd.Flags().IntVar(&opts.maxMethods, "max-methods", 0, "Abort when the call graph exceeds this many methods (0 = unlimited)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalOptions, opts *analyzeOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.trace != "" {
		cfg.RuntimeTraceFilePath = opts.trace
	}

	flush, err := startTelemetry(cmd, g, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer flush()

	runner := analysis.NewRunner(
		analysis.WithLogger(g.logger),
		analysis.WithPasswordPrompt(export.TerminalPrompt(cmd.ErrOrStderr(), int(os.Stdin.Fd()))),
		analysis.WithMaxMethods(opts.maxMethods),
	)
	rep, runErr := runner.Run(cmd.Context(), cfg)
	if rep == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		renderReport(out, rep)
	}
	if runErr != nil {
		return runErr
	}
	if opts.failOnReachable && rep.SinkReachable() {
		return errSinkReachable
	}
	return nil
}
