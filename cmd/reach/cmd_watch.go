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
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/watch"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	configPath  string
	dir         string
	concurrency int
	settle      time.Duration
	initialScan bool
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyze every trace dump written to a directory",
		Long: `Watch a directory for trace dumps and run one analysis per dump, using the
configuration file with runtime_trace_file_path replaced by the dump path.

Writers should stage dumps under a hidden name (leading dot) and rename them
into place once complete. The directory defaults to the directory of the
configured runtime_trace_file_path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, g, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", DefaultConfigPath, "Configuration file")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Directory to watch")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", watch.DefaultConcurrency, "Maximum concurrent analyses")
	cmd.Flags().DurationVar(&opts.settle, "settle", watch.DefaultSettle, "Quiet period before a dump is analyzed")
	cmd.Flags().BoolVar(&opts.initialScan, "initial-scan", false, "Also analyze dumps already in the directory")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalOptions, opts *watchOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	dir := opts.dir
	if dir == "" {
		dir = filepath.Dir(cfg.RuntimeTraceFilePath)
	}

	flush, err := startTelemetry(cmd, g, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer flush()

	// Watch mode is unattended, so missing secrets fail instead of prompting.
	runner := analysis.NewRunner(analysis.WithLogger(g.logger))

	var mu sync.Mutex
	out := cmd.OutOrStdout()
	w := watch.New(runner, cfg, dir,
		watch.WithLogger(g.logger),
		watch.WithConcurrency(opts.concurrency),
		watch.WithSettle(opts.settle),
		watch.WithInitialScan(opts.initialScan),
		watch.WithResultFunc(func(_ string, rep *analysis.Report, _ error) {
			if rep == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			renderReport(out, rep)
		}),
	)
	return w.Run(cmd.Context())
}
