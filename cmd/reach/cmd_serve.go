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
	"log/slog"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/server"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// DefaultAddr is the listen address of the HTTP API.
const DefaultAddr = ":8080"

type serveOptions struct {
	addr         string
	snapshotDB   string
	maxReports   int
	rateLimit    float64
	rateBurst    int
	maxMethods   int
	debug        bool
	traces       string
	otlpEndpoint string
	metrics      string
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve analysis runs and stored snapshots over HTTP.

Endpoints:
  POST   /v1/reach/analyze
  GET    /v1/reach/runs[/:id[/dot]]
  GET    /v1/reach/snapshots?project=...
  GET    /v1/reach/snapshots/:id[?format=dot]
  GET    /v1/reach/snapshots/:id/diff/:target
  DELETE /v1/reach/snapshots/:id
  GET    /health, /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", DefaultAddr, "Listen address")
	f.StringVar(&opts.snapshotDB, "snapshot-db", "", "BadgerDB directory for snapshots (empty disables snapshot endpoints)")
	f.IntVar(&opts.maxReports, "max-reports", server.DefaultMaxReports, "Finished reports kept in memory")
	f.Float64Var(&opts.rateLimit, "rate", float64(server.DefaultRateLimit), "Analyze requests per second")
	f.IntVar(&opts.rateBurst, "burst", server.DefaultRateBurst, "Analyze request burst")
	f.IntVar(&opts.maxMethods, "max-methods", 0, "Abort runs whose call graph exceeds this many methods (0 = unlimited)")
	f.BoolVar(&opts.debug, "debug", false, "Gin debug mode and request logging")
	f.StringVar(&opts.traces, "traces", "none", "Trace exporter (none, stdout, otlp)")
	f.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for --traces otlp")
	f.StringVar(&opts.metrics, "metrics", "prometheus", "Metric exporter (none, prometheus, stdout)")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalOptions, opts *serveOptions) error {
	flush, err := startTelemetry(cmd, g, config.Telemetry{
		Traces:       opts.traces,
		OTLPEndpoint: opts.otlpEndpoint,
		Metrics:      opts.metrics,
	})
	if err != nil {
		return err
	}
	defer flush()

	runnerOpts := []analysis.Option{
		analysis.WithLogger(g.logger),
		analysis.WithMaxMethods(opts.maxMethods),
	}
	serverOpts := []server.Option{
		server.WithLogger(g.logger),
		server.WithMaxReports(opts.maxReports),
		server.WithRateLimit(rate.Limit(opts.rateLimit), opts.rateBurst),
		server.WithDebug(opts.debug),
	}
	if opts.snapshotDB != "" {
		db, err := callgraph.OpenBadger(opts.snapshotDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				g.logger.Warn("closing snapshot store", slog.String("error", err.Error()))
			}
		}()
		mgr, err := callgraph.NewSnapshotManager(db, g.logger)
		if err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, analysis.WithSnapshotManager(mgr))
		serverOpts = append(serverOpts, server.WithSnapshots(mgr))
	}

	srv := server.New(analysis.NewRunner(runnerOpts...), serverOpts...)
	return srv.ListenAndServe(cmd.Context(), opts.addr)
}
