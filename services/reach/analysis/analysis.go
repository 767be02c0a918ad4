// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs one reconciliation end to end.
//
// A run loads the program through a frontend, builds the call graph with
// CHA or RTA, prunes it with the configured filter policy, splices the
// recorded runtime trace in front of the sink, and hands the result to the
// export sinks and, optionally, the snapshot store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/builder"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/export"
	"github.com/AleutianAI/AleutianReach/services/reach/filter"
	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/reconcile"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.reach.analysis")

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSinks replaces the sinks built from configuration.
func WithSinks(sinks ...export.Sink) Option {
	return func(r *Runner) {
		r.sinks = sinks
		r.fixedSinks = true
	}
}

// WithPasswordPrompt sets how missing sink secrets are read.
func WithPasswordPrompt(p export.PasswordPrompt) Option {
	return func(r *Runner) { r.prompt = p }
}

// WithSnapshotManager stores every finished graph through m instead of
// opening the configured snapshot_db_path.
func WithSnapshotManager(m *callgraph.SnapshotManager) Option {
	return func(r *Runner) { r.snapshots = m }
}

// WithMaxMethods bounds the call graph size. See builder.WithMaxMethods.
func WithMaxMethods(n int) Option {
	return func(r *Runner) { r.maxMethods = n }
}

// Runner executes analysis runs.
//
// Thread Safety: Safe for concurrent use. Runs share no mutable state
// beyond the sinks, which must themselves be safe for concurrent use.
type Runner struct {
	logger     *slog.Logger
	sinks      []export.Sink
	fixedSinks bool
	prompt     export.PasswordPrompt
	snapshots  *callgraph.SnapshotManager
	maxMethods int
	now        func() time.Time
	newRunID   func() string
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:   slog.Default(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one analysis.
//
// Description:
//
//	1. Decode the trace dump name to find the simulator class.
//	2. Load the program through the configured frontend.
//	3. Snapshot the type hierarchy.
//	4. Read the trace. An empty trace fails the run.
//	5. Parse the filter rules.
//	6. Resolve the entry, sink and, for RTA, main signatures.
//	7. Build the call graph and apply the filter.
//	8. Reconcile the trace into the graph.
//	9. Save a snapshot and export, unless the entry was never reached.
//
// Inputs:
//
//	ctx - Cancels loading, building and filtering.
//	cfg - A validated configuration.
//
// Outputs:
//
//	*Report - The outcome. Non-nil whenever reconciliation completed, even
//	if snapshotting or exporting then failed.
//	error - Configuration, frontend and resolution failures stop the run.
//	Snapshot and export failures are joined and returned with the report.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*Report, error) {
	runID := r.newRunID()
	started := r.now()
	logger := r.logger.With(slog.String("run_id", runID))

	ctx, span := tracer.Start(ctx, "analysis.Run",
		oteltrace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("class_path", cfg.ClassPath),
			attribute.String("algorithm", cfg.CallGraphAlgo),
		),
	)
	defer span.End()

	report, err := r.run(ctx, cfg, &Report{RunID: runID, Project: cfg.ClassPath, StartedAt: started}, logger)
	elapsed := r.now().Sub(started)
	recordRun(report, err, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("analysis failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		return report, err
	}
	span.SetAttributes(attribute.Bool("sink_reachable", report.SinkReachable()))
	span.SetStatus(codes.Ok, "")
	logger.Info("analysis complete",
		slog.Bool("sink_reachable", report.SinkReachable()),
		slog.Int("methods", report.Final.Methods),
		slog.Int("calls", report.Final.Calls),
		slog.Duration("elapsed", elapsed))
	return report, nil
}

func (r *Runner) run(ctx context.Context, cfg *config.Config, rep *Report, logger *slog.Logger) (*Report, error) {
	algo, err := builder.ParseAlgorithm(cfg.CallGraphAlgo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	rep.Algorithm = algo.String()
	rep.TraceFile = cfg.RuntimeTraceFilePath

	dump, err := trace.ParseDumpName(cfg.RuntimeTraceFilePath)
	if err != nil {
		return nil, err
	}
	rep.SimulatorClass = dump.SimulatorClass()

	model, frontend, libraryClasses, err := r.loadModel(ctx, cfg, logger)
	rep.Frontend = frontend
	if err != nil {
		return nil, err
	}
	rep.Model = model.Stats()
	rep.LibraryClasses = libraryClasses
	view := hierarchy.New(model)
	logger.Info("program loaded",
		slog.String("frontend", frontend),
		slog.Int("classes", rep.Model.Classes),
		slog.Int("methods", rep.Model.Methods),
		slog.String("hierarchy_snapshot", view.SnapshotID()))

	traced, err := trace.ReadFile(cfg.RuntimeTraceFilePath)
	if err != nil {
		return nil, err
	}
	rep.TraceMethods = traced.Len()

	policy, err := filter.ParseRules(cfg.FilterDefaultPolicy, cfg.Filter, filter.WithPolicyLogger(logger))
	if err != nil {
		return nil, err
	}

	entry, sink, roots, err := resolveSignatures(cfg, model, algo, logger)
	if err != nil {
		return nil, err
	}
	rep.Entry, rep.Sink = entry, sink
	rep.SinkInModel = model.HasMethod(sink)
	if algo == builder.RTA {
		rep.Main = roots[0].String()
	}

	bopts := []builder.Option{builder.WithLogger(logger)}
	if r.maxMethods > 0 {
		bopts = append(bopts, builder.WithMaxMethods(r.maxMethods))
	}
	g, err := builder.Build(ctx, model, view, roots, algo, bopts...)
	if err != nil {
		return nil, fmt.Errorf("build call graph: %w", err)
	}
	rep.Built = graphStats(g)

	rep.Filter, err = filter.ApplyFilter(ctx, g, view, policy,
		filter.WithWorkers(cfg.FilterWorkers), filter.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("apply filter: %w", err)
	}

	engine := reconcile.NewEngine(
		reconcile.WithLogger(logger),
		reconcile.WithSimulatorMethod(cfg.SimulatorMethodName),
	)
	result, err := engine.Run(ctx, g, reconcile.Input{
		Entry:          entry,
		Sink:           sink,
		Trace:          traced,
		SimulatorClass: rep.SimulatorClass,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	rep.Reconciliation = result
	rep.Final = graphStats(g)
	rep.graph = g
	rep.DurationMillis = r.now().Sub(rep.StartedAt).Milliseconds()

	if result == nil {
		logger.Warn("entry point not reached; nothing exported",
			slog.String("entry", entry.String()))
		return rep, nil
	}
	return rep, r.publish(ctx, cfg, rep, logger)
}

// resolveSignatures parses the configured signatures and checks them
// against the model. The sink may be a library method outside the model.
func resolveSignatures(cfg *config.Config, model *program.Model, algo builder.Algorithm, logger *slog.Logger) (entry, sink sig.Method, roots []sig.Method, err error) {
	parse := func(role, text string, mustExist bool) (sig.Method, error) {
		m, err := sig.ParseMethod(text)
		if err != nil {
			return sig.Method{}, &UnresolvedSignatureError{Role: role, Signature: text, Err: err}
		}
		if mustExist && !model.HasMethod(m) {
			return sig.Method{}, &UnresolvedSignatureError{Role: role, Signature: text}
		}
		return m, nil
	}

	if sink, err = parse(RoleSink, cfg.SinkMethodSig, false); err != nil {
		return
	}
	if !model.HasMethod(sink) {
		logger.Info("sink is not declared in the program; treating it as a library leaf",
			slog.String("sink", sink.String()))
	}
	if entry, err = parse(RoleEntry, cfg.EntryPointMethodSig, true); err != nil {
		return
	}
	if algo == builder.CHA {
		return entry, sink, []sig.Method{entry}, nil
	}
	main, err := parse(RoleMain, cfg.MainMethodSig, true)
	if err != nil {
		return
	}
	return entry, sink, []sig.Method{main}, nil
}

// publish saves the snapshot and runs the sinks. Both are attempted even
// if one fails.
func (r *Runner) publish(ctx context.Context, cfg *config.Config, rep *Report, logger *slog.Logger) error {
	var errs []error
	if meta, err := r.saveSnapshot(ctx, cfg, rep, logger); err != nil {
		errs = append(errs, fmt.Errorf("snapshot: %w", err))
	} else {
		rep.Snapshot = meta
	}

	var fanout *export.Fanout
	if r.fixedSinks {
		fanout = export.NewFanout(logger, r.sinks...)
	} else {
		f, err := export.FromConfig(ctx, cfg, r.prompt, logger)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("export: %w", err))...)
		}
		fanout = f
		defer fanout.Close()
	}
	rep.Exports = fanout.Names()

	res := rep.Reconciliation
	artifact := &export.Artifact{
		RunID:          rep.RunID,
		SimulatorClass: rep.SimulatorClass,
		Graph:          rep.graph,
		Report:         rep,
		At:             r.now(),
		Stats: export.RunStats{
			Project:         rep.Project,
			Algorithm:       rep.Algorithm,
			Sink:            rep.Sink.String(),
			Methods:         rep.Final.Methods,
			Calls:           rep.Final.Calls,
			CallsRemoved:    rep.Filter.CallsRemoved,
			TraceEdgesAdded: res.TraceEdgesAdded,
			SinkCallers:     len(res.SinkCallers),
			Rewired:         res.Rewired,
			SinkReachable:   res.SinkReachable,
			Duration:        time.Duration(rep.DurationMillis) * time.Millisecond,
		},
	}
	if err := fanout.Export(ctx, artifact); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Runner) saveSnapshot(ctx context.Context, cfg *config.Config, rep *Report, logger *slog.Logger) (*callgraph.SnapshotMetadata, error) {
	mgr := r.snapshots
	if mgr == nil {
		if cfg.SnapshotDBPath == "" {
			return nil, nil
		}
		db, err := callgraph.OpenBadger(cfg.SnapshotDBPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if mgr, err = callgraph.NewSnapshotManager(db, logger); err != nil {
			return nil, err
		}
	}
	run := callgraph.RunSummary{
		Algorithm:      rep.Algorithm,
		Entry:          rep.Entry.String(),
		Sink:           rep.Sink.String(),
		SimulatorClass: rep.SimulatorClass,
	}
	if res := rep.Reconciliation; res != nil {
		run.EntryReached = true
		run.SinkReachable = res.SinkReachable
		run.SinkCallers = len(res.SinkCallers)
		run.Rewired = res.Rewired
	}
	return mgr.Save(ctx, rep.graph, callgraph.SaveOptions{
		Project: rep.Project,
		RunID:   rep.RunID,
		Run:     run,
	})
}
