// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconcile merges a recorded runtime trace into a statically built
// call graph.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.reach.reconcile")

const (
	// DefaultSimulatorClass houses the simulator when the input names none.
	DefaultSimulatorClass = "reach.RuntimeSimulator"

	// DefaultSimulatorMethod is the simulator method name.
	DefaultSimulatorMethod = "runtimeSimulator"
)

// ErrEmptyTrace is returned when the trace has no methods.
var ErrEmptyTrace = trace.ErrEmptyTrace

// Input names the reachability question for one run.
type Input struct {
	// Entry is where traversal starts.
	Entry sig.Method

	// Sink is the security-sensitive method.
	Sink sig.Method

	// Trace is the set of methods the recorded execution invoked. Must be
	// non-empty.
	Trace *trace.Set

	// SimulatorClass declares the simulator method. Empty selects
	// DefaultSimulatorClass.
	SimulatorClass string
}

// Witness is a shortest call chain from the entry to a sink caller.
type Witness struct {
	Caller sig.Method   `json:"caller"`
	Path   []sig.Method `json:"path"`
}

// Result describes one reconciliation.
type Result struct {
	Entry sig.Method `json:"entry"`
	Sink  sig.Method `json:"sink"`

	// Reach is every method visited from Entry before rewiring, sorted.
	Reach []sig.Method `json:"reach"`

	// SinkCallers are the visited methods that called Sink directly, sorted.
	SinkCallers []sig.Method `json:"sink_callers"`

	// SinkReachable is true iff SinkCallers is non-empty.
	SinkReachable bool `json:"sink_reachable"`

	// Simulator is the synthetic node standing in for the trace.
	Simulator sig.Method `json:"simulator"`

	// TraceEdgesAdded counts simulator → trace edges that were not already
	// present.
	TraceEdgesAdded int `json:"trace_edges_added"`

	// Rewired counts sink callers whose sink edge was replaced.
	Rewired int `json:"rewired"`

	// Witnesses holds one chain per sink caller, in SinkCallers order.
	Witnesses []Witness `json:"witnesses"`

	// Graph is the reconciled graph, the same instance passed to Run.
	Graph *callgraph.Graph `json:"-"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSimulatorMethod overrides the simulator method name.
func WithSimulatorMethod(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.simulatorMethod = name
		}
	}
}

// Engine performs reconciliation.
//
// Thread Safety: An Engine is stateless between runs and safe for
// concurrent use on distinct graphs.
type Engine struct {
	logger          *slog.Logger
	simulatorMethod string
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), simulatorMethod: DefaultSimulatorMethod}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Simulator returns the simulator method for a class.
func (e *Engine) Simulator(class string) sig.Method {
	if class == "" {
		class = DefaultSimulatorClass
	}
	return sig.NewMethod(sig.Class(class), "void", e.simulatorMethod)
}

// Run reconciles in.Trace into g in place.
//
// Description:
//
//	1. Breadth-first walk from in.Entry over outgoing calls, expanding each
//	   method once, collecting the methods that call in.Sink directly.
//	2. Add the simulator node R.
//	3. For every traced method m: add m, add R → m.
//	4. For every sink caller c: add c → R, remove c → Sink.
//
//	Steps 2-4 only use idempotent mutations, so their effect does not
//	depend on iteration order and a repeated run adds nothing new.
//
// Inputs:
//
//	ctx - Used for tracing; the run itself does not block.
//	g - The filtered call graph. Mutated.
//	in - Entry, sink, trace and simulator class.
//
// Outputs:
//
//	*Result - The outcome. Nil, with a nil error, when in.Entry is not in
//	g: that is a valid empty answer, not a failure.
//	error - ErrEmptyTrace if the trace is nil or empty. Graph errors are
//	not expected and indicate a bug.
func (e *Engine) Run(ctx context.Context, g *callgraph.Graph, in Input) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Run",
		oteltrace.WithAttributes(
			attribute.String("entry", in.Entry.String()),
			attribute.String("sink", in.Sink.String()),
			attribute.Int("trace_size", in.Trace.Len()),
		),
	)
	defer span.End()
	start := time.Now()

	if in.Trace.Len() == 0 {
		span.RecordError(ErrEmptyTrace)
		span.SetStatus(codes.Error, ErrEmptyTrace.Error())
		return nil, ErrEmptyTrace
	}

	if !g.Contains(in.Entry) {
		e.logger.WarnContext(ctx, "entry point not in call graph, nothing to reconcile",
			slog.String("entry", in.Entry.String()),
		)
		recordRun(outcomeEntryMissing, 0, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcomeEntryMissing))
		return nil, nil
	}

	reach, callers, err := e.walk(g, in.Entry, in.Sink)
	if err != nil {
		return nil, e.fail(span, err)
	}

	res := &Result{
		Entry:         in.Entry,
		Sink:          in.Sink,
		Reach:         reach,
		SinkCallers:   callers,
		SinkReachable: len(callers) > 0,
		Simulator:     e.Simulator(in.SimulatorClass),
		Witnesses:     make([]Witness, 0, len(callers)),
		Graph:         g,
	}
	for _, c := range callers {
		path, err := g.PathBetween(in.Entry, c)
		if err != nil {
			return nil, e.fail(span, err)
		}
		res.Witnesses = append(res.Witnesses, Witness{Caller: c, Path: path})
	}

	g.AddMethod(res.Simulator)
	for _, m := range in.Trace.Methods() {
		g.AddMethod(m)
		if g.HasCall(res.Simulator, m) {
			continue
		}
		if err := g.AddCall(res.Simulator, m); err != nil {
			return nil, e.fail(span, err)
		}
		res.TraceEdgesAdded++
	}

	for _, c := range callers {
		if err := g.AddCall(c, res.Simulator); err != nil {
			return nil, e.fail(span, err)
		}
		if err := g.RemoveCall(c, in.Sink); err != nil {
			return nil, e.fail(span, err)
		}
		res.Rewired++
	}

	outcome := outcomeSinkUnreachable
	if res.SinkReachable {
		outcome = outcomeSinkReachable
	}
	elapsed := time.Since(start)
	recordRun(outcome, res.Rewired, elapsed)

	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("reach", len(res.Reach)),
		attribute.Int("sink_callers", len(res.SinkCallers)),
		attribute.Int("trace_edges_added", res.TraceEdgesAdded),
	)
	span.SetStatus(codes.Ok, "")

	e.logger.InfoContext(ctx, "reconciliation complete",
		slog.String("entry", in.Entry.String()),
		slog.String("sink", in.Sink.String()),
		slog.String("simulator", res.Simulator.String()),
		slog.Bool("sink_reachable", res.SinkReachable),
		slog.Int("reach", len(res.Reach)),
		slog.Int("rewired", res.Rewired),
		slog.Int("trace_edges_added", res.TraceEdgesAdded),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

// walk visits every method reachable from entry once and returns the
// visited set and the visited methods calling sink directly, both sorted.
func (e *Engine) walk(g *callgraph.Graph, entry, sink sig.Method) ([]sig.Method, []sig.Method, error) {
	visited := map[sig.Method]struct{}{entry: {}}
	callers := make(map[sig.Method]struct{})
	queue := []sig.Method{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next, err := g.CallsFrom(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("walking from %s: %w", cur, err)
		}
		for _, dst := range next {
			if dst == sink {
				callers[cur] = struct{}{}
			}
			if _, seen := visited[dst]; seen {
				continue
			}
			visited[dst] = struct{}{}
			queue = append(queue, dst)
		}
	}
	return sig.SortedSet(visited), sig.SortedSet(callers), nil
}

func (e *Engine) fail(span oteltrace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("reconcile: %w", err)
}
