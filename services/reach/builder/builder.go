// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder constructs an initial call graph from a program model using
// class hierarchy analysis (CHA) or rapid type analysis (RTA).
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.reach.builder")

// Sentinel errors.
var (
	// ErrUnknownAlgorithm indicates an algorithm name other than cha or rta.
	ErrUnknownAlgorithm = errors.New("unknown call graph algorithm")

	// ErrNoRoots indicates Build was called without root methods.
	ErrNoRoots = errors.New("no root methods")

	// ErrRootNotFound indicates a root method is not declared in the model.
	ErrRootNotFound = errors.New("root method not declared in model")

	// ErrMethodLimit indicates the reachable method count exceeded the
	// configured limit.
	ErrMethodLimit = errors.New("reachable method limit exceeded")
)

// Algorithm selects the call graph construction algorithm.
type Algorithm int

const (
	// CHA resolves dispatched calls against every concrete subtype of the
	// declared receiver type.
	CHA Algorithm = iota

	// RTA resolves dispatched calls only against subtypes instantiated by
	// reachable code.
	RTA
)

// String returns the lower-case algorithm name.
func (a Algorithm) String() string {
	switch a {
	case CHA:
		return "cha"
	case RTA:
		return "rta"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm parses "cha" or "rta", case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cha":
		return CHA, nil
	case "rta":
		return RTA, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

type options struct {
	logger     *slog.Logger
	maxMethods int
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxMethods bounds the number of reachable methods. Zero means no limit.
func WithMaxMethods(n int) Option {
	return func(o *options) { o.maxMethods = n }
}

// Build constructs a call graph reachable from roots.
//
// Description:
//
//	Runs a worklist over the model starting at roots. Each reached method
//	becomes a node and each resolved call target becomes an edge.
//
//	Static and special call sites bind to the first declaration of the
//	target's sub-signature in the declared class's superclass chain.
//	Virtual and interface sites dispatch over the concrete classes below
//	the declared class: every one for CHA, only instantiated ones for RTA.
//	A call whose declared class is outside the model, or that does not
//	resolve inside it, becomes an edge to the declared signature, which is
//	left as an unexpanded leaf. This keeps library sinks visible.
//
// Inputs:
//
//	ctx - Cancellation is checked between worklist items.
//	model - The program model. Must not be nil.
//	view - Hierarchy view over the same model. Must not be nil.
//	roots - Starting methods, each declared in the model.
//	algo - CHA or RTA.
//
// Outputs:
//
//	*callgraph.Graph - The constructed graph.
//	error - ErrNoRoots, ErrRootNotFound, ErrMethodLimit, or ctx.Err().
//
// Thread Safety: Safe for concurrent use with distinct graphs; model and
// view are only read.
func Build(ctx context.Context, model *program.Model, view hierarchy.View, roots []sig.Method, algo Algorithm, opts ...Option) (*callgraph.Graph, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "builder.Build",
		trace.WithAttributes(
			attribute.String("algorithm", algo.String()),
			attribute.Int("roots", len(roots)),
		),
	)
	defer span.End()
	start := time.Now()

	if model == nil || view == nil {
		return nil, fmt.Errorf("model and view must not be nil")
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	for _, r := range roots {
		if !model.HasMethod(r) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, r)
		}
	}

	w := &worklist{
		model:        model,
		view:         view,
		algo:         algo,
		maxMethods:   o.maxMethods,
		g:            callgraph.New(),
		reached:      make(map[sig.Method]bool),
		instantiated: make(map[sig.Class]bool),
	}
	for _, r := range roots {
		w.reach(r)
	}
	if err := w.run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	elapsed := time.Since(start)
	recordBuild(algo, w.g.NodeCount(), w.g.EdgeCount(), elapsed)
	span.SetAttributes(
		attribute.Int("methods", w.g.NodeCount()),
		attribute.Int("calls", w.g.EdgeCount()),
	)
	span.SetStatus(codes.Ok, "")
	o.logger.Info("call graph built",
		slog.String("algorithm", algo.String()),
		slog.Int("methods", w.g.NodeCount()),
		slog.Int("calls", w.g.EdgeCount()),
		slog.Int("instantiated_classes", len(w.instantiated)),
		slog.Duration("elapsed", elapsed),
	)
	return w.g, nil
}

// dispatchSite is a virtual or interface call awaiting receiver classes.
type dispatchSite struct {
	caller     sig.Method
	target     sig.Method
	candidates map[sig.Class]bool
}

type worklist struct {
	model      *program.Model
	view       hierarchy.View
	algo       Algorithm
	maxMethods int

	g       *callgraph.Graph
	reached map[sig.Method]bool
	queue   []sig.Method

	// RTA state: classes allocated by reached methods and the dispatch
	// sites to revisit when a new one appears.
	instantiated map[sig.Class]bool
	sites        []*dispatchSite
}

func (w *worklist) run(ctx context.Context) error {
	var shadow []sig.Method
	for len(w.queue) > 0 {
		shadow, w.queue = w.queue, shadow[:0]
		for _, m := range shadow {
			if err := ctx.Err(); err != nil {
				return err
			}
			if w.maxMethods > 0 && len(w.reached) > w.maxMethods {
				return fmt.Errorf("%w: %d", ErrMethodLimit, w.maxMethods)
			}
			w.visit(m)
		}
	}
	return nil
}

func (w *worklist) reach(m sig.Method) {
	w.g.AddMethod(m)
	if w.reached[m] {
		return
	}
	w.reached[m] = true
	if w.model.HasMethod(m) {
		w.queue = append(w.queue, m)
	}
}

func (w *worklist) edge(from, to sig.Method) {
	w.reach(to)
	// Both endpoints are registered by reach, so AddCall cannot fail.
	_ = w.g.AddCall(from, to)
}

func (w *worklist) visit(m sig.Method) {
	decl, ok := w.model.Method(m)
	if !ok || decl.Abstract {
		return
	}

	if w.algo == RTA {
		for _, cls := range decl.Instantiates {
			w.instantiate(cls)
		}
	}

	for _, call := range decl.Calls {
		if call.Kind.IsDispatched() {
			w.dispatch(m, call.Target)
			continue
		}
		w.bind(m, call.Target)
	}
}

func (w *worklist) bind(caller, target sig.Method) {
	if resolved, ok := w.model.ResolveMethod(target.Class(), target); ok {
		w.edge(caller, resolved.Sig)
		return
	}
	w.edge(caller, target)
}

func (w *worklist) dispatch(caller, target sig.Method) {
	if !w.view.Contains(target.Class()) {
		w.edge(caller, target)
		return
	}

	site := &dispatchSite{caller: caller, target: target, candidates: make(map[sig.Class]bool)}
	for _, cls := range w.view.AllImplementersOrSubclasses(target.Class()) {
		if decl, ok := w.model.Class(cls); ok && decl.Abstract {
			continue
		}
		site.candidates[cls] = true
	}

	if w.algo == CHA {
		for cls := range site.candidates {
			w.resolveOn(site, cls)
		}
		return
	}

	w.sites = append(w.sites, site)
	for cls := range site.candidates {
		if w.instantiated[cls] {
			w.resolveOn(site, cls)
		}
	}
}

func (w *worklist) resolveOn(site *dispatchSite, receiver sig.Class) {
	decl, ok := w.model.ResolveMethod(receiver, site.target)
	if !ok || decl.Abstract {
		return
	}
	w.edge(site.caller, decl.Sig)
}

func (w *worklist) instantiate(cls sig.Class) {
	if w.instantiated[cls] {
		return
	}
	w.instantiated[cls] = true
	for _, site := range w.sites {
		if site.candidates[cls] {
			w.resolveOn(site, cls)
		}
	}
}
