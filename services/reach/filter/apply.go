// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.reach.filter")

// Stats summarizes one ApplyFilter pass.
type Stats struct {
	// Sources is the number of methods with at least one outgoing call.
	Sources int `json:"sources"`

	// DeniedSources is the number of those whose calls were removed.
	DeniedSources int `json:"denied_sources"`

	CallsRemoved int `json:"calls_removed"`
	CallsKept    int `json:"calls_kept"`
}

type applyOptions struct {
	workers int
	logger  *slog.Logger
}

// ApplyOption configures ApplyFilter.
type ApplyOption func(*applyOptions)

// WithWorkers sets how many sources are evaluated in parallel. Values below
// 1 mean sequential evaluation.
func WithWorkers(n int) ApplyOption {
	return func(o *applyOptions) { o.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ApplyOption {
	return func(o *applyOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

type sourceCalls struct {
	src     sig.Method
	targets []sig.Method
	denied  []sig.Method
}

// ApplyFilter removes every call whose source the policy denies.
//
// Description:
//
//	A one-shot pruning pass. Calls added to g afterwards are not filtered.
//	Verdicts may be computed by several workers, each owning a disjoint set
//	of sources. The graph is only mutated after every verdict is known, so
//	the result does not depend on the worker count.
//
// Inputs:
//
//	ctx - Checked between sources.
//	g - The graph to prune in place.
//	view - Hierarchy the rules are evaluated against.
//	policy - The rule set.
//
// Outputs:
//
//	Stats - Counts of removed and kept calls.
//	error - ctx.Err() if cancelled; the graph is untouched in that case.
//
// Thread Safety: g must not be used concurrently.
func ApplyFilter(ctx context.Context, g *callgraph.Graph, view hierarchy.View, policy *Policy, opts ...ApplyOption) (Stats, error) {
	o := applyOptions{workers: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	ctx, span := tracer.Start(ctx, "filter.ApplyFilter",
		trace.WithAttributes(
			attribute.Int("workers", o.workers),
			attribute.String("snapshot_id", view.SnapshotID()),
		),
	)
	defer span.End()
	start := time.Now()

	var work []*sourceCalls
	for _, m := range g.Methods() {
		targets, err := g.CallsFrom(m)
		if err != nil {
			return Stats{}, fmt.Errorf("listing calls from %s: %w", m, err)
		}
		if len(targets) > 0 {
			work = append(work, &sourceCalls{src: m, targets: targets})
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.workers)
	for _, w := range work {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for _, t := range w.targets {
				if policy.DeniedEdge(w.src, t, view) {
					w.denied = append(w.denied, t)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}

	stats := Stats{Sources: len(work)}
	for _, w := range work {
		if len(w.denied) > 0 {
			stats.DeniedSources++
		}
		for _, t := range w.denied {
			if err := g.RemoveCall(w.src, t); err != nil {
				return stats, err
			}
		}
		stats.CallsRemoved += len(w.denied)
		stats.CallsKept += len(w.targets) - len(w.denied)
	}

	recordApply(stats, time.Since(start))
	span.SetAttributes(
		attribute.Int("sources", stats.Sources),
		attribute.Int("calls_removed", stats.CallsRemoved),
		attribute.Int("calls_kept", stats.CallsKept),
	)
	span.SetStatus(codes.Ok, "")
	o.logger.Info("filter applied",
		slog.Int("sources", stats.Sources),
		slog.Int("denied_sources", stats.DeniedSources),
		slog.Int("calls_removed", stats.CallsRemoved),
		slog.Int("calls_kept", stats.CallsKept),
	)
	return stats, nil
}
