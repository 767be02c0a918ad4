// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export delivers the results of an analysis run to output sinks.
//
// Every run produces an Artifact: the reconciled call graph, rendered as DOT,
// and a JSON report. The file sink is always present; Google Cloud Storage,
// Neo4j, and InfluxDB sinks are added from configuration.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors.
var (
	// ErrNilArtifact indicates Export was called without an artifact or graph.
	ErrNilArtifact = errors.New("artifact and graph must not be nil")

	// ErrMissingSecret indicates a sink credential could not be resolved.
	ErrMissingSecret = errors.New("missing secret")
)

// RunStats are the scalar results of a run, used by metric sinks.
type RunStats struct {
	Project         string
	Algorithm       string
	Sink            string
	Methods         int
	Calls           int
	CallsRemoved    int
	TraceEdgesAdded int
	SinkCallers     int
	Rewired         int
	SinkReachable   bool
	Duration        time.Duration
}

// Artifact is everything a sink may persist for one run.
type Artifact struct {
	RunID string

	// SimulatorClass names the output files, as in "<class>.dot".
	SimulatorClass string

	Graph *callgraph.Graph

	// Report is marshalled to JSON as "<class>.json".
	Report any

	Stats RunStats

	// At is the run's completion time.
	At time.Time
}

// DOT renders the graph.
func (a *Artifact) DOT() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Graph.WriteDOT(&buf); err != nil {
		return nil, fmt.Errorf("render dot: %w", err)
	}
	return buf.Bytes(), nil
}

// ReportJSON renders the report.
func (a *Artifact) ReportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(a.Report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// DOTName and ReportName are the object names used by file-like sinks.
func (a *Artifact) DOTName() string { return a.SimulatorClass + ".dot" }
func (a *Artifact) ReportName() string { return a.SimulatorClass + ".json" }

func (a *Artifact) validate() error {
	if a == nil || a.Graph == nil {
		return ErrNilArtifact
	}
	return nil
}

// Sink persists artifacts.
type Sink interface {
	// Name identifies the sink in logs and reports.
	Name() string

	// Export persists a. Implementations must not modify the graph.
	Export(ctx context.Context, a *Artifact) error
}

// Fanout exports to several sinks concurrently.
//
// Thread Safety: Safe for concurrent use if every sink is.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a Fanout over sinks. A nil logger uses slog.Default().
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Add appends sinks.
func (f *Fanout) Add(sinks ...Sink) { f.sinks = append(f.sinks, sinks...) }

// Names returns the sink names in order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Export runs every sink, even when some fail.
//
// Outputs:
//
//	error - The errors of all failed sinks joined with errors.Join, each
//	prefixed with the sink name. Nil if all succeeded.
func (f *Fanout) Export(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			start := time.Now()
			if err := s.Export(ctx, a); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				recordExport(s.Name(), false)
				f.logger.Error("export failed",
					slog.String("sink", s.Name()),
					slog.String("run_id", a.RunID),
					slog.String("error", err.Error()))
				return nil
			}
			recordExport(s.Name(), true)
			f.logger.Info("exported",
				slog.String("sink", s.Name()),
				slog.String("run_id", a.RunID),
				slog.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
