// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement written once per run.
const Measurement = "reach_run"

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink records one reach_run point per run.
//
// Tags: algorithm, sink, simulator. Fields: methods, calls, calls_removed,
// trace_edges_added, sink_callers, rewired, sink_reachable, duration_ms,
// run_id.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInfluxSink creates an InfluxSink. The token is read from the
// environment variable cfg.TokenEnv.
func NewInfluxSink(cfg config.InfluxExport) (*InfluxSink, error) {
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: influx token (set %s)", ErrMissingSecret, cfg.TokenEnv)
	}
	client := influxdb2.NewClient(cfg.URL, token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Point builds the point written for a.
func Point(a *Artifact) *write.Point {
	st := a.Stats
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"algorithm": st.Algorithm,
			"sink":      st.Sink,
			"simulator": a.SimulatorClass,
		},
		map[string]any{
			"run_id":            a.RunID,
			"methods":           st.Methods,
			"calls":             st.Calls,
			"calls_removed":     st.CallsRemoved,
			"trace_edges_added": st.TraceEdgesAdded,
			"sink_callers":      st.SinkCallers,
			"rewired":           st.Rewired,
			"sink_reachable":    st.SinkReachable,
			"duration_ms":       st.Duration.Milliseconds(),
		},
		at)
}

// Export implements Sink.
func (s *InfluxSink) Export(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := s.writer.WritePoint(ctx, Point(a)); err != nil {
		return fmt.Errorf("write %s point: %w", Measurement, err)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
