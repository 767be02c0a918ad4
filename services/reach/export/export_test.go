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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"
)

var (
	entrySig = sig.NewMethod("app.Main", "void", "main", "java.lang.String[]")
	simSig   = sig.NewMethod("Simulator", "void", "runtimeSimulator")
	execSig  = sig.NewMethod("java.lang.Runtime", "java.lang.Process", "exec", "java.lang.String")
)

func testArtifact(t *testing.T) *Artifact {
	t.Helper()
	g := callgraph.New()
	for _, m := range []sig.Method{entrySig, simSig, execSig} {
		g.AddMethod(m)
	}
	require.NoError(t, g.AddCall(entrySig, simSig))
	require.NoError(t, g.AddCall(simSig, execSig))
	return &Artifact{
		RunID:          "run-1",
		SimulatorClass: "Simulator",
		Graph:          g,
		Report:         map[string]any{"sink_reachable": true},
		Stats: RunStats{
			Algorithm:     "rta",
			Sink:          execSig.String(),
			Methods:       3,
			Calls:         2,
			Rewired:       1,
			SinkReachable: true,
			Duration:      1500 * time.Millisecond,
		},
		At: time.Unix(1700000000, 0),
	}
}

type fakeSink struct {
	name   string
	err    error
	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Export(context.Context, *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func TestFanout_RunsEverySinkAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: boom}
	also := &fakeSink{name: "also"}
	f := NewFanout(nil, ok, bad, also)

	err := f.Export(context.Background(), testArtifact(t))
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "bad: boom")
	for _, s := range []*fakeSink{ok, bad, also} {
		require.Equal(t, 1, s.calls, s.name)
	}

	require.NoError(t, f.Close())
	require.True(t, ok.closed)
	require.Equal(t, []string{"ok", "bad", "also"}, f.Names())
}

func TestFanout_NilArtifact(t *testing.T) {
	sink := &fakeSink{name: "s"}
	err := NewFanout(nil, sink).Export(context.Background(), &Artifact{})
	require.ErrorIs(t, err, ErrNilArtifact)
	require.Zero(t, sink.calls)
}

func TestFileSink_WritesDOTAndReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := NewFileSink(dir)
	a := testArtifact(t)
	require.NoError(t, s.Export(context.Background(), a))

	dotPath, reportPath := s.Paths(a)
	require.Equal(t, filepath.Join(dir, "Simulator.dot"), dotPath)

	dot, err := os.ReadFile(dotPath)
	require.NoError(t, err)
	require.Equal(t, a.Graph.ExportDOT(), string(dot))

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(raw, &report))
	require.Equal(t, true, report["sink_reachable"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no temporary files left behind")
}

func TestFileSink_OverwritesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir)
	a := testArtifact(t)
	require.NoError(t, s.Export(context.Background(), a))

	require.NoError(t, a.Graph.RemoveCall(simSig, execSig))
	require.NoError(t, s.Export(context.Background(), a))
	dot, err := os.ReadFile(filepath.Join(dir, "Simulator.dot"))
	require.NoError(t, err)
	require.NotContains(t, string(dot), `"`+simSig.String()+`" -> "`+execSig.String()+`";`)
	require.Contains(t, string(dot), "\t\""+execSig.String()+"\";\n", "the callee stays as a node")
}

type memObject struct {
	bytes.Buffer
	name        string
	contentType string
	closed      bool
}

func (o *memObject) Close() error {
	o.closed = true
	return nil
}

func TestGCSSink_UploadsBothObjects(t *testing.T) {
	var objects []*memObject
	s := &GCSSink{bucket: "b", prefix: "reach/runs"}
	s.open = func(_ context.Context, name, contentType string) io.WriteCloser {
		o := &memObject{name: name, contentType: contentType}
		objects = append(objects, o)
		return o
	}

	a := testArtifact(t)
	require.NoError(t, s.Export(context.Background(), a))
	require.Len(t, objects, 2)
	require.Equal(t, "reach/runs/run-1/Simulator.dot", objects[0].name)
	require.Equal(t, "text/vnd.graphviz", objects[0].contentType)
	require.True(t, strings.HasPrefix(objects[0].String(), "digraph"))
	require.Equal(t, "reach/runs/run-1/Simulator.json", objects[1].name)
	require.Equal(t, "application/json", objects[1].contentType)
	for _, o := range objects {
		require.True(t, o.closed, o.name)
	}
}

type recordedQuery struct {
	cypher string
	params map[string]any
}

func TestNeo4jSink_BatchesMethodsAndCalls(t *testing.T) {
	var queries []recordedQuery
	s := &Neo4jSink{batchSize: 2}
	s.run = func(_ context.Context, cypher string, params map[string]any) error {
		queries = append(queries, recordedQuery{cypher, params})
		return nil
	}

	require.NoError(t, s.Export(context.Background(), testArtifact(t)))

	var methodBatches, callBatches, simulator int
	var methodRows int
	for _, q := range queries {
		switch q.cypher {
		case cypherMethods:
			methodBatches++
			methodRows += len(q.params["batch"].([]map[string]any))
		case cypherCalls:
			callBatches++
			require.Equal(t, "run-1", q.params["run_id"])
		case cypherSimulator:
			simulator++
			require.Equal(t, simSig.String(), q.params["sig"])
		}
	}
	require.Equal(t, cypherMethodIndex, queries[0].cypher)
	require.Equal(t, 2, methodBatches, "3 methods at batch size 2")
	require.Equal(t, 3, methodRows)
	require.Equal(t, 1, callBatches)
	require.Equal(t, 1, simulator)
}

func TestNeo4jSink_PropagatesErrors(t *testing.T) {
	boom := errors.New("unavailable")
	s := &Neo4jSink{run: func(context.Context, string, map[string]any) error { return boom }}
	err := s.Export(context.Background(), testArtifact(t))
	require.ErrorIs(t, err, boom)
}

func TestResolveSecret(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		t.Setenv("REACH_TEST_SECRET", "s3cret")
		prompt := func(string) ([]byte, error) {
			t.Fatal("prompt must not be called when the variable is set")
			return nil, nil
		}
		enc, err := ResolveSecret("pw", "REACH_TEST_SECRET", prompt)
		require.NoError(t, err)
		buf, err := enc.Open()
		require.NoError(t, err)
		defer buf.Destroy()
		require.Equal(t, "s3cret", buf.String())
	})
	t.Run("prompt", func(t *testing.T) {
		enc, err := ResolveSecret("pw", "REACH_TEST_UNSET", func(string) ([]byte, error) {
			return []byte("typed"), nil
		})
		require.NoError(t, err)
		buf, err := enc.Open()
		require.NoError(t, err)
		defer buf.Destroy()
		require.Equal(t, "typed", buf.String())
	})
	t.Run("missing", func(t *testing.T) {
		_, err := ResolveSecret("pw", "REACH_TEST_UNSET", nil)
		require.ErrorIs(t, err, ErrMissingSecret)
	})
	t.Run("empty prompt", func(t *testing.T) {
		_, err := ResolveSecret("pw", "", func(string) ([]byte, error) { return nil, nil })
		require.ErrorIs(t, err, ErrMissingSecret)
	})
}

type fakePointWriter struct {
	points []*write.Point
}

func (w *fakePointWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	w.points = append(w.points, p...)
	return nil
}

func TestInfluxSink_WritesRunPoint(t *testing.T) {
	w := &fakePointWriter{}
	s := &InfluxSink{writer: w}
	require.NoError(t, s.Export(context.Background(), testArtifact(t)))
	require.Len(t, w.points, 1)

	line := write.PointToLineProtocol(w.points[0], time.Second)
	require.True(t, strings.HasPrefix(line, Measurement+","), line)
	for _, want := range []string{"algorithm=rta", "simulator=Simulator", "rewired=1i", "sink_reachable=true", "duration_ms=1500i", " 1700000000"} {
		require.Contains(t, line, want)
	}
}

func TestNewInfluxSink_RequiresToken(t *testing.T) {
	_, err := NewInfluxSink(config.InfluxExport{URL: "http://localhost:8086", TokenEnv: "REACH_TEST_UNSET", Org: "o", Bucket: "b"})
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestFromConfig_FileOnly(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDirPath = t.TempDir()
	f, err := FromConfig(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, []string{"file"}, f.Names())
}

func TestFromConfig_MissingSecretFails(t *testing.T) {
	cfg := config.Default()
	cfg.Exports.Influx = &config.InfluxExport{URL: "http://localhost:8086", TokenEnv: "REACH_TEST_UNSET", Org: "o", Bucket: "b"}
	_, err := FromConfig(context.Background(), cfg, nil, nil)
	require.ErrorIs(t, err, ErrMissingSecret)
}
