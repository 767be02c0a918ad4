// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const configTemplate = `class_path: ../program/testdata/plugins.yaml
runtime_trace_file_path: %s
output_dir_path: %s
call_graph_algo: rta
main_method_sig: "<com.acme.Main: void main(java.lang.String[])>"
entry_point_method_sig: "%s"
sink_method_sig: "<java.lang.Runtime: java.lang.Process exec(java.lang.String)>"
`

const handleSig = "<com.acme.Server: void handle(java.lang.String)>"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func inlineConfig(t *testing.T, entry string) string {
	t.Helper()
	dir := t.TempDir()
	dump, err := trace.WriteDump(dir, "com.acme.Script1", time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
		trace.NewSet(sig.MustParseMethod("<java.lang.Runtime: java.lang.Process exec(java.lang.String)>")))
	require.NoError(t, err)
	return fmt.Sprintf(configTemplate, dump, filepath.Join(dir, "out"), entry)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func newTestServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	runner := analysis.NewRunner(analysis.WithLogger(quietLogger()), analysis.WithSinks())
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(runner, opts...).Router()
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHandleAnalyze_RunAndFetch(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodPost, "/v1/reach/analyze", AnalyzeRequest{Config: inlineConfig(t, handleSig)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		RunID         string `json:"run_id"`
		SinkReachable bool   `json:"sink_reachable"`
	}](t, w)
	require.NotEmpty(t, resp.RunID)
	require.True(t, resp.SinkReachable)

	w = do(t, h, http.MethodGet, "/v1/reach/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[struct {
		Runs []RunSummary `json:"runs"`
	}](t, w)
	require.Len(t, runs.Runs, 1)
	require.Equal(t, resp.RunID, runs.Runs[0].RunID)
	require.Equal(t, "com.acme.Script120240305140709", runs.Runs[0].SimulatorClass)

	w = do(t, h, http.MethodGet, "/v1/reach/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[map[string]any](t, w)
	require.Equal(t, resp.RunID, rep["run_id"])
	require.NotNil(t, rep["reconciliation"])

	w = do(t, h, http.MethodGet, "/v1/reach/runs/"+resp.RunID+"/dot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "digraph"))
	require.Contains(t, w.Body.String(), "runtimeSimulator")

	w = do(t, h, http.MethodGet, "/v1/reach/runs/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"not json", "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"neither source", AnalyzeRequest{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"both sources", AnalyzeRequest{ConfigPath: "a.yaml", Config: "b"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid config", AnalyzeRequest{Config: "class_path: x\n"}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"missing file", AnalyzeRequest{ConfigPath: "does-not-exist.yaml"}, http.StatusBadRequest, "INVALID_CONFIG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t)
			w := do(t, h, http.MethodPost, "/v1/reach/analyze", tt.body)
			require.Equal(t, tt.wantCode, w.Code)
			require.Equal(t, tt.wantErr, decode[ErrorResponse](t, w).Code)
		})
	}

	t.Run("unresolved entry", func(t *testing.T) {
		h := newTestServer(t)
		cfg := inlineConfig(t, "<com.acme.Server: void nope()>")
		w := do(t, h, http.MethodPost, "/v1/reach/analyze", AnalyzeRequest{Config: cfg})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "UNRESOLVED_SIGNATURE", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandleAnalyze_RateLimited(t *testing.T) {
	h := newTestServer(t, WithRateLimit(rate.Limit(0), 1))
	w := do(t, h, http.MethodPost, "/v1/reach/analyze", AnalyzeRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodPost, "/v1/reach/analyze", AnalyzeRequest{})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
}

func TestRemember_EvictsOldest(t *testing.T) {
	s := New(nil, WithMaxReports(2))
	for _, id := range []string{"a", "b", "c"} {
		s.remember(&analysis.Report{RunID: id})
	}
	_, ok := s.report("a")
	require.False(t, ok)
	require.Equal(t, []string{"b", "c"}, s.order)
}

func TestSnapshots_Disabled(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/v1/reach/snapshots?project=x", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSnapshots_Lifecycle(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mgr, err := callgraph.NewSnapshotManager(db, quietLogger())
	require.NoError(t, err)

	runner := analysis.NewRunner(analysis.WithLogger(quietLogger()), analysis.WithSinks(), analysis.WithSnapshotManager(mgr))
	h := New(runner, WithLogger(quietLogger()), WithSnapshots(mgr)).Router()

	w := do(t, h, http.MethodPost, "/v1/reach/analyze", AnalyzeRequest{Config: inlineConfig(t, handleSig)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots?project=../program/testdata/plugins.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Snapshots []callgraph.SnapshotMetadata `json:"snapshots"`
	}](t, w)
	require.Len(t, list.Snapshots, 1)
	id := list.Snapshots[0].SnapshotID

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots/"+id+"?format=dot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "digraph"))

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots/"+id+"/diff/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	diff := decode[callgraph.SnapshotDiff](t, w)
	require.Zero(t, diff.Summary.TotalChanges)

	w = do(t, h, http.MethodDelete, "/v1/reach/snapshots/"+id, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/v1/reach/snapshots/"+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
