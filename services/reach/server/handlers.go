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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/filter"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"github.com/gin-gonic/gin"
)

// AnalyzeRequest starts a run. Exactly one of ConfigPath and Config is set.
type AnalyzeRequest struct {
	// ConfigPath is a configuration file readable by the server.
	ConfigPath string `json:"config_path,omitempty"`

	// Config is an inline YAML configuration document.
	Config string `json:"config,omitempty"`
}

// AnalyzeResponse is returned by POST /v1/reach/analyze.
type AnalyzeResponse struct {
	RunID         string           `json:"run_id"`
	SinkReachable bool             `json:"sink_reachable"`
	Report        *analysis.Report `json:"report"`

	// PublishError is set when the run completed but a snapshot or export
	// failed.
	PublishError string `json:"publish_error,omitempty"`
}

// RunSummary is one entry of GET /v1/reach/runs.
type RunSummary struct {
	RunID          string `json:"run_id"`
	Project        string `json:"project"`
	SimulatorClass string `json:"simulator_class"`
	SinkReachable  bool   `json:"sink_reachable"`
	DurationMillis int64  `json:"duration_ms"`
}

// HandleAnalyze handles POST /v1/reach/analyze.
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Invalid configuration, trace or signature
//	429 Too Many Requests: Rate limited
//	500 Internal Server Error: Analysis failed
func (s *Server) HandleAnalyze(c *gin.Context) {
	logger := s.requestLogger(c, "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if (req.ConfigPath == "") == (req.Config == "") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "exactly one of config_path and config is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var (
		cfg *config.Config
		err error
	)
	if req.ConfigPath != "" {
		cfg, err = config.Load(req.ConfigPath)
	} else {
		cfg, err = config.Parse([]byte(req.Config))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CONFIG"})
		return
	}

	rep, err := s.runner.Run(c.Request.Context(), cfg)
	if rep == nil {
		status, code := classify(err)
		logger.Warn("analysis failed", slog.String("error", err.Error()), slog.String("code", code))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	s.remember(rep)

	resp := AnalyzeResponse{RunID: rep.RunID, SinkReachable: rep.SinkReachable(), Report: rep}
	if err != nil {
		resp.PublishError = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// classify maps a run failure to a status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, analysis.ErrUnresolvedSignature):
		return http.StatusBadRequest, "UNRESOLVED_SIGNATURE"
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, filter.ErrConfiguration),
		errors.Is(err, analysis.ErrUnknownFrontend):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, trace.ErrEmptyTrace), errors.Is(err, trace.ErrMalformedLine),
		errors.Is(err, trace.ErrBadDumpName), errors.Is(err, trace.ErrUnsupportedVersion):
		return http.StatusBadRequest, "INVALID_TRACE"
	}
	return http.StatusInternalServerError, "ANALYSIS_FAILED"
}

// HandleListRuns handles GET /v1/reach/runs, oldest first.
func (s *Server) HandleListRuns(c *gin.Context) {
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		rep := s.reports[id]
		out = append(out, RunSummary{
			RunID:          rep.RunID,
			Project:        rep.Project,
			SimulatorClass: rep.SimulatorClass,
			SinkReachable:  rep.SinkReachable(),
			DurationMillis: rep.DurationMillis,
		})
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

// HandleGetRun handles GET /v1/reach/runs/:id.
func (s *Server) HandleGetRun(c *gin.Context) {
	rep, ok := s.report(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleGetRunDOT handles GET /v1/reach/runs/:id/dot.
func (s *Server) HandleGetRunDOT(c *gin.Context) {
	rep, ok := s.report(c.Param("id"))
	if !ok || rep.Graph() == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", Code: "NOT_FOUND"})
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(rep.Graph().ExportDOT()))
}

func (s *Server) requireSnapshots(c *gin.Context) bool {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store is not configured",
			Code:  "SNAPSHOTS_DISABLED",
		})
		return false
	}
	return true
}

func snapshotError(c *gin.Context, err error) {
	if errors.Is(err, callgraph.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_FAILED"})
}

// HandleListSnapshots handles GET /v1/reach/snapshots.
//
// Query Parameters:
//
//	project: Class path the snapshots were taken for (required)
//	limit: Maximum results, default 20 (optional)
func (s *Server) HandleListSnapshots(c *gin.Context) {
	if !s.requireSnapshots(c) {
		return
	}
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "project parameter is required", Code: "MISSING_PARAMETER"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.snapshots.List(c.Request.Context(), project, limit)
	if err != nil {
		snapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list})
}

// HandleGetSnapshot handles GET /v1/reach/snapshots/:id.
//
// Query Parameters:
//
//	format: "json" (default) returns metadata and the serialized graph,
//	"dot" returns the graph as DOT.
func (s *Server) HandleGetSnapshot(c *gin.Context) {
	if !s.requireSnapshots(c) {
		return
	}
	g, meta, err := s.snapshots.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		snapshotError(c, err)
		return
	}
	if c.Query("format") == "dot" {
		c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(g.ExportDOT()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "graph": g.ToSerializable()})
}

// HandleDiffSnapshots handles GET /v1/reach/snapshots/:id/diff/:target.
func (s *Server) HandleDiffSnapshots(c *gin.Context) {
	if !s.requireSnapshots(c) {
		return
	}
	ctx := c.Request.Context()
	baseID, targetID := c.Param("id"), c.Param("target")
	base, _, err := s.snapshots.Load(ctx, baseID)
	if err != nil {
		snapshotError(c, err)
		return
	}
	target, _, err := s.snapshots.Load(ctx, targetID)
	if err != nil {
		snapshotError(c, err)
		return
	}
	diff, err := callgraph.DiffSnapshots(base, target, baseID, targetID)
	if err != nil {
		snapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandleDeleteSnapshot handles DELETE /v1/reach/snapshots/:id.
func (s *Server) HandleDeleteSnapshot(c *gin.Context) {
	if !s.requireSnapshots(c) {
		return
	}
	if err := s.snapshots.Delete(c.Request.Context(), c.Param("id")); err != nil {
		snapshotError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
