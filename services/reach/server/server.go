// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes analysis runs and stored snapshots over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultMaxReports   = 100
	DefaultRateLimit    = rate.Limit(2)
	DefaultRateBurst    = 4
	RequestIDHeader     = "X-Request-ID"
	shutdownGracePeriod = 10 * time.Second
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSnapshots enables the snapshot endpoints.
func WithSnapshots(m *callgraph.SnapshotManager) Option {
	return func(s *Server) { s.snapshots = m }
}

// WithRateLimit bounds POST /v1/reach/analyze across all clients.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(limit, burst) }
}

// WithMaxReports bounds how many finished reports are kept in memory.
func WithMaxReports(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxReports = n
		}
	}
}

// WithDebug enables gin debug mode and request logging.
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

// Server serves the reach HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	runner     *analysis.Runner
	snapshots  *callgraph.SnapshotManager
	limiter    *rate.Limiter
	logger     *slog.Logger
	maxReports int
	debug      bool

	mu      sync.RWMutex
	reports map[string]*analysis.Report
	order   []string
}

// New creates a Server that runs analyses with runner.
func New(runner *analysis.Runner, opts ...Option) *Server {
	s := &Server{
		runner:     runner,
		limiter:    rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		logger:     slog.Default(),
		maxReports: DefaultMaxReports,
		reports:    make(map[string]*analysis.Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
//
// Endpoints:
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/reach/analyze
//	GET    /v1/reach/runs
//	GET    /v1/reach/runs/:id
//	GET    /v1/reach/runs/:id/dot
//	GET    /v1/reach/snapshots
//	GET    /v1/reach/snapshots/:id
//	GET    /v1/reach/snapshots/:id/diff/:target
//	DELETE /v1/reach/snapshots/:id
func (s *Server) Router() *gin.Engine {
	if s.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-reach"))
	router.Use(requestID())
	if s.debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/reach")
	v1.POST("/analyze", s.rateLimit(), s.HandleAnalyze)
	v1.GET("/runs", s.HandleListRuns)
	v1.GET("/runs/:id", s.HandleGetRun)
	v1.GET("/runs/:id/dot", s.HandleGetRunDOT)
	v1.GET("/snapshots", s.HandleListSnapshots)
	v1.GET("/snapshots/:id", s.HandleGetSnapshot)
	v1.GET("/snapshots/:id/diff/:target", s.HandleDiffSnapshots)
	v1.DELETE("/snapshots/:id", s.HandleDeleteSnapshot)
	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting reach server", slog.String("address", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down reach server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many analysis requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return s.logger.With(
		slog.String("request_id", c.GetString("request_id")),
		slog.String("handler", handler),
	)
}

// remember stores rep, evicting the oldest report beyond maxReports.
func (s *Server) remember(rep *analysis.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[rep.RunID]; !ok {
		s.order = append(s.order, rep.RunID)
	}
	s.reports[rep.RunID] = rep
	for len(s.order) > s.maxReports {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) report(id string) (*analysis.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reports[id]
	return rep, ok
}
