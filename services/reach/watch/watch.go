// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch runs an analysis for every trace dump that appears in a
// directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultConcurrency = 2
	DefaultSettle      = 250 * time.Millisecond
)

var meter = otel.Meter("aleutian.reach.watch")

// Runner runs one analysis. *analysis.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg *config.Config) (*analysis.Report, error)
}

// ResultFunc receives the outcome of each triggered run.
type ResultFunc func(dump string, rep *analysis.Report, err error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithConcurrency bounds how many runs execute at once.
func WithConcurrency(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithSettle sets how long a dump must go unmodified before it is
// analyzed.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithInitialScan analyzes dumps already present when Run starts.
func WithInitialScan(scan bool) Option {
	return func(w *Watcher) { w.initialScan = scan }
}

// WithResultFunc registers a callback for every finished run.
func WithResultFunc(f ResultFunc) Option {
	return func(w *Watcher) { w.onResult = f }
}

// Watcher triggers runs for new dumps in a directory.
//
// Description:
//
//	Files whose names follow the dump naming convention are analyzed once
//	each, with the base configuration's runtime_trace_file_path replaced by
//	the dump path. Hidden files are ignored so writers can stage dumps
//	under a temporary name and rename them into place.
//
// Thread Safety: Run must be called at most once at a time.
type Watcher struct {
	runner      Runner
	base        *config.Config
	dir         string
	logger      *slog.Logger
	concurrency int
	settle      time.Duration
	initialScan bool
	onResult    ResultFunc
	dumps       metric.Int64Counter

	mu   sync.Mutex
	seen map[string]bool
}

// New creates a Watcher over dir.
func New(runner Runner, base *config.Config, dir string, opts ...Option) *Watcher {
	w := &Watcher{
		runner:      runner,
		base:        base,
		dir:         dir,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		settle:      DefaultSettle,
		seen:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	counter, err := meter.Int64Counter("reach.watch.dumps",
		metric.WithDescription("Trace dumps analyzed by the watcher"))
	if err != nil {
		counter = noop.Int64Counter{}
	}
	w.dumps = counter
	return w
}

// IsDump reports whether path names a trace dump.
func IsDump(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, err := trace.ParseDumpName(path)
	return err == nil
}

// Run watches until ctx is cancelled, then waits for in-flight runs.
//
// Outputs:
//
//	error - Non-nil if the directory cannot be watched. Analysis failures
//	are logged and passed to the ResultFunc, not returned.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching for trace dumps",
		slog.String("dir", w.dir),
		slog.Int("concurrency", w.concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	ready := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	if w.initialScan {
		existing, err := w.existingDumps()
		if err != nil {
			return err
		}
		for _, path := range existing {
			w.dispatch(gctx, g, path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case ev, ok := <-fsw.Events:
			if !ok {
				return g.Wait()
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !IsDump(ev.Name) {
				continue
			}
			path := ev.Name
			if t, ok := timers[path]; ok {
				t.Reset(w.settle)
				continue
			}
			timers[path] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case path := <-ready:
			delete(timers, path)
			w.dispatch(gctx, g, path)
		case err, ok := <-fsw.Errors:
			if !ok {
				return g.Wait()
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) existingDumps() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", w.dir, err)
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if !e.IsDir() && IsDump(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// dispatch starts a run for path unless it was already analyzed. It blocks
// while the concurrency limit is reached.
func (w *Watcher) dispatch(ctx context.Context, g *errgroup.Group, path string) {
	w.mu.Lock()
	if w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	g.Go(func() error {
		w.process(ctx, path)
		return nil
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	cfg := *w.base
	cfg.RuntimeTraceFilePath = path
	logger := w.logger.With(slog.String("dump", filepath.Base(path)))
	logger.Info("analyzing trace dump")

	rep, err := w.runner.Run(ctx, &cfg)
	status := "ok"
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
		logger.Error("dump analysis failed", slog.String("error", err.Error()))
	case rep != nil:
		logger.Info("dump analyzed",
			slog.String("run_id", rep.RunID),
			slog.Bool("sink_reachable", rep.SinkReachable()))
	}
	w.dumps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if w.onResult != nil {
		w.onResult(path, rep, err)
	}
}
