// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package javasrc builds a program model from Java source files.
//
// Description:
//
//	Sources are parsed with tree-sitter. A first pass declares every class,
//	interface, and enum together with its fields, methods, and constructors,
//	with types erased (generic arguments dropped, type variables replaced by
//	java.lang.Object). A second pass walks method bodies and records call
//	sites and allocations. Receiver types are inferred from locals, fields,
//	parameters, casts, allocations, and the return types of nested calls.
//
//	Calls that cannot be typed are skipped and counted in Stats.Unresolved.
//	The frontend is deliberately approximate: it is a convenience for
//	projects that have no precompiled model file.
package javasrc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianReach/services/reach/program"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.reach.javasrc")

// DefaultMaxFileSize is the default per-file size limit.
const DefaultMaxFileSize = 10 * 1024 * 1024

// Sentinel errors.
var (
	// ErrNoSources indicates no .java file was found under the given paths.
	ErrNoSources = errors.New("no java sources found")

	// ErrFileTooLarge indicates a source file exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates a source file is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// Stats summarizes a load.
type Stats struct {
	Files        int `json:"files"`
	SyntaxErrors int `json:"syntax_errors"`
	Classes      int `json:"classes"`
	Methods      int `json:"methods"`
	CallSites    int `json:"call_sites"`
	Unresolved   int `json:"unresolved"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithLibrary supplies declarations for classes referenced but not defined
// in source, such as java.lang.Runtime. Library classes are copied into the
// resulting model unless a source class of the same name exists.
func WithLibrary(m *program.Model) Option {
	return func(ld *Loader) { ld.library = m }
}

// WithMaxFileSize sets the maximum accepted file size in bytes.
func WithMaxFileSize(bytes int64) Option {
	return func(ld *Loader) {
		if bytes > 0 {
			ld.maxFileSize = bytes
		}
	}
}

// Loader builds program models from Java sources.
//
// Thread Safety: Safe for concurrent use. Each Load call creates its own
// tree-sitter parser.
type Loader struct {
	logger      *slog.Logger
	library     *program.Model
	maxFileSize int64
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{logger: slog.Default(), maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load reads every .java file under paths and builds a sealed model.
//
// Description:
//
//	Each path may be a file or a directory. Directories are walked
//	recursively; hidden directories are skipped. Files are processed in
//	lexical path order so the resulting model is deterministic.
//
// Outputs:
//
//	*program.Model - Sealed model of source and library classes.
//	Stats - Load statistics.
//	error - ErrNoSources, ErrFileTooLarge, ErrInvalidContent, I/O errors, or
//	ctx.Err().
func (ld *Loader) Load(ctx context.Context, paths ...string) (*program.Model, Stats, error) {
	files, err := collectFiles(paths)
	if err != nil {
		return nil, Stats{}, err
	}
	sources := make(map[string][]byte, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > ld.maxFileSize {
			return nil, Stats{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), ld.maxFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("read %s: %w", path, err)
		}
		sources[path] = data
	}
	return ld.LoadSources(ctx, sources)
}

// LoadSources builds a sealed model from in-memory sources keyed by path.
func (ld *Loader) LoadSources(ctx context.Context, sources map[string][]byte) (*program.Model, Stats, error) {
	ctx, span := tracer.Start(ctx, "javasrc.LoadSources",
		trace.WithAttributes(attribute.Int("files", len(sources))),
	)
	defer span.End()
	start := time.Now()

	fail := func(err error) (*program.Model, Stats, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, Stats{}, err
	}

	if len(sources) == 0 {
		return fail(ErrNoSources)
	}

	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	u := newUniverse(ld.library, ld.logger)
	defer u.close()

	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		content := sources[path]
		if int64(len(content)) > ld.maxFileSize {
			return fail(fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, len(content), ld.maxFileSize))
		}
		if !utf8.Valid(content) {
			return fail(fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, path))
		}
		tree, err := parser.ParseCtx(ctx, nil, content)
		if err != nil {
			return fail(fmt.Errorf("parse %s: %w", path, err))
		}
		f := u.addFile(path, content, tree)
		if tree.RootNode().HasError() {
			u.stats.SyntaxErrors++
			ld.logger.Warn("java source has syntax errors; continuing with partial tree",
				slog.String("file", path))
		}
		f.readHeader()
	}

	u.collectClasses()
	u.declare()
	model, err := u.assemble()
	if err != nil {
		return fail(err)
	}
	if err := u.recordCalls(ctx); err != nil {
		return fail(err)
	}
	model.Seal()

	stats := u.stats
	stats.Files = len(paths)
	ms := model.Stats()
	stats.Classes, stats.Methods = ms.Classes, ms.Methods

	span.SetAttributes(
		attribute.Int("classes", stats.Classes),
		attribute.Int("call_sites", stats.CallSites),
		attribute.Int("unresolved", stats.Unresolved),
	)
	span.SetStatus(codes.Ok, "")
	ld.logger.Info("java sources loaded",
		slog.Int("files", stats.Files),
		slog.Int("classes", stats.Classes),
		slog.Int("methods", stats.Methods),
		slog.Int("call_sites", stats.CallSites),
		slog.Int("unresolved", stats.Unresolved),
		slog.Duration("elapsed", time.Since(start)),
	)
	return model, stats, nil
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			if strings.HasSuffix(root, ".java") {
				files = append(files, root)
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), ".java") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSources, strings.Join(paths, ", "))
	}
	sort.Strings(files)
	return files, nil
}
