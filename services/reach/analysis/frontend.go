// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/program/gosrc"
	"github.com/AleutianAI/AleutianReach/services/reach/program/javasrc"
)

// DetectFrontend picks the frontend for classPath.
//
// Description:
//
//	Files ending in .yaml, .yml or .json are model documents and .java
//	files are Java sources. A directory holding go.mod is a Go module; a
//	directory holding any .java file is a Java source root.
func DetectFrontend(classPath string) (string, error) {
	info, err := os.Stat(classPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownFrontend, err)
	}
	if !info.IsDir() {
		switch strings.ToLower(filepath.Ext(classPath)) {
		case ".yaml", ".yml", ".json":
			return config.FrontendModel, nil
		case ".java":
			return config.FrontendJava, nil
		}
		return "", fmt.Errorf("%w: unrecognized file %s", ErrUnknownFrontend, classPath)
	}
	if _, err := os.Stat(filepath.Join(classPath, "go.mod")); err == nil {
		return config.FrontendGo, nil
	}
	found := false
	walkErr := filepath.WalkDir(classPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".java") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownFrontend, walkErr)
	}
	if found {
		return config.FrontendJava, nil
	}
	return "", fmt.Errorf("%w: %s holds neither go.mod nor .java files", ErrUnknownFrontend, classPath)
}

// loadModel turns cfg.ClassPath into a sealed program model, overlaying
// cfg.LibraryPath when set.
func (r *Runner) loadModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*program.Model, string, int, error) {
	frontend := cfg.Frontend
	if frontend == "" || frontend == config.FrontendAuto {
		detected, err := DetectFrontend(cfg.ClassPath)
		if err != nil {
			return nil, "", 0, err
		}
		frontend = detected
	}

	var library *program.Model
	if cfg.LibraryPath != "" {
		lib, err := program.LoadFile(cfg.LibraryPath)
		if err != nil {
			return nil, frontend, 0, fmt.Errorf("library: %w", err)
		}
		library = lib
	}

	var (
		model *program.Model
		err   error
	)
	switch frontend {
	case config.FrontendModel:
		model, err = program.LoadFile(cfg.ClassPath)
	case config.FrontendJava:
		opts := []javasrc.Option{javasrc.WithLogger(logger)}
		if library != nil {
			opts = append(opts, javasrc.WithLibrary(library))
		}
		var stats javasrc.Stats
		model, stats, err = javasrc.NewLoader(opts...).Load(ctx, cfg.ClassPath)
		if err == nil {
			logger.Info("java sources loaded",
				slog.Int("files", stats.Files),
				slog.Int("syntax_errors", stats.SyntaxErrors),
				slog.Int("unresolved_calls", stats.Unresolved))
			return model, frontend, countLibrary(library, model), nil
		}
	case config.FrontendGo:
		dir, pattern := goTarget(cfg.ClassPath)
		var stats gosrc.Stats
		model, stats, err = gosrc.NewLoader(gosrc.WithDir(dir), gosrc.WithLogger(logger)).Load(ctx, pattern)
		if err == nil {
			logger.Info("go packages loaded",
				slog.Int("packages", stats.Packages),
				slog.Int("unresolved_calls", stats.Unresolved))
		}
	default:
		return nil, frontend, 0, fmt.Errorf("%w: %q", ErrUnknownFrontend, frontend)
	}
	if err != nil {
		return nil, frontend, 0, fmt.Errorf("%s frontend: %w", frontend, err)
	}

	added := 0
	if library != nil {
		model, added = model.WithLibrary(library)
	}
	return model, frontend, added, nil
}

// countLibrary reports how many library classes the java frontend carried
// into model unshadowed.
func countLibrary(library, model *program.Model) int {
	if library == nil {
		return 0
	}
	n := 0
	for _, name := range library.ClassNames() {
		lc, _ := library.Class(name)
		if mc, ok := model.Class(name); ok && mc == lc {
			n++
		}
	}
	return n
}

// goTarget splits a Go class path into a working directory and a package
// pattern. A directory means every package below it.
func goTarget(classPath string) (dir, pattern string) {
	if info, err := os.Stat(classPath); err == nil && info.IsDir() {
		return classPath, "./..."
	}
	return "", classPath
}
