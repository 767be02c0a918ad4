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
	"path/filepath"
)

// FileSink writes "<dir>/<simulator class>.dot" and ".json".
type FileSink struct {
	Dir string
}

// NewFileSink creates a FileSink. An empty dir means the working directory.
func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{Dir: dir}
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Export implements Sink. Files are written to a temporary name and renamed
// so readers never observe a partial file.
func (s *FileSink) Export(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	dot, err := a.DOT()
	if err != nil {
		return err
	}
	report, err := a.ReportJSON()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.Dir, a.DOTName()), dot); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.Dir, a.ReportName()), report)
}

// Paths returns the files Export writes for a.
func (s *FileSink) Paths(a *Artifact) (dot, report string) {
	return filepath.Join(s.Dir, a.DOTName()), filepath.Join(s.Dir, a.ReportName())
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reach-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
