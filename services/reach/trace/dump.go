// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the time layout embedded in dump names.
const TimestampLayout = "2006-01-02_15-04-05"

// DumpExtension is the extension of trace dumps written by WriteDump.
const DumpExtension = ".txt"

var dumpNameRE = regexp.MustCompile(`^(\d{4}-\d\d-\d\d_\d\d-\d\d-\d\d)__(.+)__$`)

// DumpName is the decoded name of a trace dump file,
// "<timestamp>__<script class>__.<ext>".
type DumpName struct {
	// Dir is the directory holding the dump.
	Dir string

	// Timestamp is the raw timestamp text.
	Timestamp string

	// Time is Timestamp parsed in UTC.
	Time time.Time

	// Class is the fully qualified class name of the traced script.
	Class string
}

// ParseDumpName decodes a dump file path.
//
// Outputs:
//
//	DumpName - The decoded parts.
//	error - ErrBadDumpName if neither the base name nor the base name
//	without its extension match the naming convention.
//
// The full base name is tried first so that an extensionless dump of a
// dotted class ("..__com.acme.Script1__") is not cut at the class's last
// dot.
func ParseDumpName(path string) (DumpName, error) {
	base := filepath.Base(path)
	match := dumpNameRE.FindStringSubmatch(base)
	if match == nil {
		match = dumpNameRE.FindStringSubmatch(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if match == nil {
		return DumpName{}, fmt.Errorf("%w: %q", ErrBadDumpName, base)
	}
	ts, err := time.Parse(TimestampLayout, match[1])
	if err != nil {
		return DumpName{}, fmt.Errorf("%w: %q: %v", ErrBadDumpName, base, err)
	}
	return DumpName{
		Dir:       filepath.Dir(path),
		Timestamp: match[1],
		Time:      ts,
		Class:     match[2],
	}, nil
}

// SimulatorClass is the class that houses the runtime simulator node for
// this dump: the script class followed by the timestamp digits.
func (d DumpName) SimulatorClass() string {
	return d.Class + strings.NewReplacer("-", "", "_", "").Replace(d.Timestamp)
}

// FileName renders the dump's base name with the given extension.
func (d DumpName) FileName(ext string) string {
	return d.Timestamp + "__" + d.Class + "__" + ext
}

// DumpPath returns the path WriteDump would use.
func DumpPath(dir, className string, at time.Time) string {
	d := DumpName{Timestamp: at.UTC().Format(TimestampLayout), Class: className}
	return filepath.Join(dir, d.FileName(DumpExtension))
}

// WriteDump writes set as a signature-per-line dump named after className
// and at, and returns the file path. The file is written to a temporary
// name first and renamed into place, so directory watchers never observe a
// partial dump.
func WriteDump(dir, className string, at time.Time, set *Set) (string, error) {
	if set.Len() == 0 {
		return "", ErrEmptyTrace
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dump dir: %w", err)
	}
	path := DumpPath(dir, className, at)

	tmp, err := os.CreateTemp(dir, ".dump-*")
	if err != nil {
		return "", fmt.Errorf("creating dump: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, set, V1); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing dump: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing dump: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming dump: %w", err)
	}
	return path, nil
}
