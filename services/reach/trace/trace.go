// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace reads and writes runtime trace dumps: the set of methods a
// recorded script execution actually invoked.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// Sentinel errors.
var (
	// ErrEmptyTrace indicates a trace with no method lines.
	ErrEmptyTrace = errors.New("trace contains no methods")

	// ErrMalformedLine indicates a line that does not decode to a method.
	ErrMalformedLine = errors.New("malformed trace line")

	// ErrUnsupportedVersion indicates a header naming an unknown format.
	ErrUnsupportedVersion = errors.New("unsupported trace format version")

	// ErrBadDumpName indicates a file name not following the dump naming
	// convention.
	ErrBadDumpName = errors.New("improperly formatted trace dump name")
)

// maxLineBytes bounds one trace line. JVM signatures with long generic
// parameter lists exceed bufio's 64KiB default in practice.
const maxLineBytes = 1 << 20

// Set is a set of methods that remembers first-occurrence order.
//
// Thread Safety: Not safe for concurrent mutation.
type Set struct {
	order []sig.Method
	index map[sig.Method]struct{}
}

// NewSet creates a set holding ms, duplicates collapsed.
func NewSet(ms ...sig.Method) *Set {
	s := &Set{index: make(map[sig.Method]struct{}, len(ms))}
	for _, m := range ms {
		s.Add(m)
	}
	return s
}

// Add inserts m and reports whether it was new.
func (s *Set) Add(m sig.Method) bool {
	if _, ok := s.index[m]; ok {
		return false
	}
	s.index[m] = struct{}{}
	s.order = append(s.order, m)
	return true
}

// Contains reports whether m is in the set.
func (s *Set) Contains(m sig.Method) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[m]
	return ok
}

// Len returns the number of methods. A nil set has length zero.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Methods returns the methods in first-occurrence order.
func (s *Set) Methods() []sig.Method {
	if s == nil {
		return []sig.Method{}
	}
	return append([]sig.Method{}, s.order...)
}

// Sorted returns the methods in canonical order.
func (s *Set) Sorted() []sig.Method {
	out := s.Methods()
	sig.Sort(out)
	return out
}

// ParseLine decodes one signature-per-line trace entry of the form
// "<declaring-class>: <return-type> <name>(<param>,<param>)>". The leading
// '<' is optional.
func ParseLine(line string) (sig.Method, error) {
	m, err := sig.ParseMethod(line)
	if err != nil {
		return sig.Method{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return m, nil
}

// Read decodes a trace.
//
// Description:
//
//	Lines are trimmed; blank lines are skipped. An optional first
//	non-blank line "#reach-trace <semver>" selects the format, otherwise
//	the signature-per-line format applies. Any other line starting with
//	'#' is a comment. Duplicates collapse to their first occurrence.
//
// Outputs:
//
//	*Set - The methods, never empty on success.
//	error - ErrEmptyTrace, ErrUnsupportedVersion, or ErrMalformedLine with
//	the 1-based line number.
func Read(r io.Reader) (*Set, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var format Format = signatureFormat{}
	set := NewSet()
	sawContent := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawContent {
			sawContent = true
			if version, ok := parseHeader(line); ok {
				f, err := FormatFor(version)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				format = f
				continue
			}
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		m, err := format.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		set.Add(m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	if set.Len() == 0 {
		return nil, ErrEmptyTrace
	}
	return set, nil
}

// ReadFile opens and decodes a trace file.
func ReadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace %s: %w", path, err)
	}
	defer f.Close()

	set, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", path, err)
	}
	return set, nil
}

// Write encodes set in first-occurrence order using format. A header line is
// emitted for every format except the signature-per-line one, which stays
// readable by tools that predate headers.
func Write(w io.Writer, set *Set, format Format) error {
	if format == nil {
		format = signatureFormat{}
	}
	bw := bufio.NewWriter(w)
	if _, plain := format.(signatureFormat); !plain {
		if _, err := fmt.Fprintf(bw, "%s %s\n", HeaderPrefix, format.Version()); err != nil {
			return err
		}
	}
	for _, m := range set.Methods() {
		line, err := format.Encode(m)
		if err != nil {
			return err
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
