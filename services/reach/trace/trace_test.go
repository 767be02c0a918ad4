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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/stretchr/testify/require"
)

var (
	execM  = sig.MustParseMethod("<java.lang.Runtime: java.lang.Process exec(java.lang.String)>")
	printM = sig.MustParseMethod("<java.io.PrintStream: void println(java.lang.String)>")
	mapM   = sig.MustParseMethod("<java.util.HashMap: java.lang.Object put(java.lang.Object,java.lang.Object)>")
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    sig.Method
		wantErr bool
	}{
		{"canonical", "<java.lang.Runtime: java.lang.Process exec(java.lang.String)>", execM, false},
		{"missing leading bracket", "java.lang.Runtime: java.lang.Process exec(java.lang.String)>", execM, false},
		{"two params", "<java.util.HashMap: java.lang.Object put(java.lang.Object, java.lang.Object)>", mapM, false},
		{"no parens", "<a.B: void c>", sig.Method{}, true},
		{"garbage", "hello", sig.Method{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedLine) {
					t.Errorf("error = %v, want ErrMalformedLine", err)
				}
				return
			}
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("ParseLine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRead_DuplicatesAndOrder(t *testing.T) {
	input := strings.Join([]string{
		"",
		"  <java.io.PrintStream: void println(java.lang.String)>  ",
		"# recorded by the agent",
		"<java.lang.Runtime: java.lang.Process exec(java.lang.String)>",
		"<java.io.PrintStream: void println(java.lang.String)>",
		"",
	}, "\n")

	set, err := Read(strings.NewReader(input))
	require.NoError(t, err)

	got := set.Methods()
	want := []sig.Method{printM, execM}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Methods() = %v, want %v", got, want)
	}
	if sorted := set.Sorted(); sorted[0] != printM {
		t.Errorf("Sorted()[0] = %v, want %v", sorted[0], printM)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
		line  string
	}{
		{"empty", "", ErrEmptyTrace, ""},
		{"only comments", "# nothing\n\n# here\n", ErrEmptyTrace, ""},
		{"malformed", "<a.B: void c()>\nnot a signature\n", ErrMalformedLine, "line 2"},
		{"unknown version", "#reach-trace 3.1.0\n<a.B: void c()>\n", ErrUnsupportedVersion, "line 1"},
		{"invalid version", "#reach-trace banana\n<a.B: void c()>\n", ErrUnsupportedVersion, "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if tt.line != "" && !strings.Contains(err.Error(), tt.line) {
				t.Errorf("error %q does not name %q", err, tt.line)
			}
		})
	}
}

func TestRead_Versions(t *testing.T) {
	v1 := "#reach-trace v1.2.0\n<java.lang.Runtime: java.lang.Process exec(java.lang.String)>\n"
	set, err := Read(strings.NewReader(v1))
	require.NoError(t, err)
	if !set.Contains(execM) {
		t.Error("v1 header should decode signature lines")
	}

	v2 := "#reach-trace 2.0.0\n" +
		`{"class":"java.lang.Runtime","name":"exec","params":["java.lang.String"],"return":"java.lang.Process"}` + "\n" +
		`{"class":"a.B","name":"run"}` + "\n"
	set, err = Read(strings.NewReader(v2))
	require.NoError(t, err)
	if !set.Contains(execM) {
		t.Error("v2 line should decode to Runtime.exec")
	}
	if !set.Contains(sig.NewMethod("a.B", "void", "run")) {
		t.Error("v2 return type should default to void")
	}
}

func TestWrite_RoundTripFormats(t *testing.T) {
	set := NewSet(printM, execM, mapM)
	for _, f := range []Format{V1, V2} {
		t.Run(f.Version(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, set, f))
			got, err := Read(&buf)
			require.NoError(t, err)
			gm, wm := got.Methods(), set.Methods()
			if len(gm) != len(wm) {
				t.Fatalf("len = %d, want %d", len(gm), len(wm))
			}
			for i := range wm {
				if gm[i] != wm[i] {
					t.Errorf("[%d] = %v, want %v", i, gm[i], wm[i])
				}
			}
		})
	}
}

func TestSet_Nil(t *testing.T) {
	var s *Set
	if s.Len() != 0 || s.Contains(execM) || len(s.Methods()) != 0 {
		t.Error("nil set should behave as empty")
	}
	if NewSet(execM, execM).Len() != 1 {
		t.Error("NewSet should collapse duplicates")
	}
}

func TestParseDumpName(t *testing.T) {
	d, err := ParseDumpName("/dumps/2024-03-05_14-07-09__com.acme.Script1__.txt")
	require.NoError(t, err)

	if d.Class != "com.acme.Script1" || d.Timestamp != "2024-03-05_14-07-09" || d.Dir != "/dumps" {
		t.Errorf("ParseDumpName = %+v", d)
	}
	if got, want := d.SimulatorClass(), "com.acme.Script120240305140709"; got != want {
		t.Errorf("SimulatorClass() = %q, want %q", got, want)
	}
	if want := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC); !d.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", d.Time, want)
	}

	for _, bad := range []string{
		"trace.txt",
		"2024-03-05__com.acme.Script1__.txt",
		"2024-03-05_14-07-09_com.acme.Script1.txt",
		"2024-13-45_14-07-09__x__.txt",
	} {
		if _, err := ParseDumpName(bad); !errors.Is(err, ErrBadDumpName) {
			t.Errorf("ParseDumpName(%q) error = %v, want ErrBadDumpName", bad, err)
		}
	}
}

func TestParseDumpName_Extensions(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		class string
	}{
		{"txt", "/d/2024-03-05_14-07-09__com.acme.Script1__.txt", "com.acme.Script1"},
		{"other extension", "/d/2024-03-05_14-07-09__com.acme.Script1__.log", "com.acme.Script1"},
		{"no extension dotted class", "/d/2024-03-05_14-07-09__com.acme.Script1__", "com.acme.Script1"},
		{"no extension plain class", "/d/2024-03-05_14-07-09__Script1__", "Script1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDumpName(tt.path)
			require.NoError(t, err)
			if d.Class != tt.class {
				t.Errorf("Class = %q, want %q", d.Class, tt.class)
			}
			if want := tt.class + "20240305140709"; d.SimulatorClass() != want {
				t.Errorf("SimulatorClass() = %q, want %q", d.SimulatorClass(), want)
			}
		})
	}
}

func TestWriteDump(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	path, err := WriteDump(dir, "com.acme.Script2", at, NewSet(execM, printM))
	require.NoError(t, err)
	if want := filepath.Join(dir, "2025-01-02_03-04-05__com.acme.Script2__.txt"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	d, err := ParseDumpName(path)
	require.NoError(t, err)
	if d.SimulatorClass() != "com.acme.Script220250102030405" {
		t.Errorf("SimulatorClass() = %q", d.SimulatorClass())
	}

	set, err := ReadFile(path)
	require.NoError(t, err)
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the dump", len(entries))
	}

	if _, err := WriteDump(dir, "x", at, NewSet()); !errors.Is(err, ErrEmptyTrace) {
		t.Errorf("empty dump error = %v, want ErrEmptyTrace", err)
	}
}
