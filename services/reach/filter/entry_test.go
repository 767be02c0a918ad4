// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/stretchr/testify/require"
)

const pluginsDoc = `
classes:
  - name: com.acme.Plugin
    interface: true
    methods:
      - name: run
        abstract: true
  - name: com.acme.EchoPlugin
    interfaces: [com.acme.Plugin]
    methods:
      - name: <init>
      - name: run
      - name: helper
  - name: com.acme.Base
    methods:
      - name: start
  - name: com.acme.Worker
    super: com.acme.Base
    methods:
      - name: start
      - name: stop
  - name: org.other.Bar
    methods:
      - name: run
`

var (
	plugRun    = sig.MustParseMethod("<com.acme.Plugin: void run()>")
	echoRun    = sig.MustParseMethod("<com.acme.EchoPlugin: void run()>")
	echoInit   = sig.MustParseMethod("<com.acme.EchoPlugin: void <init>()>")
	echoHelper = sig.MustParseMethod("<com.acme.EchoPlugin: void helper()>")
	baseStart  = sig.MustParseMethod("<com.acme.Base: void start()>")
	workStart  = sig.MustParseMethod("<com.acme.Worker: void start()>")
	workStop   = sig.MustParseMethod("<com.acme.Worker: void stop()>")
	barRun     = sig.MustParseMethod("<org.other.Bar: void run()>")
	lateRun    = sig.MustParseMethod("<com.acme.LatePlugin: void run()>")
)

func newView(t *testing.T) *hierarchy.Snapshot {
	t.Helper()
	m, err := program.Parse([]byte(pluginsDoc))
	require.NoError(t, err)
	return hierarchy.New(m)
}

// extendWithLatePlugin adds a second Plugin implementer.
func extendWithLatePlugin(t *testing.T, view *hierarchy.Snapshot) *hierarchy.Snapshot {
	t.Helper()
	late := program.NewClass("com.acme.LatePlugin", false)
	late.Interfaces = []sig.Class{"com.acme.Plugin"}
	require.NoError(t, late.AddMethod(&program.Method{Sig: lateRun}))
	next, err := view.Extend(late)
	require.NoError(t, err)
	return next
}

func TestExactClass(t *testing.T) {
	view := newView(t)
	e := NewExactClass("com.acme.EchoPlugin", true)

	if !e.Matches(echoRun, view) {
		t.Error("expected match on declaring class")
	}
	if e.Matches(barRun, view) {
		t.Error("unexpected match on other class")
	}
	if !e.Denies() {
		t.Error("Denies() = false, want true")
	}
}

func TestClassPattern_WholeStringMatch(t *testing.T) {
	view := newView(t)
	tests := []struct {
		name    string
		pattern string
		syntax  Syntax
		method  sig.Method
		want    bool
	}{
		{"regex package", `com\.acme\..*`, SyntaxRegex, echoRun, true},
		{"regex other package", `com\.acme\..*`, SyntaxRegex, barRun, false},
		{"regex substring only", `acme`, SyntaxRegex, echoRun, false},
		{"regex alternation anchored", `org\.other\.Bar|x`, SyntaxRegex, barRun, true},
		{"glob one level", `com.acme.*`, SyntaxGlob, echoRun, true},
		{"glob does not cross dots", `com.*`, SyntaxGlob, echoRun, false},
		{"glob super wildcard", `com.**`, SyntaxGlob, echoRun, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewClassPatternSyntax(tt.pattern, tt.syntax, true)
			require.NoError(t, err)
			if got := e.Matches(tt.method, view); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}

func TestClassPattern_InvalidRegex(t *testing.T) {
	if _, err := NewClassPattern(`com\.(acme`, true); err == nil {
		t.Error("expected compile error")
	}
}

func TestInterfaceHierarchy_Exact(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)

	tests := []struct {
		method sig.Method
		want   bool
	}{
		{echoRun, true},
		{echoHelper, false},
		{echoInit, false},
		{plugRun, false},
		{barRun, false},
	}
	for _, tt := range tests {
		if got := e.Matches(tt.method, view); got != tt.want {
			t.Errorf("Matches(%s) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestInterfaceHierarchy_AllSubclassMethods(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, true, true)
	require.NoError(t, err)

	want := []sig.Method{echoInit, echoHelper, echoRun}
	sig.Sort(want)
	if got := e.Resolved(view); !reflect.DeepEqual(got, want) {
		t.Errorf("Resolved = %v, want %v", got, want)
	}
}

func TestInterfaceHierarchy_RootFiltering(t *testing.T) {
	view := newView(t)

	exactClass, err := NewInterfaceHierarchy("com.acme.Base", true, false, true)
	require.NoError(t, err)
	if got, want := exactClass.Resolved(view), []sig.Method{baseStart, workStart}; !reflect.DeepEqual(got, want) {
		t.Errorf("exact class root resolved %v, want %v", got, want)
	}
	if exactClass.Matches(workStop, view) {
		t.Error("stop does not override a Base method")
	}

	classPattern, err := NewInterfaceHierarchy(`com\.acme\.Base`, false, false, true)
	require.NoError(t, err)
	if got := classPattern.Resolved(view); len(got) != 0 {
		t.Errorf("pattern matching only a class resolved %v, want empty", got)
	}

	unknown, err := NewInterfaceHierarchy("com.acme.Missing", true, false, true)
	require.NoError(t, err)
	if got := unknown.Resolved(view); len(got) != 0 {
		t.Errorf("unknown root resolved %v, want empty", got)
	}

	byPattern, err := NewInterfaceHierarchy(`com\.acme\.P.*`, false, false, true)
	require.NoError(t, err)
	if !byPattern.Matches(echoRun, view) {
		t.Error("pattern root should resolve Plugin implementers")
	}
}

func TestSuperclassHierarchy(t *testing.T) {
	view := newView(t)

	e, err := NewSuperclassHierarchy("com.acme.Base", true, false, false)
	require.NoError(t, err)
	want := []sig.Method{baseStart, workStart}
	if got := e.Resolved(view); !reflect.DeepEqual(got, want) {
		t.Errorf("Resolved = %v, want %v", got, want)
	}
	if e.Matches(workStop, view) {
		t.Error("stop does not override a Base method")
	}

	all, err := NewSuperclassHierarchy(`com\.acme\.Base`, false, true, false)
	require.NoError(t, err)
	if !all.Matches(workStop, view) {
		t.Error("all_sub_class_methods should cover Worker.stop")
	}

	iface, err := NewSuperclassHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	if got := iface.Resolved(view); len(got) != 0 {
		t.Errorf("interface root resolved %v, want empty", got)
	}
}

func TestHierarchyEntry_CacheInvalidation(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)

	before := e.Resolved(view)
	if e.Matches(lateRun, view) {
		t.Fatal("LatePlugin is not part of the first snapshot")
	}

	next := extendWithLatePlugin(t, view)
	if next.SnapshotID() == view.SnapshotID() {
		t.Fatal("Extend must mint a new snapshot ID")
	}
	after := e.Resolved(next)
	if len(after) != len(before)+1 {
		t.Errorf("resolved after extend = %v, want one more than %v", after, before)
	}
	if !e.Matches(lateRun, next) {
		t.Error("LatePlugin.run should match after the snapshot changes")
	}

	// Returning to the old snapshot recomputes rather than merging.
	if e.Matches(lateRun, view) {
		t.Error("stale resolution leaked into the original snapshot")
	}
}

func TestDescribe(t *testing.T) {
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	if got, want := e.Describe(), `deny overriding methods of interface exact "com.acme.Plugin"`; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
	if got, want := NewExactClass("a.B", false).Describe(), "allow class a.B"; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}
