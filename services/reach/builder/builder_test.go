// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/stretchr/testify/require"
)

var (
	mainSig   = sig.MustParseMethod("<com.acme.Main: void main(java.lang.String[])>")
	handleSig = sig.MustParseMethod("<com.acme.Server: void handle(java.lang.String)>")
	initSig   = sig.MustParseMethod("<com.acme.Server: void <init>()>")
	echoRun   = sig.MustParseMethod("<com.acme.EchoPlugin: void run(java.lang.String)>")
	shellRun  = sig.MustParseMethod("<com.acme.ShellPlugin: void run(java.lang.String)>")
	pluginRun = sig.MustParseMethod("<com.acme.Plugin: void run(java.lang.String)>")
	trimSig   = sig.MustParseMethod("<com.acme.Util: java.lang.String trim(java.lang.String)>")
	execSig   = sig.MustParseMethod("<java.lang.Runtime: java.lang.Process exec(java.lang.String)>")
)

func loadPlugins(t *testing.T) (*program.Model, *hierarchy.Snapshot) {
	t.Helper()
	m, err := program.LoadFile("../program/testdata/plugins.yaml")
	require.NoError(t, err)
	return m, hierarchy.New(m)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"cha", CHA, false},
		{"RTA", RTA, false},
		{" Cha ", CHA, false},
		{"spark", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownAlgorithm) {
					t.Errorf("error = %v, want ErrUnknownAlgorithm", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestBuild_CHA(t *testing.T) {
	m, view := loadPlugins(t)

	g, err := Build(context.Background(), m, view, []sig.Method{handleSig}, CHA)
	require.NoError(t, err)

	for _, call := range [][2]sig.Method{
		{handleSig, echoRun},
		{handleSig, shellRun},
		{handleSig, execSig},
		{echoRun, trimSig},
		{shellRun, execSig},
	} {
		if !g.HasCall(call[0], call[1]) {
			t.Errorf("missing call %s -> %s", call[0], call[1])
		}
	}
	if g.Contains(pluginRun) {
		t.Error("abstract interface method must not be a dispatch target")
	}
	if g.Contains(mainSig) {
		t.Error("Main.main is not reachable from Server.handle")
	}

	out, err := g.CallsFrom(execSig)
	require.NoError(t, err)
	if len(out) != 0 {
		t.Errorf("library method should be a leaf, got %v", out)
	}
}

func TestBuild_RTA(t *testing.T) {
	m, view := loadPlugins(t)

	g, err := Build(context.Background(), m, view, []sig.Method{mainSig}, RTA)
	require.NoError(t, err)

	for _, call := range [][2]sig.Method{
		{mainSig, initSig},
		{mainSig, handleSig},
		{handleSig, echoRun},
		{handleSig, execSig},
		{echoRun, trimSig},
	} {
		if !g.HasCall(call[0], call[1]) {
			t.Errorf("missing call %s -> %s", call[0], call[1])
		}
	}
	if g.Contains(shellRun) {
		t.Error("ShellPlugin is never instantiated, RTA must not dispatch to it")
	}
}

func TestBuild_RTA_LateInstantiation(t *testing.T) {
	doc := `
classes:
  - name: app.Shape
    interface: true
    methods:
      - name: area
        return: double
        abstract: true
  - name: app.Square
    interfaces: [app.Shape]
    methods:
      - name: area
        return: double
  - name: app.Main
    methods:
      - name: main
        static: true
        calls:
          - target: "<app.Shape: double area()>"
            kind: interface
          - target: "<app.Main: void make()>"
            kind: static
      - name: make
        static: true
        instantiates: [app.Square]
`
	m, err := program.Parse([]byte(doc))
	require.NoError(t, err)

	mainM := sig.MustParseMethod("<app.Main: void main()>")
	area := sig.MustParseMethod("<app.Square: double area()>")

	g, err := Build(context.Background(), m, hierarchy.New(m), []sig.Method{mainM}, RTA)
	require.NoError(t, err)
	if !g.HasCall(mainM, area) {
		t.Error("dispatch site should be revisited once Square is instantiated")
	}
}

func TestBuild_InheritedResolution(t *testing.T) {
	doc := `
classes:
  - name: app.Base
    methods:
      - name: log
  - name: app.Child
    super: app.Base
    methods:
      - name: go
        calls:
          - target: "<app.Child: void log()>"
            kind: special
`
	m, err := program.Parse([]byte(doc))
	require.NoError(t, err)

	goM := sig.MustParseMethod("<app.Child: void go()>")
	baseLog := sig.MustParseMethod("<app.Base: void log()>")

	g, err := Build(context.Background(), m, hierarchy.New(m), []sig.Method{goM}, CHA)
	require.NoError(t, err)
	if !g.HasCall(goM, baseLog) {
		t.Errorf("calls from go = %v, want %s", g.Calls(), baseLog)
	}
}

func TestBuild_Errors(t *testing.T) {
	m, view := loadPlugins(t)
	ctx := context.Background()

	if _, err := Build(ctx, m, view, nil, CHA); !errors.Is(err, ErrNoRoots) {
		t.Errorf("no roots error = %v, want ErrNoRoots", err)
	}
	if _, err := Build(ctx, m, view, []sig.Method{execSig}, CHA); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("unknown root error = %v, want ErrRootNotFound", err)
	}
	if _, err := Build(ctx, m, view, []sig.Method{mainSig}, CHA, WithMaxMethods(2)); !errors.Is(err, ErrMethodLimit) {
		t.Errorf("limit error = %v, want ErrMethodLimit", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Build(cancelled, m, view, []sig.Method{mainSig}, CHA); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want context.Canceled", err)
	}
}
