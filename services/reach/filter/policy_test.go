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
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/stretchr/testify/require"
)

func TestPolicy_ClassPatternScenario(t *testing.T) {
	view := newView(t)
	pattern, err := NewClassPattern(`com\.acme\..*`, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{pattern})
	require.NoError(t, err)

	foo := sig.MustParseMethod("<com.acme.Foo: void f()>")
	bar := sig.MustParseMethod("<org.other.Bar: void g()>")

	if !p.DeniedEdge(foo, bar, view) {
		t.Error("com.acme.Foo source should be denied")
	}
	if p.DeniedEdge(bar, foo, view) {
		t.Error("org.other.Bar source should be allowed")
	}
}

func TestPolicy_InterfaceHierarchyScenario(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{e})
	require.NoError(t, err)

	if !p.DeniedEdge(echoRun, barRun, view) {
		t.Error("EchoPlugin.run implements Plugin.run and should be denied")
	}
	if p.DeniedEdge(barRun, echoRun, view) {
		t.Error("unrelated Bar.run should be allowed")
	}
}

func TestPolicy_FirstMatchWins(t *testing.T) {
	view := newView(t)
	allowEcho := NewExactClass("com.acme.EchoPlugin", false)
	denyAcme, err := NewClassPattern(`com\.acme\..*`, true)
	require.NoError(t, err)

	p, err := NewPolicy(true, []Entry{allowEcho, denyAcme})
	require.NoError(t, err)

	tests := []struct {
		name string
		src  sig.Method
		want bool
	}{
		{"first entry allows", echoRun, false},
		{"second entry denies", workStart, true},
		{"no match takes default", barRun, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.DeniedEdge(tt.src, plugRun, view); got != tt.want {
				t.Errorf("DeniedEdge(%s) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

func TestPolicy_SourceOnly(t *testing.T) {
	view := newView(t)
	denyAcme, err := NewClassPattern(`com\.acme\..*`, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{denyAcme})
	require.NoError(t, err)

	targets := []sig.Method{echoRun, barRun, workStop, sig.MustParseMethod("<x.Y: int z(int)>")}
	for _, src := range []sig.Method{echoRun, barRun, baseStart} {
		first := p.DeniedEdge(src, targets[0], view)
		for _, dst := range targets[1:] {
			if got := p.DeniedEdge(src, dst, view); got != first {
				t.Errorf("DeniedEdge(%s, %s) = %v, want %v", src, dst, got, first)
			}
		}
	}
}

func TestPolicy_CachePurgedOnSnapshotChange(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{e})
	require.NoError(t, err)

	if p.DeniedEdge(lateRun, barRun, view) {
		t.Fatal("LatePlugin.run is unknown to the first snapshot and should be allowed")
	}
	p.DeniedEdge(echoRun, barRun, view)
	if got := p.CachedVerdicts(); got != 2 {
		t.Errorf("CachedVerdicts = %d, want 2", got)
	}

	next := extendWithLatePlugin(t, view)
	if !p.DeniedEdge(lateRun, barRun, next) {
		t.Error("verdict should be recomputed against the new snapshot")
	}
	if got := p.CachedVerdicts(); got != 1 {
		t.Errorf("CachedVerdicts after purge = %d, want 1", got)
	}
}

func TestPolicy_SmallCacheKeepsVerdicts(t *testing.T) {
	view := newView(t)
	denyAcme, err := NewClassPattern(`com\.acme\..*`, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{denyAcme}, WithCacheSize(1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		if !p.DeniedEdge(echoRun, barRun, view) {
			t.Error("echo should be denied")
		}
		if p.DeniedEdge(barRun, echoRun, view) {
			t.Error("bar should be allowed")
		}
	}
	if got := p.CachedVerdicts(); got != 1 {
		t.Errorf("CachedVerdicts = %d, want 1", got)
	}
}

func TestPolicy_ConcurrentQueries(t *testing.T) {
	view := newView(t)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{e})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.DeniedEdge(echoRun, barRun, view) {
				errs <- "echo allowed"
			}
			if p.DeniedEdge(barRun, echoRun, view) {
				errs <- "bar denied"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestPolicy_StaleSnapshotSkipsCache(t *testing.T) {
	view := newView(t)
	next := extendWithLatePlugin(t, view)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{e})
	require.NoError(t, err)

	oldID := p.sync(view)
	require.True(t, p.DeniedEdge(lateRun, barRun, next))

	if _, ok := p.cached(lateRun, oldID); ok {
		t.Error("cache filled for the new snapshot must not answer the old one")
	}
	if denied, ok := p.cached(lateRun, next.SnapshotID()); !ok || !denied {
		t.Errorf("cached(new) = %v, %v, want true, true", denied, ok)
	}
}

func TestPolicy_InterleavedSnapshots(t *testing.T) {
	view := newView(t)
	next := extendWithLatePlugin(t, view)
	e, err := NewInterfaceHierarchy("com.acme.Plugin", true, false, true)
	require.NoError(t, err)
	p, err := NewPolicy(false, []Entry{e})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if p.DeniedEdge(lateRun, barRun, view) {
					errs <- "LatePlugin.run denied against the snapshot without it"
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !p.DeniedEdge(lateRun, barRun, next) {
					errs <- "LatePlugin.run allowed against the snapshot with it"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestPolicy_String(t *testing.T) {
	p, err := NewPolicy(true, []Entry{NewExactClass("a.B", false)})
	require.NoError(t, err)
	want := "0: allow class a.B\ndefault: deny\n"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
