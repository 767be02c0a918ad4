// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

func m(class, name string) sig.Method {
	return sig.NewMethod(sig.Class(class), "void", name)
}

func names(ms []sig.Method) []string {
	out := make([]string, len(ms))
	for i, x := range ms {
		out[i] = string(x.Class()) + "." + x.Name()
	}
	return out
}

func newChain(t *testing.T, methods ...sig.Method) *Graph {
	t.Helper()
	g := New()
	for _, x := range methods {
		g.AddMethod(x)
	}
	for i := 0; i+1 < len(methods); i++ {
		if err := g.AddCall(methods[i], methods[i+1]); err != nil {
			t.Fatalf("AddCall: %v", err)
		}
	}
	return g
}

func TestGraph_AddMethodIdempotent(t *testing.T) {
	g := New()
	a := m("A", "f")
	g.AddMethod(a)
	g.AddMethod(a)
	if g.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1", g.NodeCount())
	}
}

func TestGraph_AddCall(t *testing.T) {
	a, b := m("A", "f"), m("B", "g")
	g := New()
	g.AddMethod(a)

	err := g.AddCall(a, b)
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("AddCall to unregistered node error = %v, want ErrUnknownNode", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Method != b || nodeErr.Op != "AddCall" {
		t.Errorf("NodeError = %+v, want Op=AddCall Method=%v", nodeErr, b)
	}

	g.AddMethod(b)
	if err := g.AddCall(a, b); err != nil {
		t.Fatalf("AddCall: %v", err)
	}
	before, _ := g.CallsFrom(a)
	if err := g.AddCall(a, b); err != nil {
		t.Fatalf("second AddCall: %v", err)
	}
	after, _ := g.CallsFrom(a)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("duplicate AddCall changed CallsFrom: %v -> %v", before, after)
	}
	if g.EdgeCount() != 1 {
		t.Errorf("EdgeCount() = %d, want 1", g.EdgeCount())
	}
}

func TestGraph_SelfCall(t *testing.T) {
	a := m("A", "rec")
	g := New()
	g.AddMethod(a)
	if err := g.AddCall(a, a); err != nil {
		t.Fatalf("AddCall self: %v", err)
	}
	if !g.HasCall(a, a) {
		t.Error("expected self call")
	}
	from, _ := g.CallsFrom(a)
	to, _ := g.CallsTo(a)
	if len(from) != 1 || len(to) != 1 {
		t.Errorf("CallsFrom = %v, CallsTo = %v, want self in both", from, to)
	}
	if err := g.RemoveMethod(a); !errors.Is(err, ErrConnectedNode) {
		t.Errorf("RemoveMethod with self call error = %v, want ErrConnectedNode", err)
	}
	if err := g.RemoveCall(a, a); err != nil {
		t.Fatalf("RemoveCall self: %v", err)
	}
	if g.EdgeCount() != 0 {
		t.Errorf("EdgeCount() = %d, want 0", g.EdgeCount())
	}
}

func TestGraph_RemoveCall(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := newChain(t, a, b)

	if err := g.RemoveCall(a, c); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("RemoveCall unknown endpoint error = %v, want ErrUnknownNode", err)
	}
	g.AddMethod(c)
	if err := g.RemoveCall(a, c); err != nil {
		t.Errorf("RemoveCall absent edge error = %v, want nil", err)
	}
	if err := g.RemoveCall(a, b); err != nil {
		t.Fatalf("RemoveCall: %v", err)
	}
	if g.HasCall(a, b) {
		t.Error("edge still present after RemoveCall")
	}
	if !g.Contains(a) || !g.Contains(b) {
		t.Error("RemoveCall must not remove nodes")
	}
}

func TestGraph_RemoveMethod(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := newChain(t, a, b)
	g.AddMethod(c)

	if err := g.RemoveMethod(m("X", "x")); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("RemoveMethod unknown error = %v, want ErrUnknownNode", err)
	}
	if err := g.RemoveMethod(a); !errors.Is(err, ErrConnectedNode) {
		t.Errorf("RemoveMethod caller error = %v, want ErrConnectedNode", err)
	}
	if err := g.RemoveMethod(b); !errors.Is(err, ErrConnectedNode) {
		t.Errorf("RemoveMethod callee error = %v, want ErrConnectedNode", err)
	}
	if err := g.RemoveMethod(c); err != nil {
		t.Errorf("RemoveMethod isolated error = %v", err)
	}
	if g.Contains(c) {
		t.Error("isolated node still present")
	}
}

func TestGraph_RemoveMethodForceThenReAdd(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := newChain(t, a, b, c)

	if err := g.RemoveMethodForce(b); err != nil {
		t.Fatalf("RemoveMethodForce: %v", err)
	}
	if g.Contains(b) || g.EdgeCount() != 0 {
		t.Fatalf("after force removal: contains=%v edges=%d", g.Contains(b), g.EdgeCount())
	}

	g.AddMethod(b)
	from, _ := g.CallsFrom(b)
	to, _ := g.CallsTo(b)
	if len(from) != 0 || len(to) != 0 {
		t.Errorf("re-added node has edges: from=%v to=%v", from, to)
	}
	if err := g.RemoveMethodForce(m("X", "x")); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("RemoveMethodForce unknown error = %v", err)
	}
}

func TestGraph_CallsFromTo(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := New()
	for _, x := range []sig.Method{a, b, c} {
		g.AddMethod(x)
	}
	_ = g.AddCall(a, c)
	_ = g.AddCall(a, b)
	_ = g.AddCall(b, c)

	from, err := g.CallsFrom(a)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := names(from), []string{"B.g", "C.h"}; !reflect.DeepEqual(got, want) {
		t.Errorf("CallsFrom(a) = %v, want %v", got, want)
	}
	to, _ := g.CallsTo(c)
	if got, want := names(to), []string{"A.f", "B.g"}; !reflect.DeepEqual(got, want) {
		t.Errorf("CallsTo(c) = %v, want %v", got, want)
	}
	empty, _ := g.CallsFrom(c)
	if empty == nil || len(empty) != 0 {
		t.Errorf("CallsFrom(leaf) = %#v, want empty non-nil", empty)
	}
	if _, err := g.CallsTo(m("X", "x")); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("CallsTo unknown error = %v", err)
	}
}

func TestGraph_Copy(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := newChain(t, a, b)
	_ = g.AddCall(a, a)

	cp := g.Copy()
	cp.AddMethod(c)
	_ = cp.AddCall(b, c)
	_ = cp.RemoveCall(a, b)

	if g.Contains(c) || !g.HasCall(a, b) {
		t.Error("mutating the copy changed the original")
	}
	if !cp.HasCall(a, a) {
		t.Error("copy lost the self call")
	}
	if g.Hash() == cp.Hash() {
		t.Error("diverged graphs must hash differently")
	}
	if g.Copy().Hash() != g.Hash() {
		t.Error("fresh copy must hash like the original")
	}
}

func TestGraph_PathBetween(t *testing.T) {
	a, b, c, d := m("A", "f"), m("B", "g"), m("C", "h"), m("D", "i")
	g := newChain(t, a, b, c)
	g.AddMethod(d)
	_ = g.AddCall(a, c)

	p, err := g.PathBetween(a, c)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := names(p), []string{"A.f", "C.h"}; !reflect.DeepEqual(got, want) {
		t.Errorf("PathBetween = %v, want %v", got, want)
	}
	if p, _ := g.PathBetween(a, d); p != nil {
		t.Errorf("PathBetween unreachable = %v, want nil", p)
	}
	if p, _ := g.PathBetween(a, a); len(p) != 1 {
		t.Errorf("PathBetween self = %v, want [a]", p)
	}
}

func TestGraph_Reachable(t *testing.T) {
	a, b, c, d := m("A", "f"), m("B", "g"), m("C", "h"), m("D", "i")
	g := newChain(t, a, b, c)
	_ = g.AddCall(c, a)
	g.AddMethod(d)

	got, err := g.Reachable(a)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"A.f", "B.g", "C.h"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("Reachable = %v, want %v", names(got), want)
	}
}

func TestGraph_ExportDOT(t *testing.T) {
	a, b := m("b.B", "g"), m("a.A", "f")
	g := New()
	g.AddMethod(a)
	g.AddMethod(b)
	_ = g.AddCall(b, a)

	want := "digraph \"callgraph\" {\n" +
		"\t\"<a.A: void f()>\";\n" +
		"\t\"<b.B: void g()>\";\n" +
		"\t\"<a.A: void f()>\" -> \"<b.B: void g()>\";\n" +
		"}\n"
	if got := g.ExportDOT(); got != want {
		t.Errorf("ExportDOT() =\n%s\nwant\n%s", got, want)
	}

	// Insertion order must not matter.
	h := New()
	h.AddMethod(b)
	h.AddMethod(a)
	_ = h.AddCall(b, a)
	if h.ExportDOT() != g.ExportDOT() {
		t.Error("ExportDOT depends on insertion order")
	}
}

func TestSerialization_RoundTrip(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	g := newChain(t, a, b, c)
	_ = g.AddCall(c, c)

	sg := g.ToSerializable()
	if sg.SchemaVersion != GraphSchemaVersion {
		t.Errorf("SchemaVersion = %q", sg.SchemaVersion)
	}
	back, err := FromSerializable(sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	if back.Hash() != g.Hash() {
		t.Error("round trip changed the structure hash")
	}
	if back.EdgeCount() != 3 {
		t.Errorf("EdgeCount() = %d, want 3", back.EdgeCount())
	}
}

func TestFromSerializable_Errors(t *testing.T) {
	if _, err := FromSerializable(&SerializableGraph{SchemaVersion: "0.1"}); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("schema mismatch error = %v", err)
	}
	sg := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Methods:       []string{"<A: void f()>"},
		Calls:         []SerializableCall{{From: "<A: void f()>", To: "<B: void g()>"}},
	}
	if _, err := FromSerializable(sg); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("dangling call error = %v, want ErrUnknownNode", err)
	}
	if _, err := FromSerializable(nil); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestDiffSnapshots(t *testing.T) {
	a, b, c := m("A", "f"), m("B", "g"), m("C", "h")
	base := newChain(t, a, b)
	target := base.Copy()
	target.AddMethod(c)
	_ = target.AddCall(a, c)
	_ = target.RemoveCall(a, b)

	diff, err := DiffSnapshots(base, target, "base", "target")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"<C: void h()>"}; !reflect.DeepEqual(diff.MethodsAdded, want) {
		t.Errorf("MethodsAdded = %v, want %v", diff.MethodsAdded, want)
	}
	if len(diff.MethodsRemoved) != 0 {
		t.Errorf("MethodsRemoved = %v, want empty", diff.MethodsRemoved)
	}
	if len(diff.CallsAdded) != 1 || diff.CallsAdded[0].To != "<C: void h()>" {
		t.Errorf("CallsAdded = %v", diff.CallsAdded)
	}
	if len(diff.CallsRemoved) != 1 || diff.CallsRemoved[0].To != "<B: void g()>" {
		t.Errorf("CallsRemoved = %v", diff.CallsRemoved)
	}
	if diff.Summary.TotalChanges != 3 {
		t.Errorf("TotalChanges = %d, want 3", diff.Summary.TotalChanges)
	}
	if diff.Summary.ClassesAffected != 3 {
		t.Errorf("ClassesAffected = %d, want 3", diff.Summary.ClassesAffected)
	}

	if _, err := DiffSnapshots(nil, target, "", ""); err == nil {
		t.Error("expected error for nil base")
	}
}
