// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/AleutianAI/AleutianReach/services/reach/trace"
	"github.com/stretchr/testify/require"
)

func m(class, name string) sig.Method {
	return sig.NewMethod(sig.Class(class), "void", name)
}

var (
	E = m("app.Main", "entry")
	A = m("app.Service", "handle")
	K = m("java.lang.Runtime", "exec")
	X = m("java.io.File", "delete")
	Y = m("java.util.List", "add")
)

func newGraph(t *testing.T, calls ...[2]sig.Method) *callgraph.Graph {
	t.Helper()
	g := callgraph.New()
	for _, c := range calls {
		g.AddMethod(c[0])
		g.AddMethod(c[1])
		require.NoError(t, g.AddCall(c[0], c[1]))
	}
	return g
}

func callSet(g *callgraph.Graph) map[[2]string]bool {
	out := make(map[[2]string]bool)
	for _, c := range g.Calls() {
		out[[2]string{c.From.String(), c.To.String()}] = true
	}
	return out
}

func TestRun_SinkReachable(t *testing.T) {
	g := newGraph(t, [2]sig.Method{E, A}, [2]sig.Method{A, K})
	eng := NewEngine()

	res, err := eng.Run(context.Background(), g, Input{Entry: E, Sink: K, Trace: trace.NewSet(X, Y), SimulatorClass: "app.Script1"})
	require.NoError(t, err)
	require.NotNil(t, res)

	R := sig.NewMethod("app.Script1", "void", "runtimeSimulator")
	if res.Simulator != R {
		t.Errorf("Simulator = %v, want %v", res.Simulator, R)
	}

	wantNodes := []sig.Method{E, A, K, R, X, Y}
	sig.Sort(wantNodes)
	if got := g.Methods(); !reflect.DeepEqual(got, wantNodes) {
		t.Errorf("nodes = %v, want %v", got, wantNodes)
	}

	want := map[[2]string]bool{
		{E.String(), A.String()}: true,
		{A.String(), R.String()}: true,
		{R.String(), X.String()}: true,
		{R.String(), Y.String()}: true,
	}
	if got := callSet(g); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if g.HasCall(A, K) {
		t.Error("A -> K must be removed")
	}

	if !res.SinkReachable || res.Rewired != 1 || res.TraceEdgesAdded != 2 {
		t.Errorf("result = reachable:%v rewired:%d traceEdges:%d", res.SinkReachable, res.Rewired, res.TraceEdgesAdded)
	}
	if !reflect.DeepEqual(res.SinkCallers, []sig.Method{A}) {
		t.Errorf("SinkCallers = %v, want [%v]", res.SinkCallers, A)
	}
	if len(res.Witnesses) != 1 || !reflect.DeepEqual(res.Witnesses[0].Path, []sig.Method{E, A}) {
		t.Errorf("Witnesses = %+v", res.Witnesses)
	}
}

func TestRun_SinkDisconnected(t *testing.T) {
	g := newGraph(t, [2]sig.Method{E, A})
	g.AddMethod(K)

	res, err := NewEngine().Run(context.Background(), g, Input{Entry: E, Sink: K, Trace: trace.NewSet(X, Y)})
	require.NoError(t, err)

	R := sig.NewMethod(DefaultSimulatorClass, "void", DefaultSimulatorMethod)
	if res.SinkReachable || res.Rewired != 0 {
		t.Errorf("unexpected rewiring: %+v", res)
	}
	if g.HasCall(A, K) || g.HasCall(A, R) {
		t.Error("no caller may be rewired when the sink is unreachable")
	}
	if !g.HasCall(R, X) || !g.HasCall(R, Y) {
		t.Error("simulator and trace edges are still added")
	}
	if !g.Contains(K) {
		t.Error("disconnected sink must stay in the graph")
	}
}

func TestRun_SinkAbsent(t *testing.T) {
	g := newGraph(t, [2]sig.Method{E, A})
	res, err := NewEngine().Run(context.Background(), g, Input{Entry: E, Sink: K, Trace: trace.NewSet(X)})
	require.NoError(t, err)
	if res.SinkReachable || g.Contains(K) {
		t.Errorf("absent sink should simply never be found: %+v", res)
	}
}

func TestRun_EntryAbsent(t *testing.T) {
	g := newGraph(t, [2]sig.Method{A, K})
	before := g.Hash()

	res, err := NewEngine().Run(context.Background(), g, Input{Entry: E, Sink: K, Trace: trace.NewSet(X)})
	if err != nil || res != nil {
		t.Fatalf("Run = %v, %v; want nil, nil", res, err)
	}
	if g.Hash() != before {
		t.Error("graph must not change when the entry is absent")
	}
}

func TestRun_EmptyTrace(t *testing.T) {
	g := newGraph(t, [2]sig.Method{E, K})
	for name, set := range map[string]*trace.Set{"nil": nil, "empty": trace.NewSet()} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewEngine().Run(context.Background(), g, Input{Entry: E, Sink: K, Trace: set}); !errors.Is(err, ErrEmptyTrace) {
				t.Errorf("error = %v, want ErrEmptyTrace", err)
			}
		})
	}
	if !g.HasCall(E, K) {
		t.Error("graph must not change on configuration errors")
	}
}

func TestRun_Idempotent(t *testing.T) {
	g := newGraph(t, [2]sig.Method{E, A}, [2]sig.Method{A, K}, [2]sig.Method{E, K})
	eng := NewEngine()
	in := Input{Entry: E, Sink: K, Trace: trace.NewSet(X, Y), SimulatorClass: "app.Script"}

	first, err := eng.Run(context.Background(), g, in)
	require.NoError(t, err)
	if first.Rewired != 2 {
		t.Errorf("first Rewired = %d, want 2", first.Rewired)
	}
	nodes, edges, hash := g.NodeCount(), g.EdgeCount(), g.Hash()

	second, err := eng.Run(context.Background(), g, in)
	require.NoError(t, err)
	if g.NodeCount() != nodes || g.EdgeCount() != edges || g.Hash() != hash {
		t.Errorf("second run changed the graph: %d/%d -> %d/%d", nodes, edges, g.NodeCount(), g.EdgeCount())
	}
	if second.TraceEdgesAdded != 0 || second.Rewired != 0 {
		t.Errorf("second run added %d trace edges and rewired %d", second.TraceEdgesAdded, second.Rewired)
	}
}

func TestRun_CyclesAndTraceOrder(t *testing.T) {
	B := m("app.Service", "loop")
	build := func() *callgraph.Graph {
		return newGraph(t,
			[2]sig.Method{E, A},
			[2]sig.Method{A, B},
			[2]sig.Method{B, A},
			[2]sig.Method{B, B},
			[2]sig.Method{B, K},
		)
	}

	g1, g2 := build(), build()
	eng := NewEngine(WithSimulatorMethod("sim"))
	r1, err := eng.Run(context.Background(), g1, Input{Entry: E, Sink: K, Trace: trace.NewSet(X, Y)})
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), g2, Input{Entry: E, Sink: K, Trace: trace.NewSet(Y, X)})
	require.NoError(t, err)

	if g1.Hash() != g2.Hash() {
		t.Error("trace order must not affect the resulting graph")
	}
	if r1.Simulator.Name() != "sim" {
		t.Errorf("simulator name = %q, want sim", r1.Simulator.Name())
	}
	if !reflect.DeepEqual(r1.SinkCallers, []sig.Method{B}) {
		t.Errorf("SinkCallers = %v, want [%v]", r1.SinkCallers, B)
	}
	if len(r1.Reach) != 4 {
		t.Errorf("Reach = %v, want E, A, B, K", r1.Reach)
	}
}
