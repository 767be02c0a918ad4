// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph provides the mutable call graph used by the reach
// pipeline, its deterministic exports, and snapshot persistence.
package callgraph

import (
	"sort"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Call is a directed caller → callee edge.
type Call struct {
	From sig.Method `json:"from"`
	To   sig.Method `json:"to"`
}

// Graph is a directed graph over method identities.
//
// Description:
//
//	Storage is delegated to a gonum simple.DirectedGraph keyed by int64 node
//	IDs; Graph owns the mapping between sig.Method and those IDs. gonum's
//	simple graph rejects self edges, so recursive calls are tracked in a
//	separate set and folded into every query.
//
//	Nodes must be registered with AddMethod before they take part in an
//	edge. Every query or mutation naming an unregistered method fails with
//	a *NodeError wrapping ErrUnknownNode.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Concurrent reads without writers are
//	safe.
type Graph struct {
	g       *simple.DirectedGraph
	ids     map[sig.Method]int64
	methods map[int64]sig.Method
	self    map[int64]struct{}
}

// New creates an empty call graph.
func New() *Graph {
	return &Graph{
		g:       simple.NewDirectedGraph(),
		ids:     make(map[sig.Method]int64),
		methods: make(map[int64]sig.Method),
		self:    make(map[int64]struct{}),
	}
}

// AddMethod ensures m is a node. Adding an existing method is a no-op.
func (cg *Graph) AddMethod(m sig.Method) {
	if _, ok := cg.ids[m]; ok {
		return
	}
	n := cg.g.NewNode()
	cg.g.AddNode(n)
	cg.ids[m] = n.ID()
	cg.methods[n.ID()] = m
}

// AddCall adds the edge src → dst.
//
// Inputs:
//
//	src, dst - Both must already be nodes.
//
// Outputs:
//
//	error - *NodeError wrapping ErrUnknownNode if either endpoint is absent.
//	Adding an existing edge is a no-op.
func (cg *Graph) AddCall(src, dst sig.Method) error {
	sid, did, err := cg.endpoints("AddCall", src, dst)
	if err != nil {
		return err
	}
	if sid == did {
		cg.self[sid] = struct{}{}
		return nil
	}
	if cg.g.HasEdgeFromTo(sid, did) {
		return nil
	}
	cg.g.SetEdge(cg.g.NewEdge(cg.g.Node(sid), cg.g.Node(did)))
	return nil
}

// RemoveCall removes the edge src → dst.
//
// Outputs:
//
//	error - *NodeError wrapping ErrUnknownNode if either endpoint is absent.
//	Removing an absent edge is a no-op.
func (cg *Graph) RemoveCall(src, dst sig.Method) error {
	sid, did, err := cg.endpoints("RemoveCall", src, dst)
	if err != nil {
		return err
	}
	if sid == did {
		delete(cg.self, sid)
		return nil
	}
	cg.g.RemoveEdge(sid, did)
	return nil
}

// RemoveMethod removes an isolated node.
//
// Outputs:
//
//	error - ErrUnknownNode if m is absent; ErrConnectedNode if m still has
//	any incoming or outgoing edge. Use RemoveMethodForce for those.
func (cg *Graph) RemoveMethod(m sig.Method) error {
	id, ok := cg.ids[m]
	if !ok {
		return &NodeError{Op: "RemoveMethod", Method: m, Err: ErrUnknownNode}
	}
	if _, loop := cg.self[id]; loop || cg.g.From(id).Len() > 0 || cg.g.To(id).Len() > 0 {
		return &NodeError{Op: "RemoveMethod", Method: m, Err: ErrConnectedNode}
	}
	cg.drop(m, id)
	return nil
}

// RemoveMethodForce removes m and every incident edge.
func (cg *Graph) RemoveMethodForce(m sig.Method) error {
	id, ok := cg.ids[m]
	if !ok {
		return &NodeError{Op: "RemoveMethodForce", Method: m, Err: ErrUnknownNode}
	}
	cg.drop(m, id)
	return nil
}

func (cg *Graph) drop(m sig.Method, id int64) {
	cg.g.RemoveNode(id)
	delete(cg.self, id)
	delete(cg.ids, m)
	delete(cg.methods, id)
}

// CallsFrom returns the direct callees of m, sorted.
//
// Outputs:
//
//	[]sig.Method - Fresh slice; empty if m calls nothing.
//	error - ErrUnknownNode if m is absent.
func (cg *Graph) CallsFrom(m sig.Method) ([]sig.Method, error) {
	id, ok := cg.ids[m]
	if !ok {
		return nil, &NodeError{Op: "CallsFrom", Method: m, Err: ErrUnknownNode}
	}
	return cg.collect(id, cg.g.From(id)), nil
}

// CallsTo returns the direct callers of m, sorted.
func (cg *Graph) CallsTo(m sig.Method) ([]sig.Method, error) {
	id, ok := cg.ids[m]
	if !ok {
		return nil, &NodeError{Op: "CallsTo", Method: m, Err: ErrUnknownNode}
	}
	return cg.collect(id, cg.g.To(id)), nil
}

func (cg *Graph) collect(id int64, it graph.Nodes) []sig.Method {
	out := make([]sig.Method, 0, it.Len()+1)
	for it.Next() {
		out = append(out, cg.methods[it.Node().ID()])
	}
	if _, loop := cg.self[id]; loop {
		out = append(out, cg.methods[id])
	}
	sig.Sort(out)
	return out
}

// Contains reports whether m is a node.
func (cg *Graph) Contains(m sig.Method) bool {
	_, ok := cg.ids[m]
	return ok
}

// HasCall reports whether the edge src → dst exists. Unknown endpoints
// report false.
func (cg *Graph) HasCall(src, dst sig.Method) bool {
	sid, ok := cg.ids[src]
	if !ok {
		return false
	}
	did, ok := cg.ids[dst]
	if !ok {
		return false
	}
	if sid == did {
		_, loop := cg.self[sid]
		return loop
	}
	return cg.g.HasEdgeFromTo(sid, did)
}

// Methods returns every node, sorted.
func (cg *Graph) Methods() []sig.Method {
	out := make([]sig.Method, 0, len(cg.ids))
	for m := range cg.ids {
		out = append(out, m)
	}
	sig.Sort(out)
	return out
}

// Calls returns every edge, sorted by caller then callee.
func (cg *Graph) Calls() []Call {
	out := make([]Call, 0, cg.EdgeCount())
	edges := cg.g.Edges()
	for edges.Next() {
		e := edges.Edge()
		out = append(out, Call{From: cg.methods[e.From().ID()], To: cg.methods[e.To().ID()]})
	}
	for id := range cg.self {
		m := cg.methods[id]
		out = append(out, Call{From: m, To: m})
	}
	sortCalls(out)
	return out
}

// NodeCount returns the number of nodes.
func (cg *Graph) NodeCount() int { return len(cg.ids) }

// EdgeCount returns the number of edges, self calls included.
func (cg *Graph) EdgeCount() int {
	return cg.g.Edges().Len() + len(cg.self)
}

// Copy returns a deep, independent clone.
func (cg *Graph) Copy() *Graph {
	dst := simple.NewDirectedGraph()
	graph.Copy(dst, cg.g)

	out := &Graph{
		g:       dst,
		ids:     make(map[sig.Method]int64, len(cg.ids)),
		methods: make(map[int64]sig.Method, len(cg.methods)),
		self:    make(map[int64]struct{}, len(cg.self)),
	}
	for m, id := range cg.ids {
		out.ids[m] = id
		out.methods[id] = m
	}
	for id := range cg.self {
		out.self[id] = struct{}{}
	}
	return out
}

// PathBetween returns a shortest call chain from → … → to, inclusive.
//
// Outputs:
//
//	[]sig.Method - The chain, or nil if to is unreachable from from.
//	error - ErrUnknownNode if either endpoint is absent.
//
// Complexity: O((V + E) log V), Dijkstra with uniform cost.
func (cg *Graph) PathBetween(from, to sig.Method) ([]sig.Method, error) {
	fid, tid, err := cg.endpoints("PathBetween", from, to)
	if err != nil {
		return nil, err
	}
	if fid == tid {
		return []sig.Method{from}, nil
	}
	shortest := path.DijkstraFrom(cg.g.Node(fid), cg.g)
	nodes, _ := shortest.To(tid)
	if len(nodes) == 0 {
		return nil, nil
	}
	out := make([]sig.Method, len(nodes))
	for i, n := range nodes {
		out[i] = cg.methods[n.ID()]
	}
	return out, nil
}

// Reachable returns every method reachable from start by following calls,
// start included, sorted. It is a breadth-first walk with a visited set.
func (cg *Graph) Reachable(start sig.Method) ([]sig.Method, error) {
	id, ok := cg.ids[start]
	if !ok {
		return nil, &NodeError{Op: "Reachable", Method: start, Err: ErrUnknownNode}
	}
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		it := cg.g.From(cur)
		for it.Next() {
			next := it.Node().ID()
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]sig.Method, 0, len(seen))
	for nid := range seen {
		out = append(out, cg.methods[nid])
	}
	sig.Sort(out)
	return out, nil
}

func (cg *Graph) endpoints(op string, src, dst sig.Method) (int64, int64, error) {
	sid, ok := cg.ids[src]
	if !ok {
		return 0, 0, &NodeError{Op: op, Method: src, Err: ErrUnknownNode}
	}
	did, ok := cg.ids[dst]
	if !ok {
		return 0, 0, &NodeError{Op: op, Method: dst, Err: ErrUnknownNode}
	}
	return sid, did, nil
}

func sortCalls(calls []Call) {
	sort.Slice(calls, func(i, j int) bool {
		fi, fj := calls[i].From.String(), calls[j].From.String()
		if fi != fj {
			return fi < fj
		}
		return calls[i].To.String() < calls[j].To.String()
	})
}
