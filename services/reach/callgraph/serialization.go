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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a Graph.
//
// Description:
//
//	Methods are rendered in canonical signature form and sorted; calls are
//	sorted by caller then callee. The same graph therefore always encodes to
//	the same bytes, which makes content hashing and diffing reliable.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Methods contains every node, sorted.
	Methods []string `json:"methods"`

	// Calls contains every edge, sorted.
	Calls []SerializableCall `json:"calls"`
}

// SerializableCall is the JSON-serializable representation of a Call.
type SerializableCall struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ToSerializable converts a Graph to its JSON-serializable representation.
//
// Outputs:
//
//	*SerializableGraph - Never nil. A nil receiver yields an empty graph.
//
// Complexity: O(V log V + E log E), dominated by sorting.
func (cg *Graph) ToSerializable() *SerializableGraph {
	sg := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		Methods:       []string{},
		Calls:         []SerializableCall{},
	}
	if cg == nil {
		sg.GraphHash = hashStructure(sg.Methods, sg.Calls)
		return sg
	}

	for _, m := range cg.Methods() {
		sg.Methods = append(sg.Methods, m.String())
	}
	for _, c := range cg.Calls() {
		sg.Calls = append(sg.Calls, SerializableCall{From: c.From.String(), To: c.To.String()})
	}
	sg.GraphHash = hashStructure(sg.Methods, sg.Calls)
	return sg
}

// FromSerializable reconstructs a Graph.
//
// Outputs:
//
//	*Graph - The reconstructed graph.
//	error - ErrSchemaMismatch for an unknown schema version, a parse error
//	for a malformed signature, or ErrUnknownNode for a call whose endpoint
//	is not listed in Methods.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: %q", ErrSchemaMismatch, sg.SchemaVersion)
	}

	cg := New()
	for _, text := range sg.Methods {
		m, err := sig.ParseMethod(text)
		if err != nil {
			return nil, fmt.Errorf("method %q: %w", text, err)
		}
		cg.AddMethod(m)
	}
	for i, c := range sg.Calls {
		from, err := sig.ParseMethod(c.From)
		if err != nil {
			return nil, fmt.Errorf("calls[%d].from: %w", i, err)
		}
		to, err := sig.ParseMethod(c.To)
		if err != nil {
			return nil, fmt.Errorf("calls[%d].to: %w", i, err)
		}
		if err := cg.AddCall(from, to); err != nil {
			return nil, fmt.Errorf("calls[%d]: %w", i, err)
		}
	}
	return cg, nil
}

// Hash returns the deterministic structure hash of the graph.
func (cg *Graph) Hash() string {
	return cg.ToSerializable().GraphHash
}

// hashStructure hashes sorted methods and calls. The separators cannot occur
// inside a canonical signature.
func hashStructure(methods []string, calls []SerializableCall) string {
	h := sha256.New()
	for _, m := range methods {
		h.Write([]byte(m))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})
	for _, c := range calls {
		h.Write([]byte(c.From))
		h.Write([]byte{'\t'})
		h.Write([]byte(c.To))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
