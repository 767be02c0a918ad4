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
	"fmt"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// Sentinel errors for call graph operations.
var (
	// ErrUnknownNode indicates an operation named a method that is not a
	// node of the graph.
	ErrUnknownNode = errors.New("unknown node")

	// ErrConnectedNode indicates RemoveMethod was called on a node that
	// still has incident edges.
	ErrConnectedNode = errors.New("node still has incident edges")

	// ErrSnapshotNotFound indicates a snapshot ID that is not stored.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSchemaMismatch indicates a serialized graph with an unsupported
	// schema version.
	ErrSchemaMismatch = errors.New("unsupported graph schema version")
)

// NodeError reports which method an operation failed on.
type NodeError struct {
	// Op is the graph operation, e.g. "AddCall".
	Op string

	// Method is the offending method.
	Method sig.Method

	// Err is ErrUnknownNode or ErrConnectedNode.
	Err error
}

// Error implements error.
func (e *NodeError) Error() string {
	return fmt.Sprintf("callgraph: %s %s: %v", e.Op, e.Method, e.Err)
}

// Unwrap returns the sentinel.
func (e *NodeError) Unwrap() error { return e.Err }
