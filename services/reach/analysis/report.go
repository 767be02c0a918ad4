// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/AleutianAI/AleutianReach/services/reach/filter"
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/reconcile"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// Sentinel errors.
var (
	// ErrUnresolvedSignature indicates a configured signature is malformed
	// or not declared in the program model.
	ErrUnresolvedSignature = errors.New("unresolved method signature")

	// ErrUnknownFrontend indicates the frontend could not be chosen for the
	// class path.
	ErrUnknownFrontend = errors.New("cannot select frontend")
)

// Signature roles.
const (
	RoleEntry = "entry_point_method_sig"
	RoleSink  = "sink_method_sig"
	RoleMain  = "main_method_sig"
)

// UnresolvedSignatureError names the configured signature that could not
// be resolved.
type UnresolvedSignatureError struct {
	// Role is the configuration key, for example "sink_method_sig".
	Role string

	Signature string

	// Err is the parse failure, if the text was malformed.
	Err error
}

// Error implements error.
func (e *UnresolvedSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %q: %v", ErrUnresolvedSignature, e.Role, e.Signature, e.Err)
	}
	return fmt.Sprintf("%s: %s %q is not declared in the program", ErrUnresolvedSignature, e.Role, e.Signature)
}

// Unwrap returns ErrUnresolvedSignature and the parse failure.
func (e *UnresolvedSignatureError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnresolvedSignature, e.Err}
	}
	return []error{ErrUnresolvedSignature}
}

// GraphStats sizes a call graph.
type GraphStats struct {
	Methods int `json:"methods"`
	Calls   int `json:"calls"`
}

func graphStats(g *callgraph.Graph) GraphStats {
	return GraphStats{Methods: g.NodeCount(), Calls: g.EdgeCount()}
}

// Report is the JSON-serializable outcome of one run.
type Report struct {
	RunID     string `json:"run_id"`
	Project   string `json:"project"`
	Frontend  string `json:"frontend"`
	Algorithm string `json:"algorithm"`

	TraceFile      string `json:"trace_file"`
	TraceMethods   int    `json:"trace_methods"`
	SimulatorClass string `json:"simulator_class"`

	Entry sig.Method `json:"entry"`
	Sink  sig.Method `json:"sink"`
	Main  string     `json:"main,omitempty"`

	// SinkInModel is false when the sink is a library method the program
	// model does not declare.
	SinkInModel bool `json:"sink_in_model"`

	Model program.Stats `json:"model"`

	// LibraryClasses counts classes merged from library_path.
	LibraryClasses int `json:"library_classes,omitempty"`

	Built  GraphStats   `json:"built"`
	Filter filter.Stats `json:"filter"`
	Final  GraphStats   `json:"final"`

	// Reconciliation is nil when the entry point was not reached.
	Reconciliation *reconcile.Result `json:"reconciliation,omitempty"`

	Exports  []string                     `json:"exports,omitempty"`
	Snapshot *callgraph.SnapshotMetadata `json:"snapshot,omitempty"`

	StartedAt      time.Time `json:"started_at"`
	DurationMillis int64     `json:"duration_ms"`

	graph *callgraph.Graph
}

// SinkReachable reports whether any reached method called the sink.
func (r *Report) SinkReachable() bool {
	return r.Reconciliation != nil && r.Reconciliation.SinkReachable
}

// Graph returns the final call graph.
func (r *Report) Graph() *callgraph.Graph { return r.graph }
