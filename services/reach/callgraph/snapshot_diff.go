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
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// SnapshotDiff contains the differences between two call graphs.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`

	// MethodsAdded are present in target but not in base.
	MethodsAdded []string `json:"methods_added"`

	// MethodsRemoved are present in base but not in target.
	MethodsRemoved []string `json:"methods_removed"`

	// CallsAdded are edges present in target but not in base.
	CallsAdded []SerializableCall `json:"calls_added"`

	// CallsRemoved are edges present in base but not in target.
	CallsRemoved []SerializableCall `json:"calls_removed"`

	Summary DiffSummary `json:"summary"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts added and removed methods and calls.
	TotalChanges int `json:"total_changes"`

	// ClassesAffected is the number of distinct declaring classes among
	// added or removed methods and call endpoints.
	ClassesAffected int `json:"classes_affected"`

	// ChangeRatio is TotalChanges over the larger graph's node plus edge
	// count, in [0, 1].
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffSnapshots computes the differences between two graphs.
//
// Description:
//
//	Compares by canonical method signature. Typical use is comparing the
//	reconciled graphs of two runs against the same program to see how a new
//	trace changed sink reachability.
//
// Outputs:
//
//	*SnapshotDiff - All slices sorted and non-nil.
//	error - Non-nil if either graph is nil.
//
// Complexity: O(V log V + E log E).
func DiffSnapshots(base, target *Graph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	bs, ts := base.ToSerializable(), target.ToSerializable()
	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		MethodsAdded:     setDifference(ts.Methods, bs.Methods),
		MethodsRemoved:   setDifference(bs.Methods, ts.Methods),
		CallsAdded:       callDifference(ts.Calls, bs.Calls),
		CallsRemoved:     callDifference(bs.Calls, ts.Calls),
	}

	classes := make(map[string]bool)
	markClass := func(text string) {
		if m, err := sig.ParseMethod(text); err == nil {
			classes[string(m.Class())] = true
		}
	}
	for _, m := range diff.MethodsAdded {
		markClass(m)
	}
	for _, m := range diff.MethodsRemoved {
		markClass(m)
	}
	for _, c := range append(append([]SerializableCall{}, diff.CallsAdded...), diff.CallsRemoved...) {
		markClass(c.From)
		markClass(c.To)
	}

	total := len(diff.MethodsAdded) + len(diff.MethodsRemoved) + len(diff.CallsAdded) + len(diff.CallsRemoved)
	size := len(bs.Methods) + len(bs.Calls)
	if tsize := len(ts.Methods) + len(ts.Calls); tsize > size {
		size = tsize
	}
	diff.Summary = DiffSummary{TotalChanges: total, ClassesAffected: len(classes)}
	if size > 0 {
		ratio := float64(total) / float64(size)
		if ratio > 1 {
			ratio = 1
		}
		diff.Summary.ChangeRatio = ratio
	}
	return diff, nil
}

func setDifference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := []string{}
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func callDifference(a, b []SerializableCall) []SerializableCall {
	inB := make(map[SerializableCall]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	out := []SerializableCall{}
	for _, c := range a {
		if !inB[c] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
