// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/analysis"
	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/charmbracelet/lipgloss"
)

// styles is the palette for terminal output. Colors are dropped
// automatically when the writer is not a terminal.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	good    lipgloss.Style
	bad     lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
	warning lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label:   r.NewStyle().Width(18).Foreground(lipgloss.Color("8")),
		good:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		bad:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:   r.NewStyle().Faint(true),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		warning: r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (s styles) row(label, value string) string {
	return s.label.Render(label) + value
}

// renderReport writes a human-readable summary of rep.
func renderReport(w io.Writer, rep *analysis.Report) {
	s := newStyles(w)

	verdict := s.bad.Render("SINK REACHABLE")
	switch {
	case rep.Reconciliation == nil:
		verdict = s.warning.Render("ENTRY NOT REACHED")
	case !rep.SinkReachable():
		verdict = s.good.Render("sink not reachable")
	}

	rows := []string{
		s.title.Render("reach " + rep.RunID),
		"",
		s.row("verdict", verdict),
		s.row("project", rep.Project),
		s.row("frontend", rep.Frontend),
		s.row("algorithm", rep.Algorithm),
		s.row("trace", fmt.Sprintf("%s (%d methods)", rep.TraceFile, rep.TraceMethods)),
		s.row("simulator", rep.SimulatorClass),
		s.row("entry", rep.Entry.String()),
		s.row("sink", rep.Sink.String()),
		s.row("model", fmt.Sprintf("%d classes, %d methods", rep.Model.Classes, rep.Model.Methods)),
		s.row("call graph", fmt.Sprintf("%d methods, %d calls built; %d removed by filter",
			rep.Built.Methods, rep.Built.Calls, rep.Filter.CallsRemoved)),
		s.row("final graph", fmt.Sprintf("%d methods, %d calls", rep.Final.Methods, rep.Final.Calls)),
	}
	if res := rep.Reconciliation; res != nil {
		rows = append(rows,
			s.row("reached", fmt.Sprintf("%d methods", len(res.Reach))),
			s.row("trace edges", fmt.Sprintf("%d added", res.TraceEdgesAdded)),
			s.row("rewired", fmt.Sprintf("%d sink callers", res.Rewired)),
		)
	}
	if len(rep.Exports) > 0 {
		rows = append(rows, s.row("exports", strings.Join(rep.Exports, ", ")))
	}
	if rep.Snapshot != nil {
		rows = append(rows, s.row("snapshot", rep.Snapshot.SnapshotID))
	}
	rows = append(rows, s.row("duration", (time.Duration(rep.DurationMillis)*time.Millisecond).String()))

	fmt.Fprintln(w, s.box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

	if res := rep.Reconciliation; res != nil && len(res.Witnesses) > 0 {
		fmt.Fprintln(w, s.title.Render("Witness paths"))
		for _, wit := range res.Witnesses {
			parts := make([]string, 0, len(wit.Path)+1)
			for _, m := range wit.Path {
				parts = append(parts, m.String())
			}
			parts = append(parts, s.bad.Render(rep.Sink.String()))
			fmt.Fprintln(w, "  "+strings.Join(parts, s.muted.Render(" -> ")))
		}
	}
}

// renderSnapshots writes one line per snapshot.
func renderSnapshots(w io.Writer, list []*callgraph.SnapshotMetadata) {
	s := newStyles(w)
	if len(list) == 0 {
		fmt.Fprintln(w, s.muted.Render("no snapshots"))
		return
	}
	for _, m := range list {
		created := time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339)
		verdict := s.good.Render("not reachable")
		switch {
		case m.Run.SinkReachable:
			verdict = s.bad.Render("sink reachable")
		case !m.Run.EntryReached:
			verdict = s.warning.Render("entry not reached")
		}
		fmt.Fprintf(w, "%s  %s  %s  %d methods  %d calls  %s\n",
			s.title.Render(m.SnapshotID), s.muted.Render(created), m.Run.SimulatorClass, m.NodeCount, m.EdgeCount, verdict)
	}
}

// renderDiff writes a diff summary followed by the changed methods and calls.
func renderDiff(w io.Writer, d *callgraph.SnapshotDiff) {
	s := newStyles(w)
	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("%s -> %s", d.BaseSnapshotID, d.TargetSnapshotID)))
	fmt.Fprintln(w, s.row("changes", fmt.Sprintf("%d (%.1f%%), %d classes affected",
		d.Summary.TotalChanges, d.Summary.ChangeRatio*100, d.Summary.ClassesAffected)))
	for _, m := range d.MethodsAdded {
		fmt.Fprintln(w, s.good.Render("+ "+m))
	}
	for _, m := range d.MethodsRemoved {
		fmt.Fprintln(w, s.bad.Render("- "+m))
	}
	for _, c := range d.CallsAdded {
		fmt.Fprintln(w, s.good.Render(fmt.Sprintf("+ %s -> %s", c.From, c.To)))
	}
	for _, c := range d.CallsRemoved {
		fmt.Fprintln(w, s.bad.Render(fmt.Sprintf("- %s -> %s", c.From, c.To)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
