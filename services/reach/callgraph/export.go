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
	"bufio"
	"io"
	"strings"
)

// DOTGraphName is the graph name written by WriteDOT.
const DOTGraphName = "callgraph"

// WriteDOT writes the graph in Graphviz DOT format.
//
// Description:
//
//	Emits one statement per node followed by one statement per edge. Nodes
//	are ordered by their canonical signature string and edges by caller then
//	callee, so the same graph always produces byte-identical output. Node IDs
//	are the quoted signatures themselves; no numeric IDs leak into the text.
//
// Inputs:
//
//	w - Destination writer.
//
// Outputs:
//
//	error - Non-nil if writing fails.
func (cg *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("digraph ")
	bw.WriteString(dotQuote(DOTGraphName))
	bw.WriteString(" {\n")

	for _, m := range cg.Methods() {
		bw.WriteString("\t")
		bw.WriteString(dotQuote(m.String()))
		bw.WriteString(";\n")
	}
	for _, c := range cg.Calls() {
		bw.WriteString("\t")
		bw.WriteString(dotQuote(c.From.String()))
		bw.WriteString(" -> ")
		bw.WriteString(dotQuote(c.To.String()))
		bw.WriteString(";\n")
	}

	bw.WriteString("}\n")
	return bw.Flush()
}

// ExportDOT returns WriteDOT's output as a string.
func (cg *Graph) ExportDOT() string {
	var sb strings.Builder
	_ = cg.WriteDOT(&sb)
	return sb.String()
}

// dotQuote renders s as a DOT double-quoted ID. Inside quotes only '"' needs
// escaping.
func dotQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
