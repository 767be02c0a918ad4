// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javasrc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	sitter "github.com/smacker/go-tree-sitter"
)

// recordCalls walks every method body and fills in call sites and
// allocations on the declared methods.
func (u *universe) recordCalls(ctx context.Context) error {
	for _, ci := range u.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, mi := range ci.methods {
			w := &bodyWalker{u: u, ci: ci, mi: mi, scope: make(map[string]string)}
			for _, p := range mi.params {
				w.scope[p.name] = p.typ
			}
			switch {
			case mi.decl.Sig.IsConstructor():
				for _, n := range ci.instanceInits {
					w.walk(n)
				}
			case mi.decl.Sig.IsStaticInitializer():
				for _, n := range ci.staticInits {
					w.walk(n)
				}
			}
			if mi.body != nil {
				w.walk(mi.body)
			}
		}
	}
	return nil
}

// bodyWalker records the calls of one method. Local scoping is flat: a
// name declared anywhere in the body is visible to every later statement.
type bodyWalker struct {
	u     *universe
	ci    *classInfo
	mi    *methodInfo
	scope map[string]string
}

func (w *bodyWalker) text(n *sitter.Node) string { return w.ci.file.text(n) }

func (w *bodyWalker) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		return
	case "local_variable_declaration":
		w.declareLocals(n)
	case "enhanced_for_statement":
		name := w.text(n.ChildByFieldName("name"))
		typeNode := n.ChildByFieldName("type")
		typ := w.u.resolveType(w.ci, w.mi.typeParams, typeNode)
		if w.text(typeNode) == "var" {
			typ = strings.TrimSuffix(w.exprType(n.ChildByFieldName("value")).typ, "[]")
		}
		w.scope[name] = typ
	case "method_invocation":
		w.invocation(n)
	case "object_creation_expression":
		w.creation(n)
	case "explicit_constructor_invocation":
		w.explicitConstructor(n)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i))
	}
}

func (w *bodyWalker) declareLocals(n *sitter.Node) {
	typeNode := n.ChildByFieldName("type")
	declared := w.u.resolveType(w.ci, w.mi.typeParams, typeNode)
	inferred := w.text(typeNode) == "var"
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		typ := declared + dims(w.ci.file, d.ChildByFieldName("dimensions"))
		if inferred {
			typ = w.exprType(d.ChildByFieldName("value")).typ
		}
		w.scope[w.text(d.ChildByFieldName("name"))] = typ
	}
}

func (w *bodyWalker) record(target sig.Method, kind program.CallKind) {
	w.mi.decl.Calls = append(w.mi.decl.Calls, program.CallSite{Target: target, Kind: kind})
	w.u.stats.CallSites++
}

func (w *bodyWalker) unresolved(n *sitter.Node, what string) {
	w.u.stats.Unresolved++
	w.u.logger.Debug("unresolved "+what,
		slog.String("method", w.mi.decl.Sig.String()),
		slog.String("expr", w.text(n)),
		slog.Int("line", int(n.StartPoint().Row)+1))
}

func (w *bodyWalker) invocation(n *sitter.Node) {
	call, ok := w.resolveInvocation(n)
	if !ok {
		w.unresolved(n, "call")
		return
	}
	w.record(call.target, call.kind)
}

func (w *bodyWalker) creation(n *sitter.Node) {
	typ := w.u.resolveType(w.ci, w.mi.typeParams, n.ChildByFieldName("type"))
	if hasChild(n, "class_body") {
		// Anonymous class; its body is walked as part of this method.
		return
	}
	w.instantiate(sig.Class(typ))
	ctor, ok := w.u.findMethod(sig.Class(typ), sig.ConstructorName, w.argTypes(n.ChildByFieldName("arguments")), false)
	if !ok {
		w.unresolved(n, "constructor")
		return
	}
	w.record(ctor.Sig, program.CallSpecial)
}

func (w *bodyWalker) explicitConstructor(n *sitter.Node) {
	target := w.ci.name
	if c := n.ChildByFieldName("constructor"); c != nil && c.Type() == "super" {
		target = w.ci.decl.Super
	}
	if target == "" {
		return
	}
	ctor, ok := w.u.findMethod(target, sig.ConstructorName, w.argTypes(n.ChildByFieldName("arguments")), false)
	if !ok {
		w.unresolved(n, "constructor")
		return
	}
	w.record(ctor.Sig, program.CallSpecial)
}

func (w *bodyWalker) instantiate(c sig.Class) {
	if c == "" || primitives[string(c)] {
		return
	}
	for _, seen := range w.mi.decl.Instantiates {
		if seen == c {
			return
		}
	}
	w.mi.decl.Instantiates = append(w.mi.decl.Instantiates, c)
}

// resolvedCall is a call site with its binding.
type resolvedCall struct {
	decl   *program.Method
	target sig.Method
	kind   program.CallKind
}

func (w *bodyWalker) resolveInvocation(n *sitter.Node) (resolvedCall, bool) {
	name := w.text(n.ChildByFieldName("name"))
	args := w.argTypes(n.ChildByFieldName("arguments"))
	obj := n.ChildByFieldName("object")

	if obj == nil {
		for c := w.ci; c != nil; c = c.outer {
			if decl, ok := w.u.findMethod(c.name, name, args, true); ok {
				return w.bind(decl, c.name, false), true
			}
		}
		f := w.ci.file
		if cls, ok := f.staticImports[name]; ok {
			if decl, ok := w.u.findMethod(sig.Class(w.u.canonical(cls)), name, args, true); ok {
				return w.bind(decl, decl.Sig.Class(), false), true
			}
		}
		for _, cls := range f.staticWildcards {
			if decl, ok := w.u.findMethod(sig.Class(w.u.canonical(cls)), name, args, true); ok && decl.Static {
				return w.bind(decl, decl.Sig.Class(), false), true
			}
		}
		return resolvedCall{}, false
	}

	if obj.Type() == "super" {
		recv := w.ci.decl.Super
		decl, ok := w.u.findMethod(recv, name, args, true)
		if !ok {
			return resolvedCall{}, false
		}
		return w.bind(decl, recv, true), true
	}

	recv := w.exprType(obj).typ
	if recv == "" || primitives[recv] || strings.HasSuffix(recv, "[]") {
		return resolvedCall{}, false
	}
	decl, ok := w.u.findMethod(sig.Class(recv), name, args, true)
	if !ok {
		return resolvedCall{}, false
	}
	return w.bind(decl, sig.Class(recv), false), true
}

// bind picks the call kind and the declared target for a resolved
// declaration invoked on recv.
func (w *bodyWalker) bind(decl *program.Method, recv sig.Class, super bool) resolvedCall {
	switch {
	case decl.Static:
		return resolvedCall{decl: decl, target: decl.Sig, kind: program.CallStatic}
	case super:
		return resolvedCall{decl: decl, target: decl.Sig, kind: program.CallSpecial}
	case w.u.isInterface(recv):
		return resolvedCall{decl: decl, target: decl.Sig.WithClass(recv), kind: program.CallInterface}
	}
	return resolvedCall{decl: decl, target: decl.Sig.WithClass(recv), kind: program.CallVirtual}
}

func (w *bodyWalker) argTypes(list *sitter.Node) []string {
	if list == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		a := list.NamedChild(i)
		if strings.HasSuffix(a.Type(), "comment") {
			continue
		}
		out = append(out, w.exprType(a).typ)
	}
	return out
}

// exprResult is the static type of an expression. typeRef is set when the
// expression names a class rather than a value, as in Runtime.getRuntime().
type exprResult struct {
	typ     string
	typeRef bool
}

func (w *bodyWalker) exprType(n *sitter.Node) exprResult {
	if n == nil {
		return exprResult{}
	}
	u := w.u
	switch n.Type() {
	case "identifier":
		name := w.text(n)
		if t, ok := w.scope[name]; ok {
			return exprResult{typ: t}
		}
		if t, ok := u.fieldType(w.ci, name); ok {
			return exprResult{typ: t}
		}
		if c := u.resolveName(w.ci, w.mi.typeParams, name); u.known(c) {
			return exprResult{typ: c, typeRef: true}
		}
	case "this":
		return exprResult{typ: string(w.ci.name)}
	case "super":
		return exprResult{typ: string(w.ci.decl.Super)}
	case "field_access":
		obj := n.ChildByFieldName("object")
		field := w.text(n.ChildByFieldName("field"))
		ot := w.exprType(obj)
		if owner, ok := u.index[sig.Class(ot.typ)]; ok {
			if t, ok := u.fieldType(owner, field); ok {
				return exprResult{typ: t}
			}
		}
		if ot.typeRef {
			if nested := ot.typ + "$" + field; u.known(nested) {
				return exprResult{typ: nested, typeRef: true}
			}
		}
		if c := u.canonical(eraseGenerics(w.text(n))); u.known(c) {
			return exprResult{typ: c, typeRef: true}
		}
	case "scoped_identifier":
		if c := u.canonical(w.text(n)); u.known(c) {
			return exprResult{typ: c, typeRef: true}
		}
	case "method_invocation":
		if call, ok := w.resolveInvocation(n); ok {
			return exprResult{typ: call.decl.Sig.Return()}
		}
	case "object_creation_expression", "cast_expression":
		return exprResult{typ: u.resolveType(w.ci, w.mi.typeParams, n.ChildByFieldName("type"))}
	case "array_creation_expression":
		t := u.resolveType(w.ci, w.mi.typeParams, n.ChildByFieldName("type"))
		depth := 0
		for i := 0; i < int(n.NamedChildCount()); i++ {
			switch c := n.NamedChild(i); c.Type() {
			case "dimensions_expr":
				depth++
			case "dimensions":
				depth += strings.Count(w.text(c), "[")
			}
		}
		return exprResult{typ: t + strings.Repeat("[]", depth)}
	case "array_access":
		return exprResult{typ: strings.TrimSuffix(w.exprType(n.ChildByFieldName("array")).typ, "[]")}
	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return w.exprType(n.NamedChild(0))
		}
	case "ternary_expression":
		return w.exprType(n.ChildByFieldName("consequence"))
	case "assignment_expression":
		return w.exprType(n.ChildByFieldName("left"))
	case "string_literal", "text_block":
		return exprResult{typ: "java.lang.String"}
	case "class_literal":
		return exprResult{typ: "java.lang.Class"}
	case "character_literal":
		return exprResult{typ: "char"}
	case "true", "false":
		return exprResult{typ: "boolean"}
	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal", "binary_integer_literal":
		if strings.HasSuffix(strings.ToLower(w.text(n)), "l") {
			return exprResult{typ: "long"}
		}
		return exprResult{typ: "int"}
	case "decimal_floating_point_literal", "hex_floating_point_literal":
		if strings.HasSuffix(strings.ToLower(w.text(n)), "f") {
			return exprResult{typ: "float"}
		}
		return exprResult{typ: "double"}
	}
	return exprResult{}
}

// findMethod looks for a method named name on cls and its supertypes,
// breadth first, preferring the candidate whose parameter types best match
// args. When inherited is false only cls itself is searched, as for
// constructors.
func (u *universe) findMethod(cls sig.Class, name string, args []string, inherited bool) (*program.Method, bool) {
	var best *program.Method
	bestScore := -1
	seen := make(map[sig.Class]bool)
	queue := []sig.Class{cls}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		decl, ok := u.model.Class(c)
		if !ok {
			continue
		}
		for _, m := range decl.Methods() {
			if m.Sig.Name() != name {
				continue
			}
			params := m.Sig.Params()
			if !arityMatches(params, len(args)) {
				continue
			}
			if score := u.matchScore(params, args); score > bestScore {
				best, bestScore = m, score
			}
		}
		if !inherited {
			break
		}
		if decl.Super != "" {
			queue = append(queue, decl.Super)
		}
		queue = append(queue, decl.Interfaces...)
	}
	return best, best != nil
}

// arityMatches accepts an exact count, or any count when the last
// parameter is an array that may be a varargs parameter.
func arityMatches(params []string, n int) bool {
	if len(params) == n {
		return true
	}
	return len(params) > 0 && strings.HasSuffix(params[len(params)-1], "[]") && n >= len(params)-1
}

func (u *universe) matchScore(params, args []string) int {
	score := 0
	if len(params) == len(args) {
		score++
	}
	for i, a := range args {
		if i >= len(params) || a == "" {
			continue
		}
		switch {
		case a == params[i]:
			score += 2
		case u.isSubtype(a, params[i]):
			score++
		}
	}
	return score
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if n.NamedChild(i).Type() == typ {
			return true
		}
	}
	return false
}
