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
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	sitter "github.com/smacker/go-tree-sitter"
)

// javaLang lists java.lang types resolvable without an import even when
// the library does not declare them.
var javaLang = map[string]bool{
	"AutoCloseable": true, "Boolean": true, "Byte": true, "Character": true,
	"CharSequence": true, "Class": true, "ClassLoader": true, "Cloneable": true,
	"Comparable": true, "Double": true, "Enum": true, "Error": true,
	"Exception": true, "Float": true, "IllegalArgumentException": true,
	"IllegalStateException": true, "Integer": true, "Iterable": true,
	"Long": true, "Math": true, "NullPointerException": true, "Number": true,
	"Object": true, "Process": true, "ProcessBuilder": true, "Record": true,
	"Runnable": true, "Runtime": true, "RuntimeException": true, "Short": true,
	"String": true, "StringBuffer": true, "StringBuilder": true, "System": true,
	"Thread": true, "Throwable": true, "UnsupportedOperationException": true,
	"Void": true,
}

var primitives = map[string]bool{
	"boolean": true, "byte": true, "char": true, "short": true,
	"int": true, "long": true, "float": true, "double": true, "void": true,
}

// resolveType returns the erased, fully qualified name of a type node.
func (u *universe) resolveType(ci *classInfo, typeParams map[string]bool, n *sitter.Node) string {
	if n == nil {
		return "void"
	}
	f := ci.file
	switch n.Type() {
	case "integral_type", "floating_point_type", "boolean_type", "void_type":
		return f.text(n)
	case "array_type":
		return u.resolveType(ci, typeParams, n.ChildByFieldName("element")) + dims(f, n.ChildByFieldName("dimensions"))
	case "generic_type":
		if n.NamedChildCount() > 0 {
			return u.resolveType(ci, typeParams, n.NamedChild(0))
		}
	case "type_identifier", "identifier":
		return u.resolveName(ci, typeParams, f.text(n))
	case "scoped_type_identifier", "scoped_identifier":
		return u.resolveQualified(ci, typeParams, eraseGenerics(f.text(n)))
	case "annotated_type":
		if c := int(n.NamedChildCount()); c > 0 {
			return u.resolveType(ci, typeParams, n.NamedChild(c-1))
		}
	}
	return eraseGenerics(f.text(n))
}

// resolveName resolves a simple type name as seen from inside ci.
func (u *universe) resolveName(ci *classInfo, typeParams map[string]bool, name string) string {
	if primitives[name] {
		return name
	}
	if typeParams[name] {
		return objectClass
	}
	for c := ci; c != nil; c = c.outer {
		if c.typeParams[name] {
			return objectClass
		}
	}
	for c := ci; c != nil; c = c.outer {
		if c.simple == name {
			return string(c.name)
		}
		if nested := string(c.name) + "$" + name; u.known(nested) {
			return nested
		}
	}
	return u.resolveInFile(ci.file, name)
}

func (u *universe) resolveInFile(f *sourceFile, name string) string {
	if q, ok := f.imports[name]; ok {
		return u.canonical(q)
	}
	if cand := qualify(f.pkg, name); u.known(cand) {
		return cand
	}
	for _, w := range f.wildcards {
		if cand := u.canonical(w + "." + name); u.known(cand) {
			return cand
		}
	}
	if cand := "java.lang." + name; u.known(cand) || javaLang[name] {
		return cand
	}
	return qualify(f.pkg, name)
}

// resolveQualified resolves a dotted type name such as Map.Entry or
// com.acme.Server.
func (u *universe) resolveQualified(ci *classInfo, typeParams map[string]bool, text string) string {
	head, rest, ok := strings.Cut(text, ".")
	if !ok {
		return u.resolveName(ci, typeParams, text)
	}
	if h := u.resolveName(ci, typeParams, head); u.known(h) {
		return h + "$" + strings.ReplaceAll(rest, ".", "$")
	}
	return u.canonical(text)
}

// canonical maps a source-level qualified name to its binary name by
// turning trailing segments into nested-class segments until a known class
// is found. Unknown names are returned unchanged.
func (u *universe) canonical(q string) string {
	if u.known(q) {
		return q
	}
	parts := strings.Split(q, ".")
	for i := len(parts) - 1; i >= 1; i-- {
		cand := strings.Join(parts[:i], ".") + "$" + strings.Join(parts[i:], "$")
		if u.known(cand) {
			return cand
		}
	}
	return q
}

// fieldType looks a field up on ci, its source superclasses, and its
// enclosing classes.
func (u *universe) fieldType(ci *classInfo, name string) (string, bool) {
	for c := ci; c != nil; c = c.outer {
		seen := make(map[sig.Class]bool)
		for cur := c; cur != nil && !seen[cur.name]; {
			seen[cur.name] = true
			if t, ok := cur.fields[name]; ok {
				return t, true
			}
			if cur.decl == nil {
				break
			}
			cur = u.index[cur.decl.Super]
		}
	}
	return "", false
}

// isSubtype reports whether a is b or reaches b through superclasses and
// interfaces in the model.
func (u *universe) isSubtype(a, b string) bool {
	if a == b {
		return true
	}
	seen := make(map[sig.Class]bool)
	queue := []sig.Class{sig.Class(a)}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		if string(c) == b {
			return true
		}
		decl, ok := u.model.Class(c)
		if !ok {
			continue
		}
		if decl.Super != "" {
			queue = append(queue, decl.Super)
		}
		queue = append(queue, decl.Interfaces...)
	}
	return b == objectClass && !primitives[a] && !strings.HasSuffix(a, "[]")
}

func (u *universe) isInterface(c sig.Class) bool {
	decl, ok := u.model.Class(c)
	return ok && decl.Interface
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// eraseGenerics removes type arguments and whitespace from a type string.
func eraseGenerics(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth > 0, r == ' ', r == '\t', r == '\n', r == '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
