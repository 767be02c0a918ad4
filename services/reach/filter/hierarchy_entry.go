// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// rootKind selects which classes a hierarchy entry may be rooted at.
type rootKind int

const (
	interfaceRoots rootKind = iota
	superclassRoots
)

func (k rootKind) String() string {
	if k == interfaceRoots {
		return "interface"
	}
	return "superclass"
}

// hierarchyEntry is the shared implementation of InterfaceHierarchy and
// SuperclassHierarchy.
//
// The resolved method set is computed on first use for a given hierarchy
// snapshot and held until a query arrives with a different snapshot ID, at
// which point it is discarded and recomputed.
type hierarchyEntry struct {
	kind               rootKind
	pattern            string
	exact              bool
	allSubclassMethods bool
	deny               bool
	m                  matcher

	mu         sync.Mutex
	snapshotID string
	resolved   map[sig.Method]struct{}
}

func newHierarchyEntry(kind rootKind, pattern string, exact, allSubclassMethods, deny bool) (*hierarchyEntry, error) {
	e := &hierarchyEntry{
		kind:               kind,
		pattern:            pattern,
		exact:              exact,
		allSubclassMethods: allSubclassMethods,
		deny:               deny,
	}
	if !exact {
		m, err := compilePattern(pattern, SyntaxRegex)
		if err != nil {
			return nil, err
		}
		e.m = m
	}
	return e, nil
}

func (e *hierarchyEntry) matches(m sig.Method, view hierarchy.View) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh(view)
	_, ok := e.resolved[m]
	return ok
}

// refresh recomputes the resolved set if view is a different snapshot.
// Caller holds e.mu.
func (e *hierarchyEntry) refresh(view hierarchy.View) {
	id := view.SnapshotID()
	if e.resolved != nil && e.snapshotID == id {
		return
	}
	resolved := make(map[sig.Method]struct{})
	for _, root := range e.roots(view) {
		for _, m := range view.MethodsOverridingOrImplementing(root, e.allSubclassMethods) {
			resolved[m] = struct{}{}
		}
	}
	e.snapshotID = id
	e.resolved = resolved
	recordEntryResolution(e.kind.String(), len(resolved))
}

// accepts reports whether c is a valid root of e's kind.
func (e *hierarchyEntry) accepts(view hierarchy.View, c sig.Class) bool {
	if !view.Contains(c) {
		return false
	}
	return view.IsInterface(c) == (e.kind == interfaceRoots)
}

// roots lists the classes e is rooted at in view.
//
// An exact interface root only has to be in the hierarchy: naming a class
// there resolves that class's subclass methods. Pattern roots and exact
// superclass roots must also be of the entry's kind.
func (e *hierarchyEntry) roots(view hierarchy.View) []sig.Class {
	if e.exact {
		c := sig.Class(e.pattern)
		if (e.kind == interfaceRoots && view.Contains(c)) || e.accepts(view, c) {
			return []sig.Class{c}
		}
		return nil
	}
	var roots []sig.Class
	for _, c := range view.Classes() {
		if e.accepts(view, c) && e.m.Match(string(c)) {
			roots = append(roots, c)
		}
	}
	return roots
}

func (e *hierarchyEntry) resolvedFor(view hierarchy.View) []sig.Method {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh(view)
	return sig.SortedSet(e.resolved)
}

func (e *hierarchyEntry) describe() string {
	mode := "pattern"
	if e.exact {
		mode = "exact"
	}
	scope := "overriding methods"
	if e.allSubclassMethods {
		scope = "all methods"
	}
	return fmt.Sprintf("%s %s of %s %s %q", action(e.deny), scope, e.kind, mode, e.pattern)
}

// InterfaceHierarchy matches methods of classes implementing an interface.
//
// Description:
//
//	The entry is rooted at one named type (exact) or at every interface
//	whose name fully matches the pattern. Roots the hierarchy does not
//	contain are ignored, as are pattern matches that are not interfaces. An
//	exact root that names a class resolves through its subclasses. The
//	matched set is the
//	union of MethodsOverridingOrImplementing over the roots: methods whose
//	erased signature matches one declared on the root, or every method of
//	every implementer when AllSubclassMethods is set.
//
// Thread Safety: Safe for concurrent use.
type InterfaceHierarchy struct {
	e *hierarchyEntry
}

// NewInterfaceHierarchy creates an InterfaceHierarchy entry. When exact is
// false, pattern is compiled as a whole-string regular expression.
func NewInterfaceHierarchy(pattern string, exact, allSubclassMethods, deny bool) (*InterfaceHierarchy, error) {
	e, err := newHierarchyEntry(interfaceRoots, pattern, exact, allSubclassMethods, deny)
	if err != nil {
		return nil, err
	}
	return &InterfaceHierarchy{e: e}, nil
}

// Matches implements Entry.
func (h *InterfaceHierarchy) Matches(m sig.Method, view hierarchy.View) bool {
	return h.e.matches(m, view)
}

// Denies implements Entry.
func (h *InterfaceHierarchy) Denies() bool { return h.e.deny }

// Describe implements Entry.
func (h *InterfaceHierarchy) Describe() string { return h.e.describe() }

// Resolved returns the matched method set for view, sorted. It shares the
// entry's cache with Matches.
func (h *InterfaceHierarchy) Resolved(view hierarchy.View) []sig.Method {
	return h.e.resolvedFor(view)
}

// SuperclassHierarchy matches methods of a class and its subclasses.
//
// Same shape as InterfaceHierarchy, rooted at non-interface classes.
//
// Thread Safety: Safe for concurrent use.
type SuperclassHierarchy struct {
	e *hierarchyEntry
}

// NewSuperclassHierarchy creates a SuperclassHierarchy entry.
func NewSuperclassHierarchy(pattern string, exact, allSubclassMethods, deny bool) (*SuperclassHierarchy, error) {
	e, err := newHierarchyEntry(superclassRoots, pattern, exact, allSubclassMethods, deny)
	if err != nil {
		return nil, err
	}
	return &SuperclassHierarchy{e: e}, nil
}

// Matches implements Entry.
func (h *SuperclassHierarchy) Matches(m sig.Method, view hierarchy.View) bool {
	return h.e.matches(m, view)
}

// Denies implements Entry.
func (h *SuperclassHierarchy) Denies() bool { return h.e.deny }

// Describe implements Entry.
func (h *SuperclassHierarchy) Describe() string { return h.e.describe() }

// Resolved returns the matched method set for view, sorted.
func (h *SuperclassHierarchy) Resolved(view hierarchy.View) []sig.Method {
	return h.e.resolvedFor(view)
}
