// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hierarchy answers subtype, implementer, and override queries over
// a fixed universe of classes.
//
// A View is an immutable snapshot. Consumers that cache query results key
// them by SnapshotID and drop them when the ID changes; two snapshots are
// never compared structurally.
package hierarchy

import (
	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/google/uuid"
)

// View is the read-only type hierarchy contract used by filters and builders.
//
// Thread Safety: Implementations must be safe for concurrent use.
type View interface {
	// SnapshotID identifies this snapshot. Equal IDs mean equal universes.
	SnapshotID() string

	// Contains reports whether the class is part of the universe.
	Contains(c sig.Class) bool

	// IsInterface reports whether c is a known interface.
	IsInterface(c sig.Class) bool

	// Classes returns every class and interface, sorted by name.
	Classes() []sig.Class

	// AllSubclasses returns c and its transitive subclasses. An interface or
	// unknown class yields an empty slice.
	AllSubclasses(c sig.Class) []sig.Class

	// AllImplementersOrSubclasses returns the concrete (non-interface)
	// classes below c: implementers for an interface, subclasses including
	// c itself for a class.
	AllImplementersOrSubclasses(c sig.Class) []sig.Class

	// MethodsOverridingOrImplementing resolves the methods that a hierarchy
	// filter rooted at c covers. See Snapshot for the exact rules.
	MethodsOverridingOrImplementing(c sig.Class, includeAllSubclassMethods bool) []sig.Method

	// OverridesOf returns the concrete methods below m's declaring class
	// whose erased signature matches m.
	OverridesOf(m sig.Method) []sig.Method
}

// Snapshot is the View implementation backed by a program.Model.
//
// Description:
//
//	Direct subtype edges are indexed once at construction. Transitive
//	queries walk that index on demand; results are sorted so callers see a
//	deterministic order. The model must not be mutated while a Snapshot
//	over it is in use.
//
// Thread Safety: Safe for concurrent use. All state is read-only after New.
type Snapshot struct {
	id    string
	model *program.Model

	// subclasses maps a class to the classes naming it as Super.
	subclasses map[sig.Class][]sig.Class

	// implementers maps an interface to the classes and interfaces that
	// list it in Interfaces.
	implementers map[sig.Class][]sig.Class
}

// New indexes a model into a fresh snapshot with a new SnapshotID.
//
// Inputs:
//
//	m - The program model. Should be sealed.
//
// Outputs:
//
//	*Snapshot - The snapshot. Never nil.
func New(m *program.Model) *Snapshot {
	s := &Snapshot{
		id:           uuid.NewString(),
		model:        m,
		subclasses:   make(map[sig.Class][]sig.Class),
		implementers: make(map[sig.Class][]sig.Class),
	}
	for _, name := range m.ClassNames() {
		c, _ := m.Class(name)
		if c.Super != "" {
			s.subclasses[c.Super] = append(s.subclasses[c.Super], name)
		}
		for _, iface := range c.Interfaces {
			s.implementers[iface] = append(s.implementers[iface], name)
		}
	}
	return s
}

// Extend returns a new snapshot over a model containing every class of the
// receiver's model plus extra. The receiver is unchanged.
//
// Outputs:
//
//	*Snapshot - The new snapshot, with its own SnapshotID.
//	error - Non-nil if an extra class collides with an existing one.
func (s *Snapshot) Extend(extra ...*program.Class) (*Snapshot, error) {
	m := program.NewModel()
	if err := m.Merge(s.model); err != nil {
		return nil, err
	}
	for _, c := range extra {
		if err := m.AddClass(c); err != nil {
			return nil, err
		}
	}
	m.Seal()
	return New(m), nil
}

// Model returns the underlying program model.
func (s *Snapshot) Model() *program.Model { return s.model }

// SnapshotID implements View.
func (s *Snapshot) SnapshotID() string { return s.id }

// Contains implements View.
func (s *Snapshot) Contains(c sig.Class) bool {
	_, ok := s.model.Class(c)
	return ok
}

// IsInterface implements View.
func (s *Snapshot) IsInterface(c sig.Class) bool {
	decl, ok := s.model.Class(c)
	return ok && decl.Interface
}

// Classes implements View.
func (s *Snapshot) Classes() []sig.Class {
	return s.model.ClassNames()
}

// AllSubclasses implements View.
func (s *Snapshot) AllSubclasses(c sig.Class) []sig.Class {
	if !s.Contains(c) || s.IsInterface(c) {
		return []sig.Class{}
	}
	seen := map[sig.Class]bool{c: true}
	out := []sig.Class{c}
	queue := []sig.Class{c}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sub := range s.subclasses[cur] {
			if seen[sub] {
				continue
			}
			seen[sub] = true
			out = append(out, sub)
			queue = append(queue, sub)
		}
	}
	sig.SortClasses(out)
	return out
}

// AllImplementersOrSubclasses implements View.
//
// For an interface the walk follows both implementer edges (classes and
// sub-interfaces listing it) and subclass edges below every implementing
// class, then keeps only non-interfaces.
func (s *Snapshot) AllImplementersOrSubclasses(c sig.Class) []sig.Class {
	if !s.Contains(c) {
		return []sig.Class{}
	}
	if !s.IsInterface(c) {
		return s.AllSubclasses(c)
	}

	seen := map[sig.Class]bool{c: true}
	queue := []sig.Class{c}
	var out []sig.Class
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := append([]sig.Class{}, s.implementers[cur]...)
		if !s.IsInterface(cur) {
			next = append(next, s.subclasses[cur]...)
		}
		for _, n := range next {
			if seen[n] {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
			if s.Contains(n) && !s.IsInterface(n) {
				out = append(out, n)
			}
		}
	}
	if out == nil {
		return []sig.Class{}
	}
	sig.SortClasses(out)
	return out
}

// MethodsOverridingOrImplementing implements View.
//
// Description:
//
//	The class set is AllImplementersOrSubclasses(c). When
//	includeAllSubclassMethods is false, the result is every method of that
//	set which is not abstract, not a constructor or static initializer, and
//	whose erased signature matches a method declared on c itself. When true,
//	the result is every method declared anywhere in the set.
//
// Outputs:
//
//	[]sig.Method - Sorted, duplicate-free. Empty for an unknown class.
func (s *Snapshot) MethodsOverridingOrImplementing(c sig.Class, includeAllSubclassMethods bool) []sig.Method {
	root, ok := s.model.Class(c)
	if !ok {
		return []sig.Method{}
	}

	subSigs := make(map[string]bool)
	for _, decl := range root.Methods() {
		subSigs[decl.Sig.SubSignature()] = true
	}

	set := make(map[sig.Method]struct{})
	for _, cls := range s.AllImplementersOrSubclasses(c) {
		decl, ok := s.model.Class(cls)
		if !ok {
			continue
		}
		for _, m := range decl.Methods() {
			if includeAllSubclassMethods {
				set[m.Sig] = struct{}{}
				continue
			}
			if m.Abstract || m.Sig.IsConstructor() || m.Sig.IsStaticInitializer() {
				continue
			}
			if subSigs[m.Sig.SubSignature()] {
				set[m.Sig] = struct{}{}
			}
		}
	}
	return sig.SortedSet(set)
}

// OverridesOf implements View.
//
// A constructor or static initializer has no overrides and yields itself.
func (s *Snapshot) OverridesOf(m sig.Method) []sig.Method {
	if m.IsConstructor() || m.IsStaticInitializer() {
		return []sig.Method{m}
	}
	subSig := m.SubSignature()
	set := make(map[sig.Method]struct{})
	for _, cls := range s.AllImplementersOrSubclasses(m.Class()) {
		decl, ok := s.model.Class(cls)
		if !ok {
			continue
		}
		for _, candidate := range decl.Methods() {
			if !candidate.Abstract && candidate.Sig.SubSignature() == subSig {
				set[candidate.Sig] = struct{}{}
			}
		}
	}
	return sig.SortedSet(set)
}

var _ View = (*Snapshot)(nil)
