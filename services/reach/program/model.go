// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package program holds the whole-program model that call-graph construction
// and hierarchy queries run against: classes, their supertypes, declared
// methods, call sites, and allocation sites.
//
// A Model is produced by a frontend (a model file, Java sources, or Go
// packages) and is treated as read-only once Seal has been called.
package program

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// Sentinel errors for model construction and lookup.
var (
	// ErrDuplicateClass indicates two classes share a fully qualified name.
	ErrDuplicateClass = errors.New("duplicate class")

	// ErrDuplicateMethod indicates a class declares the same method twice.
	ErrDuplicateMethod = errors.New("duplicate method")

	// ErrSealed indicates a mutation was attempted on a sealed model.
	ErrSealed = errors.New("model is sealed")

	// ErrInvalidModel indicates a structurally invalid model document.
	ErrInvalidModel = errors.New("invalid program model")
)

// CallKind classifies how a call site dispatches.
type CallKind int

const (
	// CallStatic is a static call; the target is fixed.
	CallStatic CallKind = iota

	// CallSpecial is a non-virtual instance call (constructors, private
	// methods, super calls); the target is fixed.
	CallSpecial

	// CallVirtual dispatches on the receiver's runtime class.
	CallVirtual

	// CallInterface dispatches through an interface method.
	CallInterface
)

var callKindNames = map[CallKind]string{
	CallStatic:    "static",
	CallSpecial:   "special",
	CallVirtual:   "virtual",
	CallInterface: "interface",
}

// String returns the lower-case kind name used in model files.
func (k CallKind) String() string {
	if name, ok := callKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CallKind(%d)", int(k))
}

// IsDispatched reports whether the call resolves against the receiver type.
func (k CallKind) IsDispatched() bool {
	return k == CallVirtual || k == CallInterface
}

// ParseCallKind parses a kind name, case-insensitively.
func ParseCallKind(s string) (CallKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return CallStatic, nil
	case "special":
		return CallSpecial, nil
	case "", "virtual":
		return CallVirtual, nil
	case "interface":
		return CallInterface, nil
	}
	return 0, fmt.Errorf("%w: unknown call kind %q", ErrInvalidModel, s)
}

// CallSite is a call expression inside a method body.
type CallSite struct {
	// Target is the statically declared callee.
	Target sig.Method

	// Kind controls how Target is resolved.
	Kind CallKind
}

// Method is a method declaration.
type Method struct {
	Sig      sig.Method
	Abstract bool
	Static   bool

	// Calls lists call sites in source order.
	Calls []CallSite

	// Instantiates lists classes allocated by this method body.
	Instantiates []sig.Class
}

// Class is a class or interface declaration.
type Class struct {
	Name       sig.Class
	Interface  bool
	Abstract   bool
	Super      sig.Class
	Interfaces []sig.Class

	methods map[string]*Method
	order   []string
}

// NewClass creates an empty class declaration.
func NewClass(name sig.Class, isInterface bool) *Class {
	return &Class{
		Name:      name,
		Interface: isInterface,
		methods:   make(map[string]*Method),
	}
}

// AddMethod declares a method on the class.
//
// The method's declaring class is forced to c.Name. Declaring the same full
// signature twice fails with ErrDuplicateMethod.
func (c *Class) AddMethod(m *Method) error {
	m.Sig = m.Sig.WithClass(c.Name)
	key := m.Sig.String()
	if _, exists := c.methods[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, key)
	}
	if c.methods == nil {
		c.methods = make(map[string]*Method)
	}
	c.methods[key] = m
	c.order = append(c.order, key)
	return nil
}

// Methods returns the declared methods in declaration order.
func (c *Class) Methods() []*Method {
	out := make([]*Method, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.methods[key])
	}
	return out
}

// Method returns the declaration with exactly the given signature.
func (c *Class) Method(m sig.Method) (*Method, bool) {
	decl, ok := c.methods[m.WithClass(c.Name).String()]
	return decl, ok
}

// MethodBySubSignature returns the first declaration whose erased signature
// equals subSig.
func (c *Class) MethodBySubSignature(subSig string) (*Method, bool) {
	for _, key := range c.order {
		if decl := c.methods[key]; decl.Sig.SubSignature() == subSig {
			return decl, true
		}
	}
	return nil, false
}

// Model is a closed universe of classes.
//
// Thread Safety: Not safe for concurrent mutation. Safe for concurrent reads
// after Seal.
type Model struct {
	classes map[sig.Class]*Class
	sealed  bool
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{classes: make(map[sig.Class]*Class)}
}

// AddClass adds a class declaration.
func (m *Model) AddClass(c *Class) error {
	if m.sealed {
		return ErrSealed
	}
	if c == nil || c.Name == "" {
		return fmt.Errorf("%w: class name must not be empty", ErrInvalidModel)
	}
	if _, exists := m.classes[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}
	m.classes[c.Name] = c
	return nil
}

// Seal freezes the model. Further AddClass calls fail with ErrSealed.
func (m *Model) Seal() { m.sealed = true }

// Sealed reports whether Seal has been called.
func (m *Model) Sealed() bool { return m.sealed }

// Class looks up a class by name.
func (m *Model) Class(name sig.Class) (*Class, bool) {
	c, ok := m.classes[name]
	return c, ok
}

// ClassNames returns every class name in sorted order.
func (m *Model) ClassNames() []sig.Class {
	out := make([]sig.Class, 0, len(m.classes))
	for name := range m.classes {
		out = append(out, name)
	}
	sig.SortClasses(out)
	return out
}

// ClassCount returns the number of classes.
func (m *Model) ClassCount() int { return len(m.classes) }

// MethodCount returns the number of declared methods across all classes.
func (m *Model) MethodCount() int {
	n := 0
	for _, c := range m.classes {
		n += len(c.methods)
	}
	return n
}

// Method looks up a method declaration by exact signature.
func (m *Model) Method(ms sig.Method) (*Method, bool) {
	c, ok := m.classes[ms.Class()]
	if !ok {
		return nil, false
	}
	return c.Method(ms)
}

// HasMethod reports whether the exact signature is declared in the model.
func (m *Model) HasMethod(ms sig.Method) bool {
	_, ok := m.Method(ms)
	return ok
}

// SuperChain returns c followed by its superclasses, nearest first, stopping
// at the first class that is not part of the model.
func (m *Model) SuperChain(c sig.Class) []sig.Class {
	var chain []sig.Class
	seen := make(map[sig.Class]bool)
	for cur := c; cur != ""; {
		if seen[cur] {
			break
		}
		seen[cur] = true
		decl, ok := m.classes[cur]
		if !ok {
			break
		}
		chain = append(chain, cur)
		cur = decl.Super
	}
	return chain
}

// ResolveMethod finds the declaration that a call to target would bind to
// when dispatched on receiver: the first class in receiver's superclass
// chain declaring the same sub-signature.
//
// Outputs:
//
//	*Method - The resolved declaration, or nil.
//	bool - False if no class in the chain declares the sub-signature.
func (m *Model) ResolveMethod(receiver sig.Class, target sig.Method) (*Method, bool) {
	subSig := target.SubSignature()
	for _, cls := range m.SuperChain(receiver) {
		if decl, ok := m.classes[cls].MethodBySubSignature(subSig); ok {
			return decl, true
		}
	}
	return nil, false
}

// Stats summarizes a model for logs and reports.
type Stats struct {
	Classes    int `json:"classes"`
	Interfaces int `json:"interfaces"`
	Methods    int `json:"methods"`
	CallSites  int `json:"call_sites"`
}

// Stats computes model statistics.
func (m *Model) Stats() Stats {
	s := Stats{Classes: len(m.classes)}
	for _, c := range m.classes {
		if c.Interface {
			s.Interfaces++
		}
		for _, decl := range c.methods {
			s.Methods++
			s.CallSites += len(decl.Calls)
		}
	}
	return s
}

// Merge copies every class of other into m. Class name collisions fail.
func (m *Model) Merge(other *Model) error {
	names := make([]string, 0, len(other.classes))
	for name := range other.classes {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.AddClass(other.classes[sig.Class(name)]); err != nil {
			return err
		}
	}
	return nil
}

// WithLibrary returns a new sealed model holding every class of m plus the
// classes of library that m does not declare, and the number of library
// classes added. Neither input is modified.
func (m *Model) WithLibrary(library *Model) (*Model, int) {
	out := NewModel()
	for name, c := range m.classes {
		out.classes[name] = c
	}
	added := 0
	if library != nil {
		for name, c := range library.classes {
			if _, ok := out.classes[name]; ok {
				continue
			}
			out.classes[name] = c
			added++
		}
	}
	out.Seal()
	return out, added
}
