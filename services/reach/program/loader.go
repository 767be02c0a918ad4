// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package program

import (
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a Model. JSON documents parse as well,
// since YAML is a superset.
type Document struct {
	Classes []ClassDoc `yaml:"classes" json:"classes"`
}

// ClassDoc is the on-disk form of a Class.
type ClassDoc struct {
	Name       string      `yaml:"name" json:"name"`
	Interface  bool        `yaml:"interface,omitempty" json:"interface,omitempty"`
	Abstract   bool        `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Super      string      `yaml:"super,omitempty" json:"super,omitempty"`
	Interfaces []string    `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	Methods    []MethodDoc `yaml:"methods,omitempty" json:"methods,omitempty"`
}

// MethodDoc is the on-disk form of a Method.
type MethodDoc struct {
	Name         string    `yaml:"name" json:"name"`
	Return       string    `yaml:"return,omitempty" json:"return,omitempty"`
	Params       []string  `yaml:"params,omitempty" json:"params,omitempty"`
	Abstract     bool      `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Static       bool      `yaml:"static,omitempty" json:"static,omitempty"`
	Calls        []CallDoc `yaml:"calls,omitempty" json:"calls,omitempty"`
	Instantiates []string  `yaml:"instantiates,omitempty" json:"instantiates,omitempty"`
}

// CallDoc is the on-disk form of a CallSite.
type CallDoc struct {
	Target string `yaml:"target" json:"target"`
	Kind   string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// LoadFile reads a model document from path and returns a sealed Model.
//
// Outputs:
//
//	*Model - The sealed model.
//	error - Non-nil if the file cannot be read or the document is invalid.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing model %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML or JSON model document and returns a sealed Model.
func Parse(data []byte) (*Model, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	m, err := doc.Model()
	if err != nil {
		return nil, err
	}
	m.Seal()
	return m, nil
}

// Model converts the document into an unsealed Model.
func (d *Document) Model() (*Model, error) {
	m := NewModel()
	for i, cd := range d.Classes {
		if cd.Name == "" {
			return nil, fmt.Errorf("%w: classes[%d]: name is required", ErrInvalidModel, i)
		}
		c := NewClass(sig.Class(cd.Name), cd.Interface)
		c.Abstract = cd.Abstract || cd.Interface
		c.Super = sig.Class(cd.Super)
		for _, iface := range cd.Interfaces {
			c.Interfaces = append(c.Interfaces, sig.Class(iface))
		}

		for j, md := range cd.Methods {
			decl, err := md.method(c.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: classes[%d].methods[%d]: %v", ErrInvalidModel, i, j, err)
			}
			if err := c.AddMethod(decl); err != nil {
				return nil, fmt.Errorf("classes[%d]: %w", i, err)
			}
		}

		if err := m.AddClass(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (md MethodDoc) method(owner sig.Class) (*Method, error) {
	if md.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	ret := md.Return
	if ret == "" {
		ret = "void"
	}
	decl := &Method{
		Sig:      sig.NewMethod(owner, ret, md.Name, md.Params...),
		Abstract: md.Abstract,
		Static:   md.Static,
	}
	for k, call := range md.Calls {
		target, err := sig.ParseMethod(call.Target)
		if err != nil {
			return nil, fmt.Errorf("calls[%d]: %w", k, err)
		}
		kind, err := ParseCallKind(call.Kind)
		if err != nil {
			return nil, fmt.Errorf("calls[%d]: %w", k, err)
		}
		decl.Calls = append(decl.Calls, CallSite{Target: target, Kind: kind})
	}
	for _, cls := range md.Instantiates {
		decl.Instantiates = append(decl.Instantiates, sig.Class(cls))
	}
	return decl, nil
}

// ToDocument converts a model to its on-disk form, classes sorted by name
// and methods in declaration order.
func ToDocument(m *Model) *Document {
	doc := &Document{Classes: make([]ClassDoc, 0, m.ClassCount())}
	for _, name := range m.ClassNames() {
		c, _ := m.Class(name)
		cd := ClassDoc{
			Name:      string(c.Name),
			Interface: c.Interface,
			Abstract:  c.Abstract && !c.Interface,
			Super:     string(c.Super),
		}
		for _, iface := range c.Interfaces {
			cd.Interfaces = append(cd.Interfaces, string(iface))
		}
		for _, decl := range c.Methods() {
			md := MethodDoc{
				Name:     decl.Sig.Name(),
				Return:   decl.Sig.Return(),
				Params:   decl.Sig.Params(),
				Abstract: decl.Abstract,
				Static:   decl.Static,
			}
			if len(md.Params) == 0 {
				md.Params = nil
			}
			for _, call := range decl.Calls {
				md.Calls = append(md.Calls, CallDoc{Target: call.Target.String(), Kind: call.Kind.String()})
			}
			for _, cls := range decl.Instantiates {
				md.Instantiates = append(md.Instantiates, string(cls))
			}
			cd.Methods = append(cd.Methods, md)
		}
		doc.Classes = append(doc.Classes, cd)
	}
	return doc
}

// Encode writes m as a YAML model document.
func Encode(w io.Writer, m *Model) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(ToDocument(m)); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	return enc.Close()
}
