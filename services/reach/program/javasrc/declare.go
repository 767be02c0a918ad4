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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	sitter "github.com/smacker/go-tree-sitter"
)

const objectClass = "java.lang.Object"

type classKind int

const (
	kindClass classKind = iota
	kindInterface
	kindEnum
	kindRecord
)

var declarationKinds = map[string]classKind{
	"class_declaration":     kindClass,
	"interface_declaration": kindInterface,
	"enum_declaration":      kindEnum,
	"record_declaration":    kindRecord,
}

// sourceFile is one parsed compilation unit.
type sourceFile struct {
	path string
	src  []byte
	tree *sitter.Tree

	pkg       string
	imports   map[string]string // simple name -> qualified name
	wildcards []string          // packages imported with .*

	staticImports   map[string]string // member name -> qualified class
	staticWildcards []string          // classes imported with static .*
}

func (f *sourceFile) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(f.src)
}

func (f *sourceFile) readHeader() {
	root := f.tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_declaration":
			for j := 0; j < int(n.NamedChildCount()); j++ {
				c := n.NamedChild(j)
				if c.Type() == "identifier" || c.Type() == "scoped_identifier" {
					f.pkg = f.text(c)
				}
			}
		case "import_declaration":
			f.addImport(f.text(n))
		}
	}
}

func (f *sourceFile) addImport(decl string) {
	s := strings.TrimSpace(decl)
	s = strings.TrimPrefix(s, "import")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	static := false
	if rest, ok := strings.CutPrefix(s, "static"); ok && rest != "" && (rest[0] == ' ' || rest[0] == '\t') {
		static = true
		s = rest
	}
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return
	}

	if pkg, ok := strings.CutSuffix(s, ".*"); ok {
		if static {
			f.staticWildcards = append(f.staticWildcards, pkg)
		} else {
			f.wildcards = append(f.wildcards, pkg)
		}
		return
	}
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return
	}
	if static {
		f.staticImports[s[dot+1:]] = s[:dot]
		return
	}
	f.imports[s[dot+1:]] = s
}

// classInfo is a class declared in source.
type classInfo struct {
	file   *sourceFile
	node   *sitter.Node
	outer  *classInfo
	name   sig.Class
	simple string
	kind   classKind

	typeParams map[string]bool
	fields     map[string]string

	// Initializer expressions; constructors run the instance ones and
	// <clinit> the static ones.
	instanceInits []*sitter.Node
	staticInits   []*sitter.Node

	decl    *program.Class
	methods []*methodInfo
}

// methodInfo is a method, constructor, or synthesized initializer.
type methodInfo struct {
	owner      *classInfo
	body       *sitter.Node
	typeParams map[string]bool
	params     []param
	decl       *program.Method
}

type param struct {
	name string
	typ  string
}

// universe holds every parsed file and declared class for one load.
type universe struct {
	logger  *slog.Logger
	library *program.Model
	files   []*sourceFile
	index   map[sig.Class]*classInfo
	order   []*classInfo
	model   *program.Model
	stats   Stats
}

func newUniverse(library *program.Model, logger *slog.Logger) *universe {
	return &universe{
		logger:  logger,
		library: library,
		index:   make(map[sig.Class]*classInfo),
	}
}

func (u *universe) close() {
	for _, f := range u.files {
		f.tree.Close()
	}
}

func (u *universe) addFile(path string, src []byte, tree *sitter.Tree) *sourceFile {
	f := &sourceFile{
		path:          path,
		src:           src,
		tree:          tree,
		imports:       make(map[string]string),
		staticImports: make(map[string]string),
	}
	u.files = append(u.files, f)
	return f
}

// known reports whether c is declared in source or in the library.
func (u *universe) known(c string) bool {
	if _, ok := u.index[sig.Class(c)]; ok {
		return true
	}
	if u.library != nil {
		_, ok := u.library.Class(sig.Class(c))
		return ok
	}
	return false
}

func (u *universe) collectClasses() {
	for _, f := range u.files {
		root := f.tree.RootNode()
		for i := 0; i < int(root.NamedChildCount()); i++ {
			u.collect(f, root.NamedChild(i), nil)
		}
	}
}

func (u *universe) collect(f *sourceFile, n *sitter.Node, outer *classInfo) {
	kind, ok := declarationKinds[n.Type()]
	if !ok {
		return
	}
	simple := f.text(n.ChildByFieldName("name"))
	if simple == "" {
		return
	}
	var name string
	switch {
	case outer != nil:
		name = string(outer.name) + "$" + simple
	case f.pkg != "":
		name = f.pkg + "." + simple
	default:
		name = simple
	}
	if _, dup := u.index[sig.Class(name)]; dup {
		u.logger.Warn("duplicate class declaration ignored",
			slog.String("class", name),
			slog.String("file", f.path))
		return
	}

	ci := &classInfo{
		file:       f,
		node:       n,
		outer:      outer,
		name:       sig.Class(name),
		simple:     simple,
		kind:       kind,
		typeParams: typeParameterNames(f, n),
		fields:     make(map[string]string),
	}
	u.index[ci.name] = ci
	u.order = append(u.order, ci)

	for _, member := range bodyMembers(n.ChildByFieldName("body")) {
		u.collect(f, member, ci)
	}
}

// bodyMembers returns the member declarations of a class, interface, or
// enum body.
func bodyMembers(body *sitter.Node) []*sitter.Node {
	if body == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "enum_body_declarations" {
			out = append(out, bodyMembers(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func typeParameterNames(f *sourceFile, n *sitter.Node) map[string]bool {
	names := make(map[string]bool)
	tp := n.ChildByFieldName("type_parameters")
	if tp == nil {
		return names
	}
	for i := 0; i < int(tp.NamedChildCount()); i++ {
		p := tp.NamedChild(i)
		if p.Type() != "type_parameter" {
			continue
		}
		for j := 0; j < int(p.NamedChildCount()); j++ {
			id := p.NamedChild(j)
			if id.Type() == "identifier" || id.Type() == "type_identifier" {
				names[f.text(id)] = true
				break
			}
		}
	}
	return names
}

// modifierSet returns the keyword modifiers of a declaration.
func modifierSet(n *sitter.Node) map[string]bool {
	set := make(map[string]bool)
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(c.ChildCount()); j++ {
			set[c.Child(j).Type()] = true
		}
	}
	return set
}

func (u *universe) declare() {
	for _, ci := range u.order {
		u.declareClass(ci)
	}
}

func (u *universe) declareClass(ci *classInfo) {
	mods := modifierSet(ci.node)
	c := program.NewClass(ci.name, ci.kind == kindInterface)
	c.Abstract = ci.kind == kindInterface || mods["abstract"]
	ci.decl = c

	switch ci.kind {
	case kindClass:
		c.Super = objectClass
		if sc := ci.node.ChildByFieldName("superclass"); sc != nil && sc.NamedChildCount() > 0 {
			c.Super = sig.Class(u.resolveType(ci, nil, sc.NamedChild(0)))
		}
	case kindEnum:
		c.Super = "java.lang.Enum"
	case kindRecord:
		c.Super = "java.lang.Record"
	}
	if c.Super == objectClass && !u.known(objectClass) {
		c.Super = ""
	}

	for i := 0; i < int(ci.node.NamedChildCount()); i++ {
		n := ci.node.NamedChild(i)
		if n.Type() != "super_interfaces" && n.Type() != "extends_interfaces" {
			continue
		}
		for j := 0; j < int(n.NamedChildCount()); j++ {
			list := n.NamedChild(j)
			if list.Type() != "type_list" {
				continue
			}
			for k := 0; k < int(list.NamedChildCount()); k++ {
				c.Interfaces = append(c.Interfaces, sig.Class(u.resolveType(ci, nil, list.NamedChild(k))))
			}
		}
	}

	hasConstructor := false
	var recordParams []param
	if ci.kind == kindRecord {
		recordParams = u.parameters(ci, nil, ci.node.ChildByFieldName("parameters"))
		for _, p := range recordParams {
			ci.fields[p.name] = p.typ
		}
	}

	for _, member := range bodyMembers(ci.node.ChildByFieldName("body")) {
		switch member.Type() {
		case "field_declaration", "constant_declaration":
			u.declareField(ci, member)
		case "static_initializer":
			ci.staticInits = append(ci.staticInits, member)
		case "block":
			ci.instanceInits = append(ci.instanceInits, member)
		case "method_declaration":
			u.declareMethod(ci, member, false)
		case "constructor_declaration", "compact_constructor_declaration":
			hasConstructor = true
			u.declareMethod(ci, member, true)
		}
	}

	if !hasConstructor && ci.kind != kindInterface {
		u.addMethod(ci, &methodInfo{
			owner:  ci,
			params: recordParams,
		}, sig.ConstructorName, "void", false, false)
	}
	if len(ci.staticInits) > 0 {
		u.addMethod(ci, &methodInfo{owner: ci}, sig.StaticInitializerName, "void", true, false)
	}
}

func (u *universe) declareField(ci *classInfo, n *sitter.Node) {
	f := ci.file
	typ := u.resolveType(ci, nil, n.ChildByFieldName("type"))
	static := modifierSet(n)["static"] || ci.kind == kindInterface
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		name := f.text(d.ChildByFieldName("name"))
		ci.fields[name] = typ + dims(f, d.ChildByFieldName("dimensions"))
		if value := d.ChildByFieldName("value"); value != nil {
			if static {
				ci.staticInits = append(ci.staticInits, value)
			} else {
				ci.instanceInits = append(ci.instanceInits, value)
			}
		}
	}
}

func (u *universe) declareMethod(ci *classInfo, n *sitter.Node, constructor bool) {
	f := ci.file
	mods := modifierSet(n)
	mi := &methodInfo{
		owner:      ci,
		body:       n.ChildByFieldName("body"),
		typeParams: typeParameterNames(f, n),
	}
	mi.params = u.parameters(ci, mi.typeParams, n.ChildByFieldName("parameters"))

	if constructor {
		if n.Type() == "compact_constructor_declaration" {
			mi.params = u.parameters(ci, nil, ci.node.ChildByFieldName("parameters"))
		}
		u.addMethod(ci, mi, sig.ConstructorName, "void", false, false)
		return
	}

	name := f.text(n.ChildByFieldName("name"))
	ret := u.resolveType(ci, mi.typeParams, n.ChildByFieldName("type")) + dims(f, n.ChildByFieldName("dimensions"))
	static := mods["static"]
	abstract := mi.body == nil && !mods["native"]
	u.addMethod(ci, mi, name, ret, static, abstract)
}

func (u *universe) addMethod(ci *classInfo, mi *methodInfo, name, ret string, static, abstract bool) {
	types := make([]string, len(mi.params))
	for i, p := range mi.params {
		types[i] = p.typ
	}
	mi.decl = &program.Method{
		Sig:      sig.NewMethod(ci.name, ret, name, types...),
		Static:   static,
		Abstract: abstract,
	}
	if err := ci.decl.AddMethod(mi.decl); err != nil {
		if errors.Is(err, program.ErrDuplicateMethod) {
			u.logger.Debug("erased signature collision; keeping first declaration",
				slog.String("method", mi.decl.Sig.String()))
			return
		}
		u.logger.Warn("method not declared", slog.String("error", err.Error()))
		return
	}
	ci.methods = append(ci.methods, mi)
}

func (u *universe) parameters(ci *classInfo, typeParams map[string]bool, n *sitter.Node) []param {
	if n == nil {
		return nil
	}
	f := ci.file
	var out []param
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "formal_parameter":
			typ := u.resolveType(ci, typeParams, p.ChildByFieldName("type"))
			out = append(out, param{
				name: f.text(p.ChildByFieldName("name")),
				typ:  typ + dims(f, p.ChildByFieldName("dimensions")),
			})
		case "spread_parameter":
			var typ, name string
			for j := 0; j < int(p.NamedChildCount()); j++ {
				c := p.NamedChild(j)
				switch c.Type() {
				case "modifiers":
				case "variable_declarator":
					name = f.text(c.ChildByFieldName("name"))
				default:
					if typ == "" {
						typ = u.resolveType(ci, typeParams, c)
					}
				}
			}
			out = append(out, param{name: name, typ: typ + "[]"})
		}
	}
	return out
}

func dims(f *sourceFile, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return strings.Repeat("[]", strings.Count(f.text(n), "["))
}

// assemble builds the model from source classes plus library classes not
// shadowed by source.
func (u *universe) assemble() (*program.Model, error) {
	m := program.NewModel()
	for _, ci := range u.order {
		if err := m.AddClass(ci.decl); err != nil {
			return nil, fmt.Errorf("add class %s: %w", ci.name, err)
		}
	}
	if u.library != nil {
		for _, name := range u.library.ClassNames() {
			if _, shadowed := u.index[name]; shadowed {
				continue
			}
			c, _ := u.library.Class(name)
			if err := m.AddClass(c); err != nil {
				return nil, fmt.Errorf("add library class %s: %w", name, err)
			}
		}
	}
	u.model = m
	return m, nil
}
