// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gosrc builds a program model from Go packages via SSA.
//
// Description:
//
//	Named types become classes named "<import path>.<Type>"; interfaces
//	become interface classes whose methods are abstract. Package-level
//	functions become static methods of a class named by the import path.
//	A concrete type lists every loaded interface that it or its pointer
//	implements. Methods promoted through embedding are declared on the
//	embedding type with a call to the promoted method.
//
//	Call sites come from SSA: static callees bind directly, interface
//	invocations dispatch, and closure calls are attributed to the enclosing
//	function. MakeInterface and heap allocations of named types are the
//	instantiations used by RTA.
//
//	Type strings drop spaces and use ';' in place of ',' so that Go types
//	such as func(a, b int) survive in method identities.
package gosrc

import (
	"context"
	"errors"
	"fmt"
	"go/types"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianReach/services/reach/program"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

var tracer = otel.Tracer("aleutian.reach.gosrc")

// Sentinel errors.
var (
	// ErrNoPackages indicates the patterns matched no packages.
	ErrNoPackages = errors.New("no go packages matched")

	// ErrPackageErrors indicates packages failed to load or type-check.
	ErrPackageErrors = errors.New("go packages have errors")
)

// Stats summarizes a load.
type Stats struct {
	Packages   int `json:"packages"`
	Classes    int `json:"classes"`
	Methods    int `json:"methods"`
	CallSites  int `json:"call_sites"`
	Unresolved int `json:"unresolved"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithDir sets the directory patterns are resolved against.
func WithDir(dir string) Option {
	return func(ld *Loader) { ld.dir = dir }
}

// WithTests includes test packages.
func WithTests(tests bool) Option {
	return func(ld *Loader) { ld.tests = tests }
}

// WithTolerateErrors keeps going when some packages have type errors.
func WithTolerateErrors(tolerate bool) Option {
	return func(ld *Loader) { ld.tolerateErrors = tolerate }
}

// Loader builds program models from Go packages.
//
// Thread Safety: Safe for concurrent use; Load shares no state between
// calls.
type Loader struct {
	logger         *slog.Logger
	dir            string
	tests          bool
	tolerateErrors bool
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load loads the packages matching patterns and builds a sealed model of
// them. Dependencies outside the matched packages are not modelled; calls
// into them become leaf targets.
func (ld *Loader) Load(ctx context.Context, patterns ...string) (*program.Model, Stats, error) {
	ctx, span := tracer.Start(ctx, "gosrc.Load",
		trace.WithAttributes(attribute.StringSlice("patterns", patterns)),
	)
	defer span.End()
	start := time.Now()

	fail := func(err error) (*program.Model, Stats, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, Stats{}, err
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
			packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypesSizes,
		Context: ctx,
		Dir:     ld.dir,
		Tests:   ld.tests,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return fail(fmt.Errorf("load packages: %w", err))
	}
	if len(pkgs) == 0 {
		return fail(fmt.Errorf("%w: %s", ErrNoPackages, strings.Join(patterns, " ")))
	}

	var loadErrs []string
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			loadErrs = append(loadErrs, e.Error())
		}
	})
	if len(loadErrs) > 0 {
		if !ld.tolerateErrors {
			return fail(fmt.Errorf("%w: %s", ErrPackageErrors, strings.Join(loadErrs, "; ")))
		}
		ld.logger.Warn("go packages have errors; continuing",
			slog.Int("errors", len(loadErrs)),
			slog.String("first", loadErrs[0]))
	}

	prog, ssaPkgs := ssautil.Packages(pkgs, ssa.InstantiateGenerics)
	prog.Build()

	b := &modelBuilder{
		logger: ld.logger,
		prog:   prog,
		model:  program.NewModel(),
		ifaces: make(map[sig.Class]*types.Interface),
	}
	var initial []*ssa.Package
	for _, p := range ssaPkgs {
		if p != nil {
			initial = append(initial, p)
		}
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].Pkg.Path() < initial[j].Pkg.Path() })

	for _, p := range initial {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := b.addPackage(p); err != nil {
			return fail(err)
		}
	}
	b.linkInterfaces()
	b.model.Seal()

	ms := b.model.Stats()
	stats := Stats{
		Packages:   len(initial),
		Classes:    ms.Classes,
		Methods:    ms.Methods,
		CallSites:  ms.CallSites,
		Unresolved: b.unresolved,
	}
	span.SetAttributes(
		attribute.Int("classes", stats.Classes),
		attribute.Int("call_sites", stats.CallSites),
	)
	span.SetStatus(codes.Ok, "")
	ld.logger.Info("go packages loaded",
		slog.Int("packages", stats.Packages),
		slog.Int("classes", stats.Classes),
		slog.Int("methods", stats.Methods),
		slog.Int("call_sites", stats.CallSites),
		slog.Int("unresolved", stats.Unresolved),
		slog.Duration("elapsed", time.Since(start)),
	)
	return b.model, stats, nil
}

type modelBuilder struct {
	logger     *slog.Logger
	prog       *ssa.Program
	model      *program.Model
	ifaces     map[sig.Class]*types.Interface
	concrete   []*concreteType
	unresolved int
}

type concreteType struct {
	class *program.Class
	typ   types.Type
}

func (b *modelBuilder) addPackage(p *ssa.Package) error {
	path := p.Pkg.Path()
	funcs := program.NewClass(sig.Class(path), false)

	names := make([]string, 0, len(p.Members))
	for name := range p.Members {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch mem := p.Members[name].(type) {
		case *ssa.Function:
			b.declare(funcs, mem, true)
		case *ssa.Type:
			if err := b.addNamedType(mem); err != nil {
				return err
			}
		}
	}
	if len(funcs.Methods()) == 0 {
		return nil
	}
	if err := b.model.AddClass(funcs); err != nil {
		return fmt.Errorf("add package %s: %w", path, err)
	}
	return nil
}

func (b *modelBuilder) addNamedType(t *ssa.Type) error {
	named, ok := t.Type().(*types.Named)
	if !ok {
		return nil
	}
	name := namedClass(named)

	if iface, ok := named.Underlying().(*types.Interface); ok {
		c := program.NewClass(name, true)
		c.Abstract = true
		for i := 0; i < iface.NumMethods(); i++ {
			m := iface.Method(i)
			decl := &program.Method{Sig: funcSig(name, m.Name(), m.Type().(*types.Signature)), Abstract: true}
			if err := c.AddMethod(decl); err != nil {
				return fmt.Errorf("declare %s: %w", decl.Sig, err)
			}
		}
		b.ifaces[name] = iface
		return b.model.AddClass(c)
	}

	c := program.NewClass(name, false)
	if named.TypeParams().Len() > 0 {
		for i := 0; i < named.NumMethods(); i++ {
			if fn := b.prog.FuncValue(named.Method(i)); fn != nil {
				b.declare(c, fn, false)
			}
		}
	} else {
		mset := b.prog.MethodSets.MethodSet(types.NewPointer(named))
		for i := 0; i < mset.Len(); i++ {
			sel := mset.At(i)
			fn := b.prog.MethodValue(sel)
			if len(sel.Index()) == 1 {
				if declared := b.prog.FuncValue(sel.Obj().(*types.Func)); declared != nil {
					fn = declared
				}
			}
			if fn != nil {
				b.declare(c, fn, false)
			}
		}
	}
	b.concrete = append(b.concrete, &concreteType{class: c, typ: named})
	return b.model.AddClass(c)
}

// declare adds fn to c with its call sites.
func (b *modelBuilder) declare(c *program.Class, fn *ssa.Function, static bool) {
	decl := &program.Method{
		Sig:    funcSig(c.Name, fn.Name(), fn.Signature),
		Static: static,
	}
	b.collect(decl, fn, make(map[*ssa.Function]bool))
	if err := c.AddMethod(decl); err != nil {
		b.logger.Debug("method not declared", slog.String("error", err.Error()))
	}
}

// collect records the calls and instantiations of fn and its closures.
func (b *modelBuilder) collect(decl *program.Method, fn *ssa.Function, seen map[*ssa.Function]bool) {
	if seen[fn] {
		return
	}
	seen[fn] = true
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			switch v := instr.(type) {
			case ssa.CallInstruction:
				b.call(decl, v.Common())
			case *ssa.MakeInterface:
				b.instantiate(decl, v.X.Type())
			case *ssa.Alloc:
				if v.Heap {
					b.instantiate(decl, v.Type())
				}
			}
		}
	}
	for _, anon := range fn.AnonFuncs {
		b.collect(decl, anon, seen)
	}
}

func (b *modelBuilder) call(decl *program.Method, common *ssa.CallCommon) {
	if common.IsInvoke() {
		class := namedClass(common.Value.Type())
		if class == "" {
			b.unresolved++
			return
		}
		target := funcSig(class, common.Method.Name(), common.Method.Type().(*types.Signature))
		decl.Calls = append(decl.Calls, program.CallSite{Target: target, Kind: program.CallInterface})
		return
	}

	callee := common.StaticCallee()
	if callee == nil {
		if _, builtin := common.Value.(*ssa.Builtin); !builtin {
			b.unresolved++
		}
		return
	}
	if callee.Parent() != nil {
		// Closure called in place; collected with its parent.
		return
	}
	if origin := callee.Origin(); origin != nil {
		callee = origin
	}

	recv := callee.Signature.Recv()
	switch {
	case recv != nil:
		class := namedClass(recv.Type())
		if class == "" {
			b.unresolved++
			return
		}
		decl.Calls = append(decl.Calls, program.CallSite{
			Target: funcSig(class, callee.Name(), callee.Signature),
			Kind:   program.CallSpecial,
		})
	case callee.Pkg != nil:
		decl.Calls = append(decl.Calls, program.CallSite{
			Target: funcSig(sig.Class(callee.Pkg.Pkg.Path()), callee.Name(), callee.Signature),
			Kind:   program.CallStatic,
		})
	default:
		b.unresolved++
	}
}

func (b *modelBuilder) instantiate(decl *program.Method, t types.Type) {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok || types.IsInterface(named) {
		return
	}
	class := namedClass(named)
	for _, seen := range decl.Instantiates {
		if seen == class {
			return
		}
	}
	decl.Instantiates = append(decl.Instantiates, class)
}

// linkInterfaces records, on every concrete type, the loaded interfaces it
// or its pointer implements.
func (b *modelBuilder) linkInterfaces() {
	names := make([]sig.Class, 0, len(b.ifaces))
	for name, iface := range b.ifaces {
		if iface.NumMethods() > 0 {
			names = append(names, name)
		}
	}
	sig.SortClasses(names)
	for _, ct := range b.concrete {
		for _, name := range names {
			iface := b.ifaces[name]
			if types.Implements(ct.typ, iface) || types.Implements(types.NewPointer(ct.typ), iface) {
				ct.class.Interfaces = append(ct.class.Interfaces, name)
			}
		}
	}
}

// namedClass returns the class name of a named type or pointer to one, or
// "" for unnamed types.
func namedClass(t types.Type) sig.Class {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok {
		return ""
	}
	obj := named.Origin().Obj()
	if obj.Pkg() == nil {
		return sig.Class(obj.Name())
	}
	return sig.Class(obj.Pkg().Path() + "." + obj.Name())
}

func funcSig(class sig.Class, name string, s *types.Signature) sig.Method {
	params := make([]string, s.Params().Len())
	for i := range params {
		params[i] = typeString(s.Params().At(i).Type())
	}
	return sig.NewMethod(class, results(s.Results()), name, params...)
}

func results(t *types.Tuple) string {
	switch t.Len() {
	case 0:
		return "void"
	case 1:
		return typeString(t.At(0).Type())
	}
	parts := make([]string, t.Len())
	for i := range parts {
		parts[i] = typeString(t.At(i).Type())
	}
	return "(" + strings.Join(parts, ";") + ")"
}

func typeString(t types.Type) string {
	s := types.TypeString(t, nil)
	s = strings.ReplaceAll(s, ",", ";")
	return strings.ReplaceAll(s, " ", "")
}
