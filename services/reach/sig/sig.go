// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sig defines the method and class identities used as keys across
// the reach services, plus the textual signature codec shared by traces,
// configuration, and exports.
package sig

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedSignature indicates text that is not a method signature.
var ErrMalformedSignature = errors.New("malformed method signature")

const (
	// ConstructorName is the method name used for instance constructors.
	ConstructorName = "<init>"

	// StaticInitializerName is the method name used for class initializers.
	StaticInitializerName = "<clinit>"
)

// Class is a fully qualified class or interface name.
//
// Whether a Class is an interface is not part of its identity; ask the
// hierarchy view that owns the type universe.
type Class string

// String returns the fully qualified name.
func (c Class) String() string { return string(c) }

// Method identifies a method by declaring class, name, ordered parameter
// types, and return type.
//
// Description:
//
//	Method is an immutable, comparable value. Parameters are stored in their
//	canonical comma-joined form so that two identities compare equal with
//	== iff every field matches, and the value can key a Go map directly.
//
// Thread Safety: Method is a value type with no internal state.
type Method struct {
	class  Class
	name   string
	params string
	ret    string
}

// NewMethod creates a method identity.
//
// Inputs:
//
//	class - Declaring class FQN.
//	ret - Return type, e.g. "void" or "java.lang.String".
//	name - Method name.
//	params - Formal parameter types in declaration order.
//
// Outputs:
//
//	Method - The identity. Surrounding whitespace on every part is removed.
func NewMethod(class Class, ret, name string, params ...string) Method {
	trimmed := make([]string, len(params))
	for i, p := range params {
		trimmed[i] = strings.TrimSpace(p)
	}
	return Method{
		class:  Class(strings.TrimSpace(string(class))),
		name:   strings.TrimSpace(name),
		params: strings.Join(trimmed, ","),
		ret:    strings.TrimSpace(ret),
	}
}

// Class returns the declaring class.
func (m Method) Class() Class { return m.class }

// Name returns the method name.
func (m Method) Name() string { return m.name }

// Return returns the return type.
func (m Method) Return() string { return m.ret }

// Params returns a copy of the parameter types.
func (m Method) Params() []string {
	if m.params == "" {
		return []string{}
	}
	return strings.Split(m.params, ",")
}

// IsZero reports whether m is the zero Method.
func (m Method) IsZero() bool { return m == Method{} }

// IsConstructor reports whether m is an instance constructor.
func (m Method) IsConstructor() bool { return m.name == ConstructorName }

// IsStaticInitializer reports whether m is a class initializer.
func (m Method) IsStaticInitializer() bool { return m.name == StaticInitializerName }

// SubSignature returns "name(p1,p2)", the erased signature used when
// matching overrides. The return type is not part of it.
func (m Method) SubSignature() string {
	return m.name + "(" + m.params + ")"
}

// WithClass returns a copy of m declared on another class.
func (m Method) WithClass(c Class) Method {
	m.class = c
	return m
}

// String renders the canonical form "<class: ret name(p1,p2)>".
//
// The byte order of this string is the total order used wherever output must
// be deterministic.
func (m Method) String() string {
	var b strings.Builder
	b.Grow(len(m.class) + len(m.ret) + len(m.name) + len(m.params) + 8)
	b.WriteByte('<')
	b.WriteString(string(m.class))
	b.WriteString(": ")
	b.WriteString(m.ret)
	b.WriteByte(' ')
	b.WriteString(m.name)
	b.WriteByte('(')
	b.WriteString(m.params)
	b.WriteString(")>")
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMethod parses a signature of the form
// "<declaring-class>: <return-type> <method-name>(<p>,<p>)>".
//
// Description:
//
//	The leading '<' is optional; trace dumps written by some capture agents
//	omit it. Whitespace around the class, return type, name, and each
//	parameter is ignored.
//
// Outputs:
//
//	Method - The parsed identity.
//	error - Wraps ErrMalformedSignature if the text does not parse.
func ParseMethod(text string) (Method, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "<")
	if !strings.HasSuffix(s, ">") {
		return Method{}, fmt.Errorf("%w: %q: missing closing '>'", ErrMalformedSignature, text)
	}
	s = strings.TrimSuffix(s, ">")

	colon := strings.Index(s, ":")
	if colon <= 0 {
		return Method{}, fmt.Errorf("%w: %q: missing declaring class", ErrMalformedSignature, text)
	}
	class := strings.TrimSpace(s[:colon])
	rest := strings.TrimSpace(s[colon+1:])

	open := strings.Index(rest, "(")
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return Method{}, fmt.Errorf("%w: %q: missing parameter list", ErrMalformedSignature, text)
	}
	head := strings.Fields(rest[:open])
	if len(head) != 2 {
		return Method{}, fmt.Errorf("%w: %q: expected '<return-type> <name>'", ErrMalformedSignature, text)
	}

	paramText := strings.TrimSpace(rest[open+1 : len(rest)-1])
	var params []string
	if paramText != "" {
		params = strings.Split(paramText, ",")
		for i, p := range params {
			p = strings.TrimSpace(p)
			if p == "" {
				return Method{}, fmt.Errorf("%w: %q: empty parameter type", ErrMalformedSignature, text)
			}
			params[i] = p
		}
	}

	if class == "" || strings.ContainsAny(class, " \t") {
		return Method{}, fmt.Errorf("%w: %q: invalid class name", ErrMalformedSignature, text)
	}
	return NewMethod(Class(class), head[0], head[1], params...), nil
}

// MustParseMethod is ParseMethod for signatures known at compile time.
// It panics on malformed input.
func MustParseMethod(text string) Method {
	m, err := ParseMethod(text)
	if err != nil {
		panic(err)
	}
	return m
}

// Sort orders methods by their canonical string form.
func Sort(methods []Method) {
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].String() < methods[j].String()
	})
}

// SortClasses orders classes by name.
func SortClasses(classes []Class) {
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
}

// SortedSet returns the keys of set in canonical order.
func SortedSet(set map[Method]struct{}) []Method {
	out := make([]Method, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	Sort(out)
	return out
}
