// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filter prunes call graph edges by ordered allow/deny rules over
// the caller's class, its interfaces, and its superclasses.
package filter

import (
	"fmt"
	"regexp"

	"github.com/AleutianAI/AleutianReach/services/reach/hierarchy"
	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"github.com/gobwas/glob"
)

// Entry is one filter rule.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Entry interface {
	// Matches reports whether the rule covers m under the given hierarchy.
	Matches(m sig.Method, view hierarchy.View) bool

	// Denies reports whether a match excludes the method (true) or keeps it
	// (false).
	Denies() bool

	// Describe renders the rule for logs and reports.
	Describe() string
}

// action renders a deny flag.
func action(deny bool) string {
	if deny {
		return "deny"
	}
	return "allow"
}

// ExactClass matches methods declared by one named class.
type ExactClass struct {
	Name sig.Class
	Deny bool
}

// NewExactClass creates an ExactClass entry.
func NewExactClass(name sig.Class, deny bool) *ExactClass {
	return &ExactClass{Name: name, Deny: deny}
}

// Matches implements Entry.
func (e *ExactClass) Matches(m sig.Method, _ hierarchy.View) bool {
	return m.Class() == e.Name
}

// Denies implements Entry.
func (e *ExactClass) Denies() bool { return e.Deny }

// Describe implements Entry.
func (e *ExactClass) Describe() string {
	return fmt.Sprintf("%s class %s", action(e.Deny), e.Name)
}

// Syntax selects how a class pattern is compiled.
type Syntax int

const (
	// SyntaxRegex compiles the pattern as a Go regular expression.
	SyntaxRegex Syntax = iota

	// SyntaxGlob compiles the pattern as a glob with '.' as separator, so
	// "com.acme.*" covers one package level and "com.acme.**" all of them.
	SyntaxGlob
)

// String returns "regex" or "glob".
func (s Syntax) String() string {
	if s == SyntaxGlob {
		return "glob"
	}
	return "regex"
}

// matcher is satisfied by glob.Glob and by regexpMatcher.
type matcher interface {
	Match(s string) bool
}

type regexpMatcher struct{ re *regexp.Regexp }

func (r regexpMatcher) Match(s string) bool { return r.re.MatchString(s) }

// compilePattern compiles a whole-string matcher for class names.
func compilePattern(pattern string, syntax Syntax) (matcher, error) {
	if syntax == SyntaxGlob {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
		}
		return g, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compiling regex %q: %w", pattern, err)
	}
	return regexpMatcher{re: re}, nil
}

// ClassPattern matches methods whose declaring class name fully matches a
// pattern. A pattern that matches only a substring does not match.
type ClassPattern struct {
	pattern string
	syntax  Syntax
	deny    bool
	m       matcher
}

// NewClassPattern compiles a regex ClassPattern entry.
func NewClassPattern(pattern string, deny bool) (*ClassPattern, error) {
	return NewClassPatternSyntax(pattern, SyntaxRegex, deny)
}

// NewClassPatternSyntax compiles a ClassPattern entry with the given syntax.
func NewClassPatternSyntax(pattern string, syntax Syntax, deny bool) (*ClassPattern, error) {
	m, err := compilePattern(pattern, syntax)
	if err != nil {
		return nil, err
	}
	return &ClassPattern{pattern: pattern, syntax: syntax, deny: deny, m: m}, nil
}

// Pattern returns the source pattern.
func (e *ClassPattern) Pattern() string { return e.pattern }

// Matches implements Entry.
func (e *ClassPattern) Matches(m sig.Method, _ hierarchy.View) bool {
	return e.m.Match(string(m.Class()))
}

// Denies implements Entry.
func (e *ClassPattern) Denies() bool { return e.deny }

// Describe implements Entry.
func (e *ClassPattern) Describe() string {
	return fmt.Sprintf("%s classes matching %s %q", action(e.deny), e.syntax, e.pattern)
}
