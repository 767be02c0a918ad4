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
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
)

// Rule descriptor keys.
const (
	KeyDefaultPolicy      = "filter_default_policy"
	KeyType               = "type"
	KeyPattern            = "pattern"
	KeyExact              = "exact"
	KeyPolicy             = "policy"
	KeyAllSubClassMethods = "all_sub_class_methods"
	KeySyntax             = "syntax"
)

// Rule types.
const (
	TypeClassPath          = "class_path"
	TypeInterfaceClassPath = "interface_class_path"
	TypeSuperClassPath     = "super_class_path"
)

// ParseDefaultPolicy parses filter_default_policy. Empty means allow.
func ParseDefaultPolicy(s string) (deny bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return false, nil
	case "deny":
		return true, nil
	}
	return false, &ConfigurationError{Index: -1, Key: KeyDefaultPolicy, Reason: "must be either deny or allow"}
}

// ParseRules builds a Policy from rule descriptors.
//
// Description:
//
//	Keys are matched case-insensitively after trimming; values are
//	trimmed. Each rule needs a type and a non-blank pattern. Optional keys
//	take these defaults: exact=false, policy=deny,
//	all_sub_class_methods=false, syntax=regex.
//
// Inputs:
//
//	defaultPolicy - "allow", "deny", or empty for allow.
//	rules - Rule descriptors in priority order.
//	opts - Passed to NewPolicy.
//
// Outputs:
//
//	*Policy - The policy.
//	error - A *ConfigurationError naming the first bad rule and key.
func ParseRules(defaultPolicy string, rules []map[string]string, opts ...PolicyOption) (*Policy, error) {
	defaultDeny, err := ParseDefaultPolicy(defaultPolicy)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rules))
	for i, raw := range rules {
		e, err := ParseEntry(i, raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return NewPolicy(defaultDeny, entries, opts...)
}

// ParseEntry builds one Entry from a rule descriptor. index is only used in
// errors.
func ParseEntry(index int, raw map[string]string) (Entry, error) {
	rule := normalize(raw)
	fail := func(key, reason string) error {
		return &ConfigurationError{Index: index, Key: key, Reason: reason}
	}

	deny, err := parseChoice(rule, KeyPolicy, "deny", "deny", "allow")
	if err != nil {
		return nil, fail(KeyPolicy, "must be either deny or allow")
	}

	typ := strings.ToLower(rule[KeyType])
	switch typ {
	case TypeClassPath, TypeInterfaceClassPath, TypeSuperClassPath:
	case "":
		return nil, fail(KeyType, "is required")
	default:
		return nil, fail(KeyType, "is not a recognized type: "+typ)
	}

	pattern := rule[KeyPattern]
	if pattern == "" {
		return nil, fail(KeyPattern, "must be non-empty")
	}

	exact, err := parseChoice(rule, KeyExact, "false", "true", "false")
	if err != nil {
		return nil, fail(KeyExact, "must be either true or false")
	}

	if typ == TypeClassPath {
		glob, err := parseChoice(rule, KeySyntax, "regex", "glob", "regex")
		if err != nil {
			return nil, fail(KeySyntax, "must be either regex or glob")
		}
		if exact {
			return NewExactClass(sig.Class(pattern), deny), nil
		}
		syntax := SyntaxRegex
		if glob {
			syntax = SyntaxGlob
		}
		e, err := NewClassPatternSyntax(pattern, syntax, deny)
		if err != nil {
			return nil, fail(KeyPattern, err.Error())
		}
		return e, nil
	}

	all, err := parseChoice(rule, KeyAllSubClassMethods, "false", "true", "false")
	if err != nil {
		return nil, fail(KeyAllSubClassMethods, "must be either true or false")
	}

	var e Entry
	if typ == TypeInterfaceClassPath {
		e, err = NewInterfaceHierarchy(pattern, exact, all, deny)
	} else {
		e, err = NewSuperclassHierarchy(pattern, exact, all, deny)
	}
	if err != nil {
		return nil, fail(KeyPattern, err.Error())
	}
	return e, nil
}

func normalize(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// parseChoice reads a two-valued key. It returns true for the yes token,
// false for the no token, and an error for anything else. A missing or blank
// key takes def.
func parseChoice(rule map[string]string, key, def, yes, no string) (bool, error) {
	v := strings.ToLower(rule[key])
	if v == "" {
		v = def
	}
	switch v {
	case yes:
		return true, nil
	case no:
		return false, nil
	}
	return false, &ConfigurationError{Index: -1, Key: key, Reason: "invalid value " + v}
}
