// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianReach/services/reach/sig"
	"golang.org/x/mod/semver"
)

// HeaderPrefix starts the optional format header line.
const HeaderPrefix = "#reach-trace"

// Format is one trace line encoding. Each major version of the dump format
// has exactly one implementation.
type Format interface {
	// Version is the semantic version written in headers.
	Version() string

	// Decode parses one non-blank, non-comment line.
	Decode(line string) (sig.Method, error)

	// Encode renders m as one line without the trailing newline.
	Encode(m sig.Method) (string, error)
}

// Formats by major version.
var (
	// V1 is one canonical signature per line.
	V1 Format = signatureFormat{}

	// V2 is one JSON object per line.
	V2 Format = jsonFormat{}
)

// FormatFor selects the format for a semantic version. The "v" prefix is
// optional. Only the major version is significant.
func FormatFor(version string) (Format, error) {
	v := strings.TrimSpace(version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedVersion, version)
	}
	switch semver.Major(v) {
	case "v1":
		return V1, nil
	case "v2":
		return V2, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
}

func parseHeader(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, HeaderPrefix)
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

type signatureFormat struct{}

func (signatureFormat) Version() string { return "v1.0.0" }

func (signatureFormat) Decode(line string) (sig.Method, error) { return ParseLine(line) }

func (signatureFormat) Encode(m sig.Method) (string, error) { return m.String(), nil }

// jsonMethod is the v2 line shape.
type jsonMethod struct {
	Class  string   `json:"class"`
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Return string   `json:"return"`
}

type jsonFormat struct{}

func (jsonFormat) Version() string { return "v2.0.0" }

func (jsonFormat) Decode(line string) (sig.Method, error) {
	var jm jsonMethod
	if err := json.Unmarshal([]byte(line), &jm); err != nil {
		return sig.Method{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if jm.Class == "" || jm.Name == "" {
		return sig.Method{}, fmt.Errorf("%w: class and name are required", ErrMalformedLine)
	}
	if jm.Return == "" {
		jm.Return = "void"
	}
	return sig.NewMethod(sig.Class(jm.Class), jm.Return, jm.Name, jm.Params...), nil
}

func (jsonFormat) Encode(m sig.Method) (string, error) {
	data, err := json.Marshal(jsonMethod{
		Class:  string(m.Class()),
		Name:   m.Name(),
		Params: m.Params(),
		Return: m.Return(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
