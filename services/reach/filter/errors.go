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
	"errors"
	"fmt"
)

// ErrConfiguration is wrapped by every rule parsing failure.
var ErrConfiguration = errors.New("invalid filter configuration")

// ConfigurationError describes a malformed filter rule.
//
// Index is the rule's position in the rule list, or -1 for top-level
// settings such as filter_default_policy.
type ConfigurationError struct {
	Index  int
	Key    string
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: '%s' %s", ErrConfiguration, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s: rule %d: '%s' %s", ErrConfiguration, e.Index, e.Key, e.Reason)
}

// Unwrap returns ErrConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
