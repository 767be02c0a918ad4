// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
)

// FromConfig builds the sinks for cfg: the file sink on cfg.OutputDirPath
// followed by each configured remote sink.
//
// Inputs:
//
//	ctx - Used for client construction and connectivity checks.
//	cfg - The run configuration.
//	prompt - Reads secrets that are not in the environment. May be nil.
//	logger - Passed to the Fanout. May be nil.
//
// Outputs:
//
//	*Fanout - The sinks. The caller closes it.
//	error - Non-nil if any configured sink could not be created; sinks
//	created before the failure are closed.
func FromConfig(ctx context.Context, cfg *config.Config, prompt PasswordPrompt, logger *slog.Logger) (*Fanout, error) {
	f := NewFanout(logger, NewFileSink(cfg.OutputDirPath))
	fail := func(err error) (*Fanout, error) {
		f.Close()
		return nil, err
	}

	ex := cfg.Exports
	if ex.GCS != nil {
		s, err := NewGCSSink(ctx, *ex.GCS)
		if err != nil {
			return fail(err)
		}
		f.Add(s)
	}
	if ex.Neo4j != nil {
		password, err := ResolveSecret("neo4j password", ex.Neo4j.PasswordEnv, prompt)
		if err != nil {
			return fail(err)
		}
		s, err := NewNeo4jSink(ctx, *ex.Neo4j, password)
		if err != nil {
			return fail(err)
		}
		f.Add(s)
	}
	if ex.Influx != nil {
		s, err := NewInfluxSink(*ex.Influx)
		if err != nil {
			return fail(err)
		}
		f.Add(s)
	}
	return f, nil
}
