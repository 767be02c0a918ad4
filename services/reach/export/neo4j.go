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
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"github.com/awnumar/memguard"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/term"
)

// DefaultNeo4jBatchSize bounds the rows sent in one UNWIND statement.
const DefaultNeo4jBatchSize = 1000

// PasswordPrompt reads a secret interactively.
type PasswordPrompt func(label string) ([]byte, error)

// TerminalPrompt returns a PasswordPrompt that reads from the terminal on
// fd without echo, writing the label to w. It fails when fd is not a
// terminal.
func TerminalPrompt(w io.Writer, fd int) PasswordPrompt {
	return func(label string) ([]byte, error) {
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("%w: %s (stdin is not a terminal)", ErrMissingSecret, label)
		}
		fmt.Fprintf(w, "%s: ", label)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", label, err)
		}
		return secret, nil
	}
}

// ResolveSecret seals a secret in an encrypted enclave.
//
// Description:
//
//	The secret is taken from the environment variable envName when it is
//	set and non-empty, otherwise from prompt. The plaintext is wiped once
//	sealed.
//
// Outputs:
//
//	*memguard.Enclave - The sealed secret.
//	error - Wraps ErrMissingSecret when neither source yields a value.
func ResolveSecret(label, envName string, prompt PasswordPrompt) (*memguard.Enclave, error) {
	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return memguard.NewEnclave([]byte(v)), nil
		}
	}
	if prompt == nil {
		return nil, fmt.Errorf("%w: %s (set %s)", ErrMissingSecret, label, envName)
	}
	secret, err := prompt(label)
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, label)
	}
	return memguard.NewEnclave(secret), nil
}

// cypherRunner executes one statement.
type cypherRunner func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jSink writes the reconciled graph as (:Method)-[:CALLS]->(:Method).
//
// Description:
//
//	Nodes are merged on their signature so repeated runs accumulate into one
//	graph. Each CALLS relationship carries the run ID that produced it, and
//	the simulator node is labelled :Simulator.
type Neo4jSink struct {
	driver    neo4j.DriverWithContext
	run       cypherRunner
	batchSize int
}

// NewNeo4jSink connects to Neo4j and verifies connectivity.
//
// Inputs:
//
//	ctx - Bounds the connectivity check.
//	cfg - Connection settings.
//	password - The sealed password. It is opened only for the duration of
//	driver construction.
func NewNeo4jSink(ctx context.Context, cfg config.Neo4jExport, password *memguard.Enclave) (*Neo4jSink, error) {
	buf, err := password.Open()
	if err != nil {
		return nil, fmt.Errorf("open neo4j password: %w", err)
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, buf.String(), ""))
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", cfg.URI, err)
	}

	var queryOpts []neo4j.ExecuteQueryConfigurationOption
	if cfg.Database != "" {
		queryOpts = append(queryOpts, neo4j.ExecuteQueryWithDatabase(cfg.Database))
	}
	s := &Neo4jSink{driver: driver, batchSize: DefaultNeo4jBatchSize}
	s.run = func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, queryOpts...)
		return err
	}
	return s, nil
}

// Name implements Sink.
func (s *Neo4jSink) Name() string { return "neo4j" }

const (
	cypherMethodIndex = "CREATE INDEX reach_method_sig IF NOT EXISTS FOR (m:Method) ON (m.sig)"

	cypherMethods = `UNWIND $batch AS row
		 MERGE (m:Method {sig: row.sig})
		 SET m.class = row.class, m.name = row.name`

	cypherSimulator = `MATCH (m:Method {sig: $sig}) SET m:Simulator`

	cypherCalls = `UNWIND $batch AS row
		 MATCH (a:Method {sig: row.from})
		 MATCH (b:Method {sig: row.to})
		 MERGE (a)-[r:CALLS {run_id: $run_id}]->(b)`
)

// Export implements Sink.
func (s *Neo4jSink) Export(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := s.run(ctx, cypherMethodIndex, nil); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	methods := a.Graph.Methods()
	rows := make([]map[string]any, 0, len(methods))
	var simulator string
	for _, m := range methods {
		rows = append(rows, map[string]any{
			"sig":   m.String(),
			"class": m.Class().String(),
			"name":  m.Name(),
		})
		if string(m.Class()) == a.SimulatorClass {
			simulator = m.String()
		}
	}
	if err := s.batched(ctx, cypherMethods, rows, nil); err != nil {
		return fmt.Errorf("merge methods: %w", err)
	}
	if simulator != "" {
		if err := s.run(ctx, cypherSimulator, map[string]any{"sig": simulator}); err != nil {
			return fmt.Errorf("label simulator: %w", err)
		}
	}

	calls := a.Graph.Calls()
	rows = make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, map[string]any{"from": c.From.String(), "to": c.To.String()})
	}
	if err := s.batched(ctx, cypherCalls, rows, map[string]any{"run_id": a.RunID}); err != nil {
		return fmt.Errorf("merge calls: %w", err)
	}
	return nil
}

// batched runs cypher once per batchSize rows, with extra merged into the
// parameters.
func (s *Neo4jSink) batched(ctx context.Context, cypher string, rows []map[string]any, extra map[string]any) error {
	size := s.batchSize
	if size <= 0 {
		size = DefaultNeo4jBatchSize
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		params := map[string]any{"batch": rows[start:end]}
		for k, v := range extra {
			params[k] = v
		}
		if err := s.run(ctx, cypher, params); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the driver.
func (s *Neo4jSink) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}
