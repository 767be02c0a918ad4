// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reach reconciles a static call graph with a runtime trace to decide
// whether a sink method is reachable from an entry point.
//
// Usage:
//
//	reach init -o reach.yaml
//	reach analyze -c reach.yaml
//	reach watch -c reach.yaml --dir ./dumps
//	reach serve --addr :8080 --snapshot-db ./snapshots
//	reach snapshots list --db ./snapshots --project ./model.yaml
//
// Example requests against a running server:
//
//	# Run an analysis from a configuration file on the server
//	curl -X POST http://localhost:8080/v1/reach/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"config_path": "/etc/reach/reach.yaml"}'
//
//	# Fetch the reconciled graph
//	curl http://localhost:8080/v1/reach/runs/<run_id>/dot
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	memguard.Purge()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
