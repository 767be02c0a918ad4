// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/AleutianAI/AleutianReach/services/reach/callgraph"
	"github.com/spf13/cobra"
)

// DefaultSnapshotDB is the snapshot store used when --db is not given.
const DefaultSnapshotDB = ".reach/snapshots"

type snapshotOptions struct {
	db         string
	project    string
	limit      int
	format     string
	jsonOutput bool
}

func newSnapshotsCmd(g *globalOptions) *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect stored call graph snapshots",
		Long: `Inspect the call graph snapshots saved by analyses with snapshot_db_path set.

Subcommands:
  list    - List snapshots for a project
  show    - Print one snapshot's graph
  diff    - Compare two snapshots
  delete  - Remove a snapshot`,
	}
	cmd.PersistentFlags().StringVar(&opts.db, "db", DefaultSnapshotDB, "BadgerDB snapshot directory")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots for a project, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(g, opts, func(m *callgraph.SnapshotManager) error {
				snaps, err := m.List(cmd.Context(), opts.project, opts.limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), snaps)
				}
				renderSnapshots(cmd.OutOrStdout(), snaps)
				return nil
			})
		},
	}
	list.Flags().StringVarP(&opts.project, "project", "p", "", "Analyzed class_path")
	list.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum snapshots")
	_ = list.MarkFlagRequired("project")

	show := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Print one snapshot's graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(g, opts, func(m *callgraph.SnapshotManager) error {
				graph, meta, err := m.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				switch opts.format {
				case "dot":
					_, err = fmt.Fprint(cmd.OutOrStdout(), graph.ExportDOT())
					return err
				case "json":
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"metadata": meta,
						"graph":    graph.ToSerializable(),
					})
				}
				return fmt.Errorf("unknown format %q (want dot or json)", opts.format)
			})
		},
	}
	show.Flags().StringVarP(&opts.format, "format", "f", "dot", "Output format (dot, json)")

	diff := &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(g, opts, func(m *callgraph.SnapshotManager) error {
				base, _, err := m.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				target, _, err := m.Load(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				d, err := callgraph.DiffSnapshots(base, target, args[0], args[1])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), d)
				}
				renderDiff(cmd.OutOrStdout(), d)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Remove a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSnapshots(g, opts, func(m *callgraph.SnapshotManager) error {
				if err := m.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, diff, del)
	return cmd
}

// withSnapshots opens the store for the duration of fn.
func withSnapshots(g *globalOptions, opts *snapshotOptions, fn func(*callgraph.SnapshotManager) error) error {
	db, err := callgraph.OpenBadger(opts.db)
	if err != nil {
		return err
	}
	defer db.Close()
	m, err := callgraph.NewSnapshotManager(db, g.logger)
	if err != nil {
		return err
	}
	return fn(m)
}
