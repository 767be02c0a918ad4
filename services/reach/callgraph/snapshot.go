// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout of the snapshot store:
//
//	reach:snap:{projectHash}:{snapshotID}:graph → gzip(JSON(SerializableGraph))
//	reach:snap:{projectHash}:{snapshotID}:run   → JSON(SnapshotMetadata)
//	reach:snap:{projectHash}:head               → newest snapshotID
//	reach:snap:owner:{snapshotID}               → projectHash
const (
	snapRoot       = "reach:snap:"
	snapOwnerRoot  = "reach:snap:owner:"
	snapGraphPart  = ":graph"
	snapRunPart    = ":run"
	snapHeadSuffix = ":head"
)

// snapKeys names the records of one snapshot.
type snapKeys struct {
	project string
	id      string
}

func (k snapKeys) graph() []byte { return []byte(snapRoot + k.project + ":" + k.id + snapGraphPart) }
func (k snapKeys) run() []byte   { return []byte(snapRoot + k.project + ":" + k.id + snapRunPart) }
func (k snapKeys) head() []byte  { return []byte(snapRoot + k.project + snapHeadSuffix) }
func (k snapKeys) owner() []byte { return []byte(snapOwnerRoot + k.id) }

// RunSummary is the outcome of the analysis that produced a snapshot.
type RunSummary struct {
	Algorithm string `json:"algorithm,omitempty"`
	Entry     string `json:"entry,omitempty"`
	Sink      string `json:"sink,omitempty"`

	// SimulatorClass names the trace's simulator node class.
	SimulatorClass string `json:"simulator_class,omitempty"`

	// EntryReached is false when the entry point was absent from the graph
	// and no reconciliation happened.
	EntryReached  bool `json:"entry_reached"`
	SinkReachable bool `json:"sink_reachable"`
	SinkCallers   int  `json:"sink_callers"`
	Rewired       int  `json:"rewired"`
}

// SnapshotMetadata describes a stored call graph and the run behind it.
type SnapshotMetadata struct {
	// SnapshotID is SHA256 over project, run ID, sink and simulator class,
	// truncated to 16 hex characters.
	SnapshotID string `json:"snapshot_id"`

	// Project is the analyzed program location (the configured class path).
	Project     string `json:"project"`
	ProjectHash string `json:"project_hash"`
	RunID       string `json:"run_id"`

	Run RunSummary `json:"run"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash      string `json:"graph_hash"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	SchemaVersion  string `json:"schema_version"`

	// CompressedSize and ContentHash describe the stored gzip payload.
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// SaveOptions identifies a snapshot being saved.
type SaveOptions struct {
	// Project groups snapshots. Required.
	Project string

	// RunID distinguishes runs of the same project. Required.
	RunID string

	Run RunSummary
}

// snapshotID derives the ID of a run's snapshot. The same run against a
// different sink or trace gets its own snapshot.
func snapshotID(opts SaveOptions) string {
	return hashString(strings.Join([]string{opts.Project, opts.RunID, opts.Run.Sink, opts.Run.SimulatorClass}, "\x00"))[:16]
}

// SnapshotManager stores reconciled call graphs in BadgerDB.
//
// Description:
//
//	Each snapshot keeps the SerializableGraph as gzip-compressed JSON next to
//	a metadata record carrying the run's outcome. A per-project head pointer
//	tracks the most recent save.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSnapshotManager creates a new SnapshotManager.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil. The caller closes it.
//	logger - Logger for diagnostic output. Must not be nil.
//
// Outputs:
//
//	*SnapshotManager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, errors.New("snapshot store: nil badger db")
	}
	if logger == nil {
		return nil, errors.New("snapshot store: nil logger")
	}
	return &SnapshotManager{db: db, logger: logger, now: time.Now}, nil
}

// OpenBadger opens (or creates) a BadgerDB directory with logging routed
// away from stderr.
func OpenBadger(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %s: %w", dir, err)
	}
	return db, nil
}

// Save stores g as the snapshot of one analysis run and moves the project's
// head pointer to it.
//
// Inputs:
//
//	ctx - Checked for cancellation before writing.
//	g - The reconciled graph. Must not be nil.
//	opts - Project and RunID are required. Run is recorded as given.
//
// Outputs:
//
//	*SnapshotMetadata - The stored metadata record.
//	error - Non-nil if encoding or the write transaction fails.
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, opts SaveOptions) (*SnapshotMetadata, error) {
	switch {
	case g == nil:
		return nil, errors.New("save snapshot: nil graph")
	case opts.Project == "":
		return nil, errors.New("save snapshot: empty project")
	case opts.RunID == "":
		return nil, errors.New("save snapshot: empty run ID")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	payload, err := packGraph(sg)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	keys := snapKeys{project: ProjectHash(opts.Project), id: snapshotID(opts)}
	meta := &SnapshotMetadata{
		SnapshotID:     keys.id,
		Project:        opts.Project,
		ProjectHash:    keys.project,
		RunID:          opts.RunID,
		Run:            opts.Run,
		GraphHash:      sg.GraphHash,
		NodeCount:      len(sg.Methods),
		EdgeCount:      len(sg.Calls),
		CreatedAtMilli: m.now().UnixMilli(),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	record, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: encoding metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		writes := []struct{ key, val []byte }{
			{keys.graph(), payload},
			{keys.run(), record},
			{keys.head(), []byte(keys.id)},
			{keys.owner(), []byte(keys.project)},
		}
		for _, w := range writes {
			if err := txn.Set(w.key, w.val); err != nil {
				return fmt.Errorf("set %s: %w", w.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", keys.id, err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", keys.id),
		slog.String("project", opts.Project),
		slog.String("run_id", opts.RunID),
		slog.String("sink", opts.Run.Sink),
		slog.Bool("sink_reachable", opts.Run.SinkReachable),
		slog.Int("methods", meta.NodeCount),
		slog.Int("calls", meta.EdgeCount),
		slog.Int64("bytes", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Outputs:
//
//	*Graph - The reconstructed graph.
//	*SnapshotMetadata - The snapshot metadata.
//	error - Wraps ErrSnapshotNotFound for an unknown ID; non-nil if the
//	content hash does not match or the graph cannot be rebuilt.
func (m *SnapshotManager) Load(ctx context.Context, id string) (*Graph, *SnapshotMetadata, error) {
	if id == "" {
		return nil, nil, errors.New("load snapshot: empty ID")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	keys, err := m.resolve(id)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return m.read(keys)
}

// LoadLatest loads the most recent snapshot for a project.
func (m *SnapshotManager) LoadLatest(ctx context.Context, project string) (*Graph, *SnapshotMetadata, error) {
	if project == "" {
		return nil, nil, errors.New("load latest snapshot: empty project")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	keys := snapKeys{project: ProjectHash(project)}
	err := m.db.View(func(txn *badger.Txn) error {
		head, err := valueOf(txn, keys.head())
		keys.id = string(head)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load latest snapshot of %s: %w", project, err)
	}
	return m.read(keys)
}

// List returns metadata for stored snapshots, newest first.
//
// Inputs:
//
//	ctx - Checked for cancellation before reading.
//	project - Optional filter. If empty, returns snapshots of every project.
//	limit - Maximum number of results. If <= 0, defaults to 100.
func (m *SnapshotManager) List(ctx context.Context, project string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	prefix := []byte(snapRoot)
	if project != "" {
		prefix = []byte(snapRoot + ProjectHash(project) + ":")
	}

	var out []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasSuffix(item.Key(), []byte(snapRunPart)) {
				continue
			}
			meta := new(SnapshotMetadata)
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, meta) }); err != nil {
				m.logger.Warn("skipping unreadable snapshot record",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()))
				continue
			}
			out = append(out, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtMilli > out[j].CreatedAtMilli })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a snapshot. The project's head pointer goes with it when
// it pointed at this snapshot.
func (m *SnapshotManager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("delete snapshot: empty ID")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	keys, err := m.resolve(id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{keys.graph(), keys.run(), keys.owner()} {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		head, err := valueOf(txn, keys.head())
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
			return nil
		case err != nil:
			return err
		case string(head) != id:
			return nil
		}
		return txn.Delete(keys.head())
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", id))
	return nil
}

// resolve finds the project that owns id.
func (m *SnapshotManager) resolve(id string) (snapKeys, error) {
	keys := snapKeys{id: id}
	err := m.db.View(func(txn *badger.Txn) error {
		owner, err := valueOf(txn, keys.owner())
		keys.project = string(owner)
		return err
	})
	return keys, err
}

// read loads both records of a snapshot and rebuilds its graph.
func (m *SnapshotManager) read(keys snapKeys) (*Graph, *SnapshotMetadata, error) {
	var payload, record []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if payload, err = valueOf(txn, keys.graph()); err != nil {
			return err
		}
		record, err = valueOf(txn, keys.run())
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot %s: %w", keys.id, err)
	}

	meta := new(SnapshotMetadata)
	if err := json.Unmarshal(record, meta); err != nil {
		return nil, nil, fmt.Errorf("read snapshot %s: decoding metadata: %w", keys.id, err)
	}
	if got := hashBytes(payload); meta.ContentHash != "" && got != meta.ContentHash {
		return nil, nil, fmt.Errorf("read snapshot %s: content hash %s does not match recorded %s", keys.id, got, meta.ContentHash)
	}
	g, err := unpackGraph(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot %s: %w", keys.id, err)
	}
	return g, meta, nil
}

// valueOf copies the value at key. A missing key is ErrSnapshotNotFound.
func valueOf(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// packGraph encodes sg as gzip-compressed JSON.
func packGraph(sg *SerializableGraph) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(sg); err != nil {
		return nil, fmt.Errorf("encoding graph: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	return buf.Bytes(), nil
}

// unpackGraph reverses packGraph.
func unpackGraph(payload []byte) (*Graph, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompressing graph: %w", err)
	}
	defer zr.Close()
	var sg SerializableGraph
	if err := json.NewDecoder(io.LimitReader(zr, maxGraphBytes)).Decode(&sg); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}
	return FromSerializable(&sg)
}

// maxGraphBytes bounds the decompressed size of a stored graph.
const maxGraphBytes = 1 << 30

// ProjectHash returns SHA256(project)[:16] for use as a key prefix.
func ProjectHash(project string) string {
	return hashString(project)[:16]
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
