// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vptree

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/themis-project/themis/internal/iograph"
)

// keyPrefixCorpus namespaces the registry of trusted-graph source hashes
// that make up the index, so the corpus membership itself survives a
// process restart without re-scanning trusted_graph_dir (spec §6's
// trusted_graph_dir config field).
const keyPrefixCorpus = "vptree:corpus:"

// CorpusEntry records one trusted graph admitted to the index.
type CorpusEntry struct {
	SourceHash  string `json:"source_hash"`
	SourceLabel string `json:"source_label"`
}

// CorpusRegistry tracks which trusted graphs participate in the
// vantage-point index, backed by the same BadgerDB instance the graph
// snapshot store uses. Index construction itself (Build) stays in memory:
// a VP-tree is cheap to rebuild from already-persisted graphs, so only
// corpus membership — not the tree structure — needs persisting.
//
// Thread Safety: Safe for concurrent use; BadgerDB serializes its own
// transactions.
type CorpusRegistry struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewCorpusRegistry builds a registry over an opened BadgerDB instance.
func NewCorpusRegistry(db *badger.DB, logger *slog.Logger) (*CorpusRegistry, error) {
	if db == nil {
		return nil, fmt.Errorf("vptree: badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CorpusRegistry{db: db, logger: logger}, nil
}

// Admit registers a trusted graph's source hash/label under the corpus,
// so a later LoadCorpus call picks it up.
func (r *CorpusRegistry) Admit(ctx context.Context, entry CorpusEntry) error {
	key := keyPrefixCorpus + entry.SourceHash
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(entry.SourceLabel))
	})
}

// Remove drops a source hash from the corpus registry (it does not delete
// the underlying graph snapshot).
func (r *CorpusRegistry) Remove(ctx context.Context, sourceHash string) error {
	key := keyPrefixCorpus + sourceHash
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List returns every registered corpus entry, sorted by source hash for a
// deterministic VP-tree build order.
func (r *CorpusRegistry) List(ctx context.Context) ([]CorpusEntry, error) {
	var entries []CorpusEntry
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixCorpus)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(keyPrefixCorpus)); it.Valid(); it.Next() {
			item := it.Item()
			sourceHash := string(item.Key())[len(keyPrefixCorpus):]
			err := item.Value(func(val []byte) error {
				entries = append(entries, CorpusEntry{SourceHash: sourceHash, SourceLabel: string(val)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vptree: listing corpus: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SourceHash < entries[j].SourceHash })
	return entries, nil
}

// LoadCorpus resolves every registered corpus entry's latest graph snapshot
// and wraps it as a VP-tree Item, ready to pass to Build. A snapshot that
// fails to load is skipped with a warning rather than aborting the whole
// index build — one corrupt trusted graph should not make the rest of the
// corpus unsearchable.
func LoadCorpus(ctx context.Context, registry *CorpusRegistry, snapshots *iograph.SnapshotStore, logger *slog.Logger) ([]Item[*iograph.Graph], error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := registry.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]Item[*iograph.Graph], 0, len(entries))
	for _, entry := range entries {
		g, _, err := snapshots.LoadLatest(ctx, entry.SourceHash)
		if err != nil {
			logger.Warn("skipping trusted graph that failed to load",
				slog.String("source_label", entry.SourceLabel),
				slog.Any("error", err),
			)
			continue
		}
		items = append(items, Item[*iograph.Graph]{Label: entry.SourceLabel, Value: g})
	}
	return items, nil
}
