// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package iograph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key prefixes for graph snapshots.
const (
	keyPrefixSnap   = "iograph:snap:"
	keySuffixData   = ":data"
	keySuffixMeta   = ":meta"
	keySuffixLatest = ":latest"
)

// SnapshotMetadata describes one saved graph snapshot.
type SnapshotMetadata struct {
	SnapshotID     string `json:"snapshot_id"`
	SourceLabel    string `json:"source_label"`
	SourceHash     string `json:"source_hash"`
	GraphHash      string `json:"graph_hash"`
	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// SnapshotStore manages saving and loading graph snapshots in BadgerDB,
// so a graph built once from an expensive trace run does not need to be
// rebuilt for every subsequent comparison (spec §6.3, grounded on the
// teacher's graph.SnapshotManager).
//
// Thread Safety: Safe for concurrent use; BadgerDB serializes its own
// transactions.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotStore builds a store over an opened BadgerDB instance.
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("iograph: badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// Save serializes, gzip-compresses, and persists a frozen Graph.
//
// Key Schema:
//
//	iograph:snap:{sourceHash}:{snapshotID}:data → gzip(JSON(SerializableGraph))
//	iograph:snap:{sourceHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	iograph:snap:{sourceHash}:latest            → snapshotID
func (s *SnapshotStore) Save(ctx context.Context, g *Graph, label string) (*SnapshotMetadata, error) {
	if g == nil {
		return nil, fmt.Errorf("iograph: graph must not be nil")
	}

	sg := g.ToSerializable()
	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("iograph: marshaling graph: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("iograph: creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("iograph: compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("iograph: closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	sourceHash := hashString(g.SourceLabel)[:16]
	snapshotID := hashString(fmt.Sprintf("%s:%d", g.SourceLabel, g.BuiltAtMilli))[:16]
	contentHash := hashBytes(compressedData)

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		SourceLabel:    g.SourceLabel,
		SourceHash:     sourceHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    contentHash,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("iograph: marshaling metadata: %w", err)
	}

	dataKey := keyPrefixSnap + sourceHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + sourceHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + sourceHash + keySuffixLatest

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return err
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return err
		}
		return txn.Set([]byte(latestKey), []byte(snapshotID))
	})
	if err != nil {
		return nil, fmt.Errorf("iograph: writing snapshot to badger: %w", err)
	}

	s.logger.Info("graph snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("source_label", g.SourceLabel),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
	)
	return meta, nil
}

// Load retrieves a graph snapshot by its source hash and snapshot id.
func (s *SnapshotStore) Load(ctx context.Context, sourceHash, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	dataKey := keyPrefixSnap + sourceHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + sourceHash + ":" + snapshotID + keySuffixMeta

	var compressedData, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, err)
		}
		if compressedData, err = dataItem.ValueCopy(nil); err != nil {
			return err
		}
		metaItem, err := txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, err)
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("iograph: unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(compressedData) {
		return nil, nil, fmt.Errorf("iograph: integrity check failed for %s", snapshotID)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("iograph: decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("iograph: reading decompressed data for %s: %w", snapshotID, err)
	}

	var sg SerializableGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, nil, fmt.Errorf("iograph: unmarshaling graph for %s: %w", snapshotID, err)
	}
	g, err := FromSerializable(&sg)
	if err != nil {
		return nil, nil, fmt.Errorf("iograph: reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

// LoadLatest loads the most recently saved snapshot for a source hash.
func (s *SnapshotStore) LoadLatest(ctx context.Context, sourceHash string) (*Graph, *SnapshotMetadata, error) {
	latestKey := keyPrefixSnap + sourceHash + keySuffixLatest
	var snapshotID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("iograph: reading latest pointer for %s: %w", sourceHash, err)
	}
	return s.Load(ctx, sourceHash, snapshotID)
}

// List returns metadata for snapshots under sourceHash (or all snapshots if
// sourceHash is empty), newest first.
func (s *SnapshotStore) List(ctx context.Context, sourceHash string, limit int) ([]*SnapshotMetadata, error) {
	if limit <= 0 {
		limit = 100
	}
	prefix := keyPrefixSnap
	if sourceHash != "" {
		prefix = keyPrefixSnap + sourceHash + ":"
	}

	var results []*SnapshotMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if len(key) <= len(keySuffixMeta) || key[len(key)-len(keySuffixMeta):] != keySuffixMeta {
				continue
			}
			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) })
			if err != nil {
				s.logger.Warn("skipping corrupt snapshot metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iograph: listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAtMilli > results[j].CreatedAtMilli })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
