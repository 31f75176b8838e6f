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
	"fmt"
	"sort"

	"github.com/themis-project/themis/internal/iomodel"
)

// GraphSchemaVersion is the version of the serialization schema. Increment
// when the format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a Graph.
// Nodes are sorted by id (and edges by endpoints and type) for
// deterministic output, so the same graph always serializes identically.
type SerializableGraph struct {
	SchemaVersion string             `json:"schema_version"`
	SourceLabel   string             `json:"source_label"`
	BuiltAtMilli  int64              `json:"built_at_milli"`
	GraphHash     string             `json:"graph_hash"`
	Nodes         []SerializableNode `json:"nodes"`
	Edges         []SerializableEdge `json:"edges"`
}

// SerializableNode is the JSON-serializable representation of a CallsNode.
type SerializableNode struct {
	ID   uint64          `json:"id"`
	Call iomodel.IOCall  `json:"call"`
}

// SerializableEdge is the JSON-serializable representation of an Edge.
type SerializableEdge struct {
	FromKind NodeIDKind `json:"from_kind"`
	FromNum  uint64     `json:"from_num,omitempty"`
	ToKind   NodeIDKind `json:"to_kind"`
	ToNum    uint64     `json:"to_num,omitempty"`
	Type     string     `json:"type"`
	TypeCode EdgeType   `json:"type_code"`
}

// ToSerializable converts a Graph to its JSON-serializable representation.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{SchemaVersion: GraphSchemaVersion}
	}

	ids := g.Nodes()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Num < ids[j].Num })

	nodes := make([]SerializableNode, 0, len(ids))
	for _, id := range ids {
		node, _ := g.GetNode(id)
		nodes = append(nodes, SerializableNode{ID: node.ID, Call: node.Call})
	}

	edges := make([]SerializableEdge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, SerializableEdge{
			FromKind: e.From.Kind, FromNum: e.From.Num,
			ToKind: e.To.Kind, ToNum: e.To.Num,
			Type: e.Type.String(), TypeCode: e.Type,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].FromNum != edges[j].FromNum {
			return edges[i].FromNum < edges[j].FromNum
		}
		if edges[i].ToNum != edges[j].ToNum {
			return edges[i].ToNum < edges[j].ToNum
		}
		return edges[i].TypeCode < edges[j].TypeCode
	})

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		SourceLabel:   g.SourceLabel,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Nodes:         nodes,
		Edges:         edges,
	}
}

// FromSerializable reconstructs a Graph, reusing AddNode/AddEdge so the
// secondary indexes stay consistent with ordinary construction.
func FromSerializable(sg *SerializableGraph, opts ...GraphOption) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("iograph: serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("iograph: unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewGraph(sg.SourceLabel, opts...)
	for i := range sg.Nodes {
		sn := sg.Nodes[i]
		node := &iomodel.CallsNode{ID: sn.ID, Call: sn.Call}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("iograph: adding node %d: %w", sn.ID, err)
		}
	}
	for i, se := range sg.Edges {
		from := NodeID{Kind: se.FromKind, Num: se.FromNum}
		to := NodeID{Kind: se.ToKind, Num: se.ToNum}
		if err := g.AddEdge(from, to, se.TypeCode); err != nil {
			return nil, fmt.Errorf("iograph: adding edge %d (%s -> %s): %w", i, from, to, err)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli
	return g, nil
}
