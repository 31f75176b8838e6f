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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/themis-project/themis/internal/iomodel"
)

// Default capacity limits, overridable via GraphOption. A trace producing
// more nodes or edges than these limits aborts the build rather than
// silently truncating (spec §4.3 failure modes).
const (
	DefaultMaxNodes = 2_000_000
	DefaultMaxEdges = 8_000_000
)

// GraphOption configures a Graph at construction time.
type GraphOption func(*Graph)

// WithMaxNodes overrides the node-count ceiling.
func WithMaxNodes(n int) GraphOption {
	return func(g *Graph) { g.maxNodes = n }
}

// WithMaxEdges overrides the edge-count ceiling.
func WithMaxEdges(n int) GraphOption {
	return func(g *Graph) { g.maxEdges = n }
}

// Graph is the I/O interaction graph: one node per observed library call
// (plus the synthetic entry node), and FOLLOW/NEST/TIME edges between them.
//
// Thread Safety: a Graph under construction (before Freeze) must only be
// touched by one goroutine; a frozen Graph is safe for concurrent reads.
type Graph struct {
	// SourceLabel identifies what this graph traces: the binary path or
	// corpus entry name it was built from (mirrors the teacher's
	// Graph.ProjectRoot field, repurposed to Themis's domain).
	SourceLabel string

	// BuiltAtMilli is the Unix timestamp in milliseconds when Freeze was
	// called.
	BuiltAtMilli int64

	nodes    map[NodeID]*iomodel.CallsNode
	order    []NodeID
	edges    []Edge
	outEdges map[NodeID][]int
	inEdges  map[NodeID][]int

	maxNodes int
	maxEdges int
	frozen   bool
}

// NewGraph constructs an empty, unfrozen Graph carrying the given source
// label (e.g. the dirty binary's path).
func NewGraph(sourceLabel string, opts ...GraphOption) *Graph {
	g := &Graph{
		SourceLabel: sourceLabel,
		nodes:       make(map[NodeID]*iomodel.CallsNode),
		outEdges:    make(map[NodeID][]int),
		inEdges:     make(map[NodeID][]int),
		maxNodes:    DefaultMaxNodes,
		maxEdges:    DefaultMaxEdges,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.nodes[EntryNodeID] = nil
	g.order = append(g.order, EntryNodeID)
	return g
}

// AddNode registers a CallsNode under its NodeID. Returns an error if the
// graph is frozen, the node count would exceed maxNodes, or the id is
// already present.
func (g *Graph) AddNode(node *iomodel.CallsNode) error {
	if g.frozen {
		return fmt.Errorf("iograph: cannot add node to a frozen graph")
	}
	id := NumNodeID(node.ID)
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("iograph: node %s already exists", id)
	}
	if len(g.nodes) >= g.maxNodes {
		return fmt.Errorf("iograph: node count would exceed limit of %d", g.maxNodes)
	}
	g.nodes[id] = node
	g.order = append(g.order, id)
	return nil
}

// AddEdge appends a typed edge between two nodes already present in the
// graph (the synthetic entry node always counts as present). Returns an
// error if the graph is frozen, either endpoint is unknown, or the edge
// count would exceed maxEdges.
func (g *Graph) AddEdge(from, to NodeID, typ EdgeType) error {
	if g.frozen {
		return fmt.Errorf("iograph: cannot add edge to a frozen graph")
	}
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("iograph: edge source %s not in graph", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("iograph: edge target %s not in graph", to)
	}
	if len(g.edges) >= g.maxEdges {
		return fmt.Errorf("iograph: edge count would exceed limit of %d", g.maxEdges)
	}
	idx := len(g.edges)
	g.edges = append(g.edges, Edge{From: from, To: to, Type: typ})
	g.outEdges[from] = append(g.outEdges[from], idx)
	g.inEdges[to] = append(g.inEdges[to], idx)
	return nil
}

// Freeze finalizes the graph: no further AddNode/AddEdge calls are
// permitted. Idempotent.
func (g *Graph) Freeze() {
	g.frozen = true
}

// Frozen reports whether the graph has been finalized.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// GetNode returns the CallsNode for a concrete NodeID, or ok=false if id
// is the entry node or absent. Per spec §3, the entry node carries no
// IOCall payload.
func (g *Graph) GetNode(id NodeID) (*iomodel.CallsNode, bool) {
	node, ok := g.nodes[id]
	return node, ok && node != nil
}

// Nodes returns every concrete NodeID in insertion order (the entry node
// excluded).
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.order))
	for _, id := range g.order {
		if !id.IsEntry() {
			out = append(out, id)
		}
	}
	return out
}

// Edges returns a copy of the graph's edge list.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of concrete (non-entry) nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes) - 1
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// OutEdges returns the indices into Edges() of edges leaving id.
func (g *Graph) OutEdges(id NodeID) []int {
	return g.outEdges[id]
}

// InEdges returns the indices into Edges() of edges arriving at id.
func (g *Graph) InEdges(id NodeID) []int {
	return g.inEdges[id]
}

// Neighbors returns the distinct NodeIDs reachable from id by one edge of
// typ, ignoring edge direction. Used by the structural-distance computation
// in internal/compare (spec §4.4).
func (g *Graph) Neighbors(id NodeID, typ EdgeType) []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for _, idx := range g.outEdges[id] {
		e := g.edges[idx]
		if e.Type == typ && !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	for _, idx := range g.inEdges[id] {
		e := g.edges[idx]
		if e.Type == typ && !seen[e.From] {
			seen[e.From] = true
			out = append(out, e.From)
		}
	}
	return out
}

// Hash returns a deterministic content hash of the graph's structure:
// sorted node ids and edges, hashed with SHA-256. Two graphs built from
// byte-identical traces hash identically regardless of map iteration order
// (mirrors the teacher's ToSerializable-then-hash pattern).
func (g *Graph) Hash() string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)

	edgeKeys := make([]string, 0, len(g.edges))
	for _, e := range g.edges {
		edgeKeys = append(edgeKeys, fmt.Sprintf("%s->%s:%s", e.From, e.To, e.Type))
	}
	sort.Strings(edgeKeys)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	for _, k := range edgeKeys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
