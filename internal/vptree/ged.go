// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vptree indexes trusted graphs with a vantage-point tree keyed by
// graph-edit distance, so a dirty graph can be pruned down to its k nearest
// trusted candidates before the expensive DeepGraphComparator pass (spec
// §4.7). The index is orthogonal to internal/compare: it trades GED's
// exactness for pruning speed and never consumes a DeepGraphComparator
// result.
package vptree

import (
	"context"
	"sort"

	"github.com/themis-project/themis/internal/compare"
	"github.com/themis-project/themis/internal/iograph"
)

// GED approximates graph-edit distance between two I/O interaction graphs,
// grounded on original_source/themis/comparing/ged.py's node_comparator but
// simplified per spec §4.7: node equality uses only the `func` attribute
// (the original also compared descriptor types; we follow the spec text,
// which is authoritative over the original's finer-grained comparison),
// and edges compare by `type` alone.
//
// Exact graph-edit distance is NP-hard; this computes a maximum-cardinality
// node correspondence (reusing compare.HungarianSolver to prefer
// equal-function pairings over mismatched ones) and then counts the node
// substitutions/insertions/deletions and edge insertions/deletions implied
// by that correspondence. This is a one-shot approximation, not iterative
// refinement, matching spec §4.7's "trades exactness for pruning".
//
// The resulting distance is symmetric by construction (the correspondence
// and both cost terms are computed the same way regardless of argument
// order), which means the NormalizedGED asymmetry check in normalized.go
// always evaluates to 0 here — documented in DESIGN.md rather than
// papering over it with a fabricated directional bias.
func GED(g1, g2 *iograph.Graph) float64 {
	// Graph.Nodes() iterates insertion order, which is deterministic within
	// a single build but not guaranteed comparable across two independently
	// built graphs; sort both so the node correspondence below (and thus
	// the resulting distance) doesn't depend on build-time node ordering.
	nodes1 := sortedNodeIDs(g1.Nodes())
	nodes2 := sortedNodeIDs(g2.Nodes())

	weights := make(map[compare.Pair]float64, len(nodes1)*len(nodes2))
	for i, id1 := range nodes1 {
		n1, _ := g1.GetNode(id1)
		for j, id2 := range nodes2 {
			n2, _ := g2.GetNode(id2)
			if n1.Func().Name == n2.Func().Name {
				weights[compare.Pair{I: i, J: j}] = 1
			} else {
				weights[compare.Pair{I: i, J: j}] = 0
			}
		}
	}

	left := make([]int, len(nodes1))
	for i := range left {
		left[i] = i
	}
	right := make([]int, len(nodes2))
	for j := range right {
		right[j] = j
	}

	solver := compare.NewHungarianSolver()
	assignment, _, err := solver.Solve(context.Background(), weights, left, right)
	if err != nil {
		// The Hungarian solver never actually fails on a finite weight
		// matrix; treat an error defensively as "no correspondence found"
		// rather than propagating a panic into an indexing path.
		assignment = map[compare.Pair]bool{}
	}

	mapping := make(map[iograph.NodeID]iograph.NodeID, len(assignment)+1)
	// The synthetic entry node is not part of the node assignment but is
	// the source of every top-level FOLLOW edge; it always corresponds to
	// the other graph's entry.
	mapping[iograph.EntryNodeID] = iograph.EntryNodeID
	matchedEqual := 0
	matchedCount := 0
	for pair, chosen := range assignment {
		if !chosen {
			continue
		}
		matchedCount++
		mapping[nodes1[pair.I]] = nodes2[pair.J]
		if weights[pair] == 1 {
			matchedEqual++
		}
	}

	substitutions := matchedCount - matchedEqual
	unmatched := abs(len(nodes1)-len(nodes2))
	// Any node left unmatched because the smaller side ran out of partners
	// costs one insertion/deletion; the Hungarian solver above already
	// matches min(len(nodes1), len(nodes2)) pairs whenever doing so is at
	// least as good as leaving both sides unmatched, which the tie-break
	// nudge in compare.HungarianSolver guarantees.
	nodeCost := float64(substitutions + unmatched)

	edges1 := g1.Edges()
	edges2 := g2.Edges()
	edgeSet2 := make(map[string]bool, len(edges2))
	for _, e := range edges2 {
		edgeSet2[edgeKey(e.From, e.To, e.Type)] = true
	}

	shared := 0
	for _, e := range edges1 {
		to1, ok1 := mapping[e.From]
		to2, ok2 := mapping[e.To]
		if !ok1 || !ok2 {
			continue
		}
		if edgeSet2[edgeKey(to1, to2, e.Type)] {
			shared++
		}
	}
	edgeCost := float64(len(edges1) + len(edges2) - 2*shared)

	return nodeCost + edgeCost
}

func edgeKey(from, to iograph.NodeID, typ iograph.EdgeType) string {
	return from.String() + "->" + to.String() + ":" + typ.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// sortedNodeIDs returns a deterministically ordered copy of ids, so that
// two calls to GED over the same pair of graphs always build the same
// weight matrix regardless of each Graph's internal insertion order.
func sortedNodeIDs(ids []iograph.NodeID) []iograph.NodeID {
	out := append([]iograph.NodeID(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Num < out[j].Num
	})
	return out
}
