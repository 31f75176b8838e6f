// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compare

import (
	"context"
	"sort"

	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/iomodel"
)

// Branch is a sub-view of a Graph rooted at a direct FOLLOW child of entry:
// shared node storage, no copy (spec §9 "branch as subgraph view"). In a
// language without cheap sub-views the branch is represented as a
// (graph, node-id-set) pair and navigated by reachability, never copied out
// of its parent graph.
type Branch struct {
	Graph *iograph.Graph
	Root  iograph.NodeID
	Nodes []iograph.NodeID // root first, then reachable nodes in BFS order
	Type  iomodel.IOConstructType

	adj map[iograph.NodeID][]iograph.NodeID // lazily built, see adjacency()
}

// nodeConstructType is the representative IOConstructType of a single node:
// the maximum (per §3 ordering) over its input descriptor and all output
// descriptors.
func nodeConstructType(node *iomodel.CallsNode) iomodel.IOConstructType {
	typ := iomodel.Unknown
	if fd := node.InputFD(); fd != nil {
		typ = iomodel.Max(typ, fd.Typ)
	}
	for _, fd := range node.OutputFD() {
		if fd != nil {
			typ = iomodel.Max(typ, fd.Typ)
		}
	}
	return typ
}

// ExtractBranches partitions a Graph into branches per spec §4.5: every
// direct FOLLOW child of entry seeds a branch, and the branch is the
// subgraph induced by that child and everything reachable from it via
// directed neighbours (any edge type).
func ExtractBranches(g *iograph.Graph) []*Branch {
	var roots []iograph.NodeID
	edges := g.Edges()
	for _, idx := range g.OutEdges(iograph.EntryNodeID) {
		e := edges[idx]
		if e.Type == iograph.EdgeFollow {
			roots = append(roots, e.To)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Num < roots[j].Num })

	branches := make([]*Branch, 0, len(roots))
	for _, root := range roots {
		branches = append(branches, buildBranch(g, root))
	}
	return branches
}

func buildBranch(g *iograph.Graph, root iograph.NodeID) *Branch {
	edges := g.Edges()
	visited := map[iograph.NodeID]bool{root: true}
	order := []iograph.NodeID{root}
	queue := []iograph.NodeID{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, idx := range g.OutEdges(cur) {
			e := edges[idx]
			if e.To.IsEntry() || visited[e.To] {
				continue
			}
			visited[e.To] = true
			order = append(order, e.To)
			queue = append(queue, e.To)
		}
	}

	maxType := iomodel.Unknown
	for _, id := range order {
		if node, ok := g.GetNode(id); ok {
			maxType = iomodel.Max(maxType, nodeConstructType(node))
		}
	}

	return &Branch{Graph: g, Root: root, Nodes: order, Type: maxType}
}

// adjacency lazily builds the branch's internal undirected adjacency list
// (FOLLOW and NEST edges, restricted to nodes within the branch), used by
// hopDistance for the structural distortion penalty.
func (b *Branch) adjacency() map[iograph.NodeID][]iograph.NodeID {
	if b.adj != nil {
		return b.adj
	}
	inBranch := make(map[iograph.NodeID]bool, len(b.Nodes))
	for _, id := range b.Nodes {
		inBranch[id] = true
	}

	adj := make(map[iograph.NodeID][]iograph.NodeID, len(b.Nodes))
	for _, id := range b.Nodes {
		var neighbors []iograph.NodeID
		for _, typ := range []iograph.EdgeType{iograph.EdgeFollow, iograph.EdgeNest} {
			for _, n := range b.Graph.Neighbors(id, typ) {
				if inBranch[n] {
					neighbors = append(neighbors, n)
				}
			}
		}
		adj[id] = neighbors
	}
	b.adj = adj
	return adj
}

// hopDistance returns the shortest-path hop count between from and to in
// the branch's undirected view, or -1 if they are not connected (should not
// happen within a single branch, but guarded defensively).
func (b *Branch) hopDistance(from, to iograph.NodeID) int {
	if from == to {
		return 0
	}
	adj := b.adjacency()
	visited := map[iograph.NodeID]bool{from: true}
	queue := []iograph.NodeID{from}
	dist := map[iograph.NodeID]int{from: 0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range adj[cur] {
			if visited[n] {
				continue
			}
			visited[n] = true
			dist[n] = dist[cur] + 1
			if n == to {
				return dist[n]
			}
			queue = append(queue, n)
		}
	}
	return -1
}

// NodeMatch is one entry of a BranchComparator result: a matched
// (d_node, t_node) pair, or a one-sided entry when no counterpart exists.
type NodeMatch struct {
	DID   iograph.NodeID
	TID   iograph.NodeID
	HasD  bool
	HasT  bool
	Score int
	Diff  iomodel.DiffInfo
}

// BranchComparatorOption configures a BranchComparator at construction.
type BranchComparatorOption func(*BranchComparator)

// WithStructuralPenaltyScale overrides the structural distortion penalty's
// multiplier (spec §9: "multiplication by 2... is a tuning knob; expose it
// as a parameter"). Default 2.
func WithStructuralPenaltyScale(scale float64) BranchComparatorOption {
	return func(bc *BranchComparator) { bc.penaltyScale = scale }
}

// BranchComparator implements spec §4.4: node-level maximum-weight
// bipartite assignment between two branches, plus a structural distortion
// penalty that punishes matches which preserve function labels but
// scramble topology.
type BranchComparator struct {
	comparator   *iomodel.Comparator
	solver       AssignmentSolver
	penaltyScale float64
}

// NewBranchComparator builds a BranchComparator over the given call
// comparator and assignment solver.
func NewBranchComparator(comparator *iomodel.Comparator, solver AssignmentSolver, opts ...BranchComparatorOption) *BranchComparator {
	bc := &BranchComparator{comparator: comparator, solver: solver, penaltyScale: 2}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Compare scores two branches, either of which may be nil to represent an
// unmatched branch (spec §4.4 edge cases). The returned score follows
// match_avg - structural_penalty when both branches are present; when one
// side is nil the score is reported as 0 by convention (callers computing
// the branch-level mean treat a missing counterpart's cost as 0 directly,
// per spec §4.5, rather than using this return value) and matches contains
// only one-sided NodeMatch entries.
func (bc *BranchComparator) Compare(ctx context.Context, d, t *Branch) (float64, []NodeMatch, error) {
	switch {
	case d == nil && t == nil:
		return 0, nil, nil
	case d == nil:
		return 0, bc.onesidedMatches(nil, t), nil
	case t == nil:
		return 0, bc.onesidedMatches(d, nil), nil
	}

	dNodes, tNodes := d.Nodes, t.Nodes
	weights := make(map[Pair]float64, len(dNodes)*len(tNodes))
	calls := make(map[Pair]iomodel.DiffInfo, len(dNodes)*len(tNodes))

	for i, dID := range dNodes {
		dNode, _ := d.Graph.GetNode(dID)
		for j, tID := range tNodes {
			tNode, _ := t.Graph.GetNode(tID)
			score, diff := bc.comparator.Compare(&dNode.Call, &tNode.Call)
			weights[Pair{I: i, J: j}] = float64(score)
			calls[Pair{I: i, J: j}] = diff
		}
	}

	left := indexRange(len(dNodes))
	right := indexRange(len(tNodes))
	assignment, status, err := bc.solver.Solve(ctx, weights, left, right)
	if err != nil || (status != StatusOptimal && status != StatusFeasible) {
		return 0, nil, &AssignmentSolverError{Stage: "node", Status: status, Cause: err}
	}

	var matches []NodeMatch
	matchedD := make(map[int]bool, len(dNodes))
	matchedT := make(map[int]bool, len(tNodes))
	objective := 0.0

	type pairIdx struct{ i, j int }
	var pairs []pairIdx
	for pair, chosen := range assignment {
		if chosen {
			pairs = append(pairs, pairIdx{pair.I, pair.J})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	for _, pr := range pairs {
		w := weights[Pair{I: pr.i, J: pr.j}]
		objective += w
		matchedD[pr.i] = true
		matchedT[pr.j] = true
		matches = append(matches, NodeMatch{
			DID: dNodes[pr.i], TID: tNodes[pr.j], HasD: true, HasT: true,
			Score: int(w), Diff: calls[Pair{I: pr.i, J: pr.j}],
		})
	}

	for i, dID := range dNodes {
		if matchedD[i] {
			continue
		}
		dNode, _ := d.Graph.GetNode(dID)
		_, diff := bc.comparator.Compare(&dNode.Call, nil)
		matches = append(matches, NodeMatch{DID: dID, HasD: true, Score: 0, Diff: diff})
	}
	for j, tID := range tNodes {
		if matchedT[j] {
			continue
		}
		tNode, _ := t.Graph.GetNode(tID)
		_, diff := bc.comparator.Compare(nil, &tNode.Call)
		matches = append(matches, NodeMatch{TID: tID, HasT: true, Score: 0, Diff: diff})
	}

	denom := len(dNodes)
	if len(tNodes) > denom {
		denom = len(tNodes)
	}
	matchAvg := 0.0
	if denom > 0 {
		matchAvg = objective / float64(denom)
	}

	penalty := 0.0
	for a := 0; a < len(pairs); a++ {
		for b := a + 1; b < len(pairs); b++ {
			distD := d.hopDistance(dNodes[pairs[a].i], dNodes[pairs[b].i])
			distT := t.hopDistance(tNodes[pairs[a].j], tNodes[pairs[b].j])
			if distD < 0 || distT < 0 {
				continue
			}
			diff := distD - distT
			if diff < 0 {
				diff = -diff
			}
			penalty += float64(diff)
		}
	}
	penalty *= bc.penaltyScale

	return matchAvg - penalty, matches, nil
}

// onesidedMatches builds the NodeMatch list for a branch with no
// counterpart: every node on the present side compares against an absent
// operand.
func (bc *BranchComparator) onesidedMatches(d, t *Branch) []NodeMatch {
	var matches []NodeMatch
	if d != nil {
		for _, id := range d.Nodes {
			node, _ := d.Graph.GetNode(id)
			_, diff := bc.comparator.Compare(&node.Call, nil)
			matches = append(matches, NodeMatch{DID: id, HasD: true, Score: 0, Diff: diff})
		}
	}
	if t != nil {
		for _, id := range t.Nodes {
			node, _ := t.Graph.GetNode(id)
			_, diff := bc.comparator.Compare(nil, &node.Call)
			matches = append(matches, NodeMatch{TID: id, HasT: true, Score: 0, Diff: diff})
		}
	}
	return matches
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
