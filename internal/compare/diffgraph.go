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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/iomodel"
)

// DiffNodeType classifies one matched-pair node in a DiffGraph (spec §4.6).
type DiffNodeType int

const (
	DiffMatching DiffNodeType = iota
	DiffMiscellaneousMismatch
	DiffFunctionMismatchWeak
	DiffFunctionMismatchStrong
	DiffMissing
	DiffExcessive
)

func (t DiffNodeType) String() string {
	switch t {
	case DiffMatching:
		return "MATCHING"
	case DiffMiscellaneousMismatch:
		return "MISCELLANEOUS_MISMATCH"
	case DiffFunctionMismatchWeak:
		return "FUNCTION_MISMATCH_WEAK"
	case DiffFunctionMismatchStrong:
		return "FUNCTION_MISMATCH_STRONG"
	case DiffMissing:
		return "MISSING"
	default:
		return "EXCESSIVE"
	}
}

// DiffEdgeKind classifies one edge between two DiffNodes (spec §4.6).
type DiffEdgeKind int

const (
	DiffEdgeMatching DiffEdgeKind = iota
	DiffEdgeTypeMismatch
	DiffEdgeMissing
	DiffEdgeExcessive
)

func (k DiffEdgeKind) String() string {
	switch k {
	case DiffEdgeMatching:
		return "MATCHING"
	case DiffEdgeTypeMismatch:
		return "TYPE_MISMATCH"
	case DiffEdgeMissing:
		return "MISSING"
	default:
		return "EXCESSIVE"
	}
}

// DiffNode is one node of the difference graph: a matched pair of
// (dirty, trusted) call nodes, either of which may be absent.
type DiffNode struct {
	DID        *iograph.NodeID
	TID        *iograph.NodeID
	Type       DiffNodeType
	FuncA      string
	FuncB      string
	FuncResult iomodel.FunctionComparisonResult
	IndexA     int
	IndexB     int
	Score      int
	Args       map[string]iomodel.ArgDiff
}

// key renders the spec §6 difference-graph node id: the string
// "(d_id, t_id)" with either side rendered "None" when absent.
func (n DiffNode) key() string {
	d, t := "None", "None"
	if n.DID != nil {
		d = n.DID.String()
	}
	if n.TID != nil {
		t = n.TID.String()
	}
	return fmt.Sprintf("(%s, %s)", d, t)
}

// DiffEdge is one edge of the difference graph between two DiffNode keys.
type DiffEdge struct {
	From, To string
	Kind     DiffEdgeKind
	RoleD    []string // dirty-graph edge types observed between these nodes
	RoleT    []string // trusted-graph edge types observed between these nodes
}

// DiffGraph is the merged, labelled difference graph produced by
// DeepGraphComparator.Compare: spec §4.6.
type DiffGraph struct {
	Nodes []DiffNode
	Edges []DiffEdge
}

// BuildDiffGraph merges a ComparisonResult's branch assignments into a
// single labelled difference graph per spec §4.6.
func BuildDiffGraph(result *ComparisonResult) *DiffGraph {
	dg := &DiffGraph{}

	for _, assignment := range result.Assignments {
		for _, m := range assignment.Matches {
			dg.Nodes = append(dg.Nodes, diffNodeFromMatch(m))
		}
	}

	sort.Slice(dg.Nodes, func(i, j int) bool { return dg.Nodes[i].key() < dg.Nodes[j].key() })

	for i := range dg.Nodes {
		for j := range dg.Nodes {
			if i == j {
				continue
			}
			n1, n2 := dg.Nodes[i], dg.Nodes[j]
			edge, ok := diffEdgeBetween(result.DirtyGraph, result.TrustGraph, n1, n2)
			if ok {
				dg.Edges = append(dg.Edges, edge)
			}
		}
	}

	return dg
}

func diffNodeFromMatch(m NodeMatch) DiffNode {
	node := DiffNode{
		FuncA: m.Diff.FuncA, FuncB: m.Diff.FuncB, FuncResult: m.Diff.FuncResult,
		IndexA: m.Diff.IndexA, IndexB: m.Diff.IndexB, Score: m.Score, Args: m.Diff.Args,
	}
	if m.HasD {
		id := m.DID
		node.DID = &id
	}
	if m.HasT {
		id := m.TID
		node.TID = &id
	}

	switch {
	case !m.HasD:
		node.Type = DiffMissing
	case !m.HasT:
		node.Type = DiffExcessive
	case m.Diff.FuncResult == iomodel.FuncEquivClass:
		node.Type = DiffFunctionMismatchWeak
	case m.Diff.FuncResult == iomodel.FuncDifferent:
		node.Type = DiffFunctionMismatchStrong
	default:
		node.Type = DiffMatching
		for _, argDiff := range m.Diff.Args {
			if argDiff.Status != iomodel.ArgMatching {
				node.Type = DiffMiscellaneousMismatch
				break
			}
		}
	}
	return node
}

// diffEdgeBetween implements spec §4.6's four-way edge-outcome table for
// one ordered pair of difference-graph nodes.
func diffEdgeBetween(dirty, trusted *iograph.Graph, n1, n2 DiffNode) (DiffEdge, bool) {
	var roleD, roleT []string
	if n1.DID != nil && n2.DID != nil {
		roleD = edgeTypeNames(dirty, *n1.DID, *n2.DID)
	}
	if n1.TID != nil && n2.TID != nil {
		roleT = edgeTypeNames(trusted, *n1.TID, *n2.TID)
	}

	if len(roleD) == 0 && len(roleT) == 0 {
		return DiffEdge{}, false
	}

	edge := DiffEdge{From: n1.key(), To: n2.key(), RoleD: roleD, RoleT: roleT}
	switch {
	case len(roleD) > 0 && len(roleT) == 0:
		edge.Kind = DiffEdgeExcessive
	case len(roleD) == 0 && len(roleT) > 0:
		edge.Kind = DiffEdgeMissing
	case sameStringSet(roleD, roleT):
		edge.Kind = DiffEdgeMatching
	default:
		edge.Kind = DiffEdgeTypeMismatch
	}
	return edge, true
}

func edgeTypeNames(g *iograph.Graph, from, to iograph.NodeID) []string {
	seen := make(map[string]bool)
	var out []string
	edges := g.Edges()
	for _, idx := range g.OutEdges(from) {
		e := edges[idx]
		if e.To == to && !seen[e.Type.String()] {
			seen[e.Type.String()] = true
			out = append(out, e.Type.String())
		}
	}
	sort.Strings(out)
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// nodeLinkJSON is the JSON node-link representation of a DiffGraph (spec
// §6: "Difference graph output... JSON node-link").
type nodeLinkJSON struct {
	Directed   bool                 `json:"directed"`
	Multigraph bool                 `json:"multigraph"`
	Nodes      []nodeLinkNodeJSON   `json:"nodes"`
	Links      []nodeLinkEdgeJSON   `json:"links"`
}

type nodeLinkNodeJSON struct {
	ID         string                        `json:"id"`
	Type       string                        `json:"type"`
	Func       [3]string                     `json:"func"`
	Time       [2]int                        `json:"time"`
	Score      int                           `json:"score"`
	Args       map[string]nodeLinkArgJSON    `json:"args,omitempty"`
}

type nodeLinkArgJSON struct {
	Status string `json:"status"`
	ValueA string `json:"value_d"`
	ValueB string `json:"value_t"`
}

type nodeLinkEdgeJSON struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   string   `json:"kind"`
	RoleD  []string `json:"role_d,omitempty"`
	RoleT  []string `json:"role_t,omitempty"`
}

// MarshalJSON renders the DiffGraph as a JSON node-link document, written
// to result_dir/<dirty_exec>_vs_<trusted_exec>.json per spec §6.
func (dg *DiffGraph) MarshalJSON() ([]byte, error) {
	doc := nodeLinkJSON{Directed: true, Multigraph: false}
	for _, n := range dg.Nodes {
		args := make(map[string]nodeLinkArgJSON, len(n.Args))
		for k, v := range n.Args {
			args[k] = nodeLinkArgJSON{Status: v.Status.String(), ValueA: v.ValueA, ValueB: v.ValueB}
		}
		doc.Nodes = append(doc.Nodes, nodeLinkNodeJSON{
			ID:    n.key(),
			Type:  n.Type.String(),
			Func:  [3]string{n.FuncA, n.FuncB, n.FuncResult.String()},
			Time:  [2]int{n.IndexA, n.IndexB},
			Score: n.Score,
			Args:  args,
		})
	}
	for _, e := range dg.Edges {
		doc.Links = append(doc.Links, nodeLinkEdgeJSON{
			Source: e.From, Target: e.To, Kind: e.Kind.String(), RoleD: e.RoleD, RoleT: e.RoleT,
		})
	}
	return json.Marshal(doc)
}
