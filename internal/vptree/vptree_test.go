// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vptree_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/ioparser"
	"github.com/themis-project/themis/internal/vptree"
)

func buildGraph(t *testing.T, trace string) *iograph.Graph {
	t.Helper()
	p := ioparser.NewParser()
	nodes, nestEdges, err := p.Parse(context.Background(), strings.NewReader(trace))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	g, err := iograph.NewGrapher().Build(context.Background(), "test-binary", nodes, nestEdges)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestGED_SelfDistanceIsZero(t *testing.T) {
	g := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	if d := vptree.GED(g, g); d != 0 {
		t.Errorf("GED(g, g) = %v, want 0", d)
	}
}

func TestGED_DisjointFunctionsCostsBothNodesAndEdges(t *testing.T) {
	a := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	b := buildGraph(t, "socket(domain=0x2, type=0x1, retval=0x4)\nshutdown(fd=0x4, how=0x2, retval=0x0)")
	d := vptree.GED(a, b)
	if d <= 0 {
		t.Errorf("GED(a, b) = %v, want > 0 for disjoint function sets", d)
	}
}

func TestNormalizedGED_SymmetricApproximationAlwaysZero(t *testing.T) {
	a := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	b := buildGraph(t, "socket(domain=0x2, type=0x1, retval=0x4)\nshutdown(fd=0x4, how=0x2, retval=0x0)")
	if d := vptree.NormalizedGED(a, b); d != 0 {
		t.Errorf("NormalizedGED(a, b) = %v, want 0 (GED here is symmetric by construction)", d)
	}
}

func TestTree_QueryFindsExactMatch(t *testing.T) {
	same := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	other := buildGraph(t, "socket(domain=0x2, type=0x1, retval=0x4)\nshutdown(fd=0x4, how=0x2, retval=0x0)")
	third := buildGraph(t, "open(path=/tmp/b.txt, flags=0x0, retval=0x5)\nread(fd=0x5, retval=0x8)\nclose(fd=0x5, retval=0x0)")

	items := []vptree.Item[*iograph.Graph]{
		{Label: "same", Value: same},
		{Label: "other", Value: other},
		{Label: "third", Value: third},
	}
	tree := vptree.Build(items, vptree.RawGED)

	query := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	neighbors := tree.Query(query, 1)
	if len(neighbors) != 1 {
		t.Fatalf("got %d neighbors, want 1", len(neighbors))
	}
	if neighbors[0].Item.Label != "same" {
		t.Errorf("nearest neighbor = %q, want %q", neighbors[0].Item.Label, "same")
	}
	if neighbors[0].Distance != 0 {
		t.Errorf("nearest distance = %v, want 0", neighbors[0].Distance)
	}
}

func TestTree_QueryReturnsAscendingDistances(t *testing.T) {
	g1 := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	g2 := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nread(fd=0x3, retval=0x8)\nclose(fd=0x3, retval=0x0)")
	g3 := buildGraph(t, "socket(domain=0x2, type=0x1, retval=0x4)\nshutdown(fd=0x4, how=0x2, retval=0x0)")

	items := []vptree.Item[*iograph.Graph]{
		{Label: "g1", Value: g1},
		{Label: "g2", Value: g2},
		{Label: "g3", Value: g3},
	}
	tree := vptree.Build(items, vptree.RawGED)

	neighbors := tree.Query(g1, 3)
	if len(neighbors) != 3 {
		t.Fatalf("got %d neighbors, want 3", len(neighbors))
	}
	for i := 1; i < len(neighbors); i++ {
		if neighbors[i].Distance < neighbors[i-1].Distance {
			t.Errorf("neighbors not sorted ascending: %v before %v", neighbors[i-1], neighbors[i])
		}
	}
	if neighbors[0].Item.Label != "g1" {
		t.Errorf("nearest = %q, want g1 (exact self-match)", neighbors[0].Item.Label)
	}
}

func TestTree_QueryKLargerThanCorpusReturnsAll(t *testing.T) {
	g1 := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	items := []vptree.Item[*iograph.Graph]{{Label: "g1", Value: g1}}
	tree := vptree.Build(items, vptree.RawGED)

	neighbors := tree.Query(g1, 10)
	if len(neighbors) != 1 {
		t.Fatalf("got %d neighbors, want 1 (corpus size)", len(neighbors))
	}
}

func TestTree_EmptyCorpusQueryReturnsNothing(t *testing.T) {
	tree := vptree.Build([]vptree.Item[*iograph.Graph](nil), vptree.RawGED)
	g := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)")
	if neighbors := tree.Query(g, 5); len(neighbors) != 0 {
		t.Errorf("got %d neighbors from an empty tree, want 0", len(neighbors))
	}
}

func TestGED_IsNonNegative(t *testing.T) {
	a := buildGraph(t, "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nread(fd=0x3, retval=0x8)\nclose(fd=0x3, retval=0x0)")
	b := buildGraph(t, "open(path=/tmp/b.txt, flags=0x1, retval=0x9)\nclose(fd=0x9, retval=0x0)")
	if d := vptree.GED(a, b); d < 0 || math.IsNaN(d) {
		t.Errorf("GED(a, b) = %v, want a non-negative finite distance", d)
	}
}
