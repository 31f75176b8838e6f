// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package iograph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/ioparser"
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

func TestGrapher_OpenCloseChain(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"read(fd=0x3, retval=0x10)",
		"close(fd=0x3, retval=0x0)",
	}, "\n")

	g := buildGraph(t, trace)
	if g.NodeCount() != 3 {
		t.Fatalf("got %d nodes, want 3", g.NodeCount())
	}

	edges := g.Edges()
	followCount := 0
	for _, e := range edges {
		if e.Type == iograph.EdgeFollow {
			followCount++
		}
	}
	// entry->open, open->read, read->close: three FOLLOW edges chained on
	// fd 3.
	if followCount != 3 {
		t.Errorf("got %d FOLLOW edges, want 3", followCount)
	}

	nodes := g.Nodes()
	openID, readID, closeID := nodes[0], nodes[1], nodes[2]
	wantFollows := map[string]bool{
		iograph.EntryNodeID.String() + "->" + openID.String():  true,
		openID.String() + "->" + readID.String():               true,
		readID.String() + "->" + closeID.String():               true,
	}
	for _, e := range edges {
		if e.Type != iograph.EdgeFollow {
			continue
		}
		key := e.From.String() + "->" + e.To.String()
		if !wantFollows[key] {
			t.Errorf("unexpected FOLLOW edge %s", key)
		}
		delete(wantFollows, key)
	}
	if len(wantFollows) != 0 {
		t.Errorf("missing expected FOLLOW edges: %v", wantFollows)
	}
}

func TestGrapher_ReopenAfterCloseStartsFreshChain(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"close(fd=0x3, retval=0x0)",
		"open(path=/tmp/b.txt, flags=0x0, retval=0x3)",
		"read(fd=0x3, retval=0x8)",
	}, "\n")

	g := buildGraph(t, trace)
	nodes := g.Nodes()
	if len(nodes) != 4 {
		t.Fatalf("got %d nodes, want 4", len(nodes))
	}
	secondOpenID := nodes[2]

	foundEntryToSecondOpen := false
	for _, e := range g.Edges() {
		if e.Type == iograph.EdgeFollow && e.From == iograph.EntryNodeID && e.To == secondOpenID {
			foundEntryToSecondOpen = true
		}
	}
	if !foundEntryToSecondOpen {
		t.Error("expected the second open (after the close reset fd 3) to chain from entry, not from the first open/close pair")
	}
}

func TestGraph_HashIsDeterministic(t *testing.T) {
	trace := "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)"
	g1 := buildGraph(t, trace)
	g2 := buildGraph(t, trace)
	if g1.Hash() != g2.Hash() {
		t.Errorf("Hash() not deterministic: %s != %s", g1.Hash(), g2.Hash())
	}
}
