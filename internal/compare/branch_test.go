// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compare_test

import (
	"context"
	"strings"
	"testing"

	"github.com/themis-project/themis/internal/compare"
	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/iomodel"
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

func TestExtractBranches_OneBranchPerEntryChild(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"close(fd=0x3, retval=0x0)",
		"socket(domain=0x2, type=0x1, retval=0x4)",
		"shutdown(fd=0x4, how=0x2, retval=0x0)",
	}, "\n")
	g := buildGraph(t, trace)

	branches := compare.ExtractBranches(g)
	if len(branches) != 2 {
		t.Fatalf("got %d branches, want 2", len(branches))
	}
	if len(branches[0].Nodes) != 2 || len(branches[1].Nodes) != 2 {
		t.Errorf("expected each branch to have 2 nodes, got %d and %d", len(branches[0].Nodes), len(branches[1].Nodes))
	}
	if branches[0].Type != iomodel.BinFile {
		t.Errorf("first branch type = %v, want BINFILE", branches[0].Type)
	}
	if branches[1].Type != iomodel.Socket {
		t.Errorf("second branch type = %v, want SOCKET", branches[1].Type)
	}
}

func TestBranchComparator_SelfCompareIsIdentity(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"read(fd=0x3, retval=0x10)",
		"close(fd=0x3, retval=0x0)",
	}, "\n")
	g := buildGraph(t, trace)
	branches := compare.ExtractBranches(g)
	if len(branches) != 1 {
		t.Fatalf("got %d branches, want 1", len(branches))
	}
	branch := branches[0]

	bc := newTestBranchComparator()
	score, matches, err := bc.Compare(context.Background(), branch, branch)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if score != 100 {
		t.Errorf("score = %v, want 100 (identity self-match, zero structural penalty)", score)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	for _, m := range matches {
		if !m.HasD || !m.HasT {
			t.Errorf("self-compare produced a one-sided match: %+v", m)
		}
		if m.DID != m.TID {
			t.Errorf("self-compare matched %v to %v, want identity", m.DID, m.TID)
		}
		if m.Score != 100 {
			t.Errorf("matched pair %v<->%v scored %d, want 100", m.DID, m.TID, m.Score)
		}
	}
}

func TestBranchComparator_NilBranchProducesOneSidedMatches(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"close(fd=0x3, retval=0x0)",
	}, "\n")
	g := buildGraph(t, trace)
	branches := compare.ExtractBranches(g)
	branch := branches[0]

	bc := newTestBranchComparator()
	_, matches, err := bc.Compare(context.Background(), branch, nil)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	for _, m := range matches {
		if !m.HasD || m.HasT {
			t.Errorf("expected d-only matches when t branch is nil, got %+v", m)
		}
	}

	_, matches, err = bc.Compare(context.Background(), nil, branch)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	for _, m := range matches {
		if m.HasD || !m.HasT {
			t.Errorf("expected t-only matches when d branch is nil, got %+v", m)
		}
	}
}

func newTestBranchComparator() *compare.BranchComparator {
	comparator := iomodel.NewComparator(iomodel.DefaultTables())
	return compare.NewBranchComparator(comparator, compare.NewHungarianSolver())
}
