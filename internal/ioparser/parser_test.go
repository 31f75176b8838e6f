// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ioparser

import (
	"context"
	"strings"
	"testing"

	"github.com/themis-project/themis/internal/iomodel"
)

type recordingReporter struct {
	syntax    []*SyntaxError
	anomalies []*FdLifecycleAnomaly
}

func (r *recordingReporter) ReportSyntaxError(e *SyntaxError) {
	r.syntax = append(r.syntax, e)
}

func (r *recordingReporter) ReportFdLifecycleAnomaly(e *FdLifecycleAnomaly) {
	r.anomalies = append(r.anomalies, e)
}

// S2: a single balanced open/close pair with no nesting.
func TestParser_SingleOpenClose(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"close(fd=0x3, retval=0x0)",
	}, "\n")

	reporter := &recordingReporter{}
	p := NewParser(WithReporter(reporter))
	nodes, edges, err := p.Parse(context.Background(), strings.NewReader(trace))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(reporter.syntax) != 0 {
		t.Fatalf("unexpected syntax errors: %v", reporter.syntax)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if len(edges) != 0 {
		t.Fatalf("got %d nest edges, want 0 (no indentation)", len(edges))
	}

	openNode := nodes[0].Node
	if openNode.Func().Name != "open" {
		t.Errorf("nodes[0].Func = %q, want open", openNode.Func().Name)
	}
	if len(openNode.OutputFD()) != 1 {
		t.Fatalf("open produced %d out fds, want 1", len(openNode.OutputFD()))
	}
	if fd, ok := openNode.OutputFD()[0].FDValue(); !ok || fd != 3 {
		t.Errorf("open out fd = %d, want 3", fd)
	}

	closeNode := nodes[1].Node
	if closeNode.Func().Name != "close" {
		t.Errorf("nodes[1].Func = %q, want close", closeNode.Func().Name)
	}
	if closeNode.InputFD() == nil {
		t.Fatal("close has no input fd")
	}
	if fd, _ := closeNode.InputFD().FDValue(); fd != 3 {
		t.Errorf("close in fd = %d, want 3", fd)
	}
	if nodes[1].Hint != iomodel.HintResetFD {
		t.Errorf("close hint = %v, want HintResetFD", nodes[1].Hint)
	}
}

// S3: fopen wraps an internal open call; fclose must forget the internal fd.
func TestParser_FopenWrapsOpen(t *testing.T) {
	trace := strings.Join([]string{
		"fopen::enter<1>(path=/tmp/a.txt, mode=r)",
		"|open::enter<2>(path=/tmp/a.txt, flags=0x0)",
		"|open::exit<2>(retval=0x4)",
		"fopen::exit<1>(retval=0x5)",
		"fclose::enter<3>(stream=0x5)",
		"fclose::exit<3>(retval=0x0)",
	}, "\n")

	reporter := &recordingReporter{}
	p := NewParser(WithReporter(reporter))
	nodes, edges, err := p.Parse(context.Background(), strings.NewReader(trace))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(reporter.syntax) != 0 {
		t.Fatalf("unexpected syntax errors: %v", reporter.syntax)
	}

	// Nodes emit in the order their exit line is reached, not the order
	// their enter line was seen: open's enter/exit window closes before
	// fopen's, so it emits first even though fopen appears first in the
	// trace and was created first.
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3 (open, fopen, fclose)", len(nodes))
	}
	if nodes[0].Node.Func().Name != "open" {
		t.Errorf("nodes[0] = %q, want open", nodes[0].Node.Func().Name)
	}
	if nodes[1].Node.Func().Name != "fopen" {
		t.Errorf("nodes[1] = %q, want fopen", nodes[1].Node.Func().Name)
	}
	if nodes[2].Node.Func().Name != "fclose" {
		t.Errorf("nodes[2] = %q, want fclose", nodes[2].Node.Func().Name)
	}

	openNode := nodes[0].Node
	fopenNode := nodes[1].Node
	if len(fopenNode.OutputFD()) != 1 {
		t.Fatalf("fopen produced %d out fds, want 1", len(fopenNode.OutputFD()))
	}
	internal := fopenNode.OutputFD()[0].Internal
	if internal == nil {
		t.Fatal("fopen's stream descriptor has no internal fd recorded")
	}
	if fd, _ := internal.FDValue(); fd != 4 {
		t.Errorf("fopen's internal fd = %d, want 4", fd)
	}

	// The open enter/exit pair is lexically nested inside fopen: exactly one
	// NEST edge from fopen's node to open's node.
	if len(edges) != 1 {
		t.Fatalf("got %d nest edges, want 1", len(edges))
	}
	if edges[0].From != fopenNode.ID || edges[0].To != openNode.ID {
		t.Errorf("nest edge = %+v, want {From: %d, To: %d}", edges[0], fopenNode.ID, openNode.ID)
	}

	fcloseNode := nodes[2].Node
	if fcloseNode.InputFD() == nil {
		t.Fatal("fclose has no input fd (stream)")
	}
}

func TestParser_UnparseableLineIsRecoveredNotFatal(t *testing.T) {
	trace := strings.Join([]string{
		"this is not a trace line at all",
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
	}, "\n")

	reporter := &recordingReporter{}
	p := NewParser(WithReporter(reporter))
	nodes, _, err := p.Parse(context.Background(), strings.NewReader(trace))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(reporter.syntax) != 1 {
		t.Fatalf("got %d syntax errors, want 1", len(reporter.syntax))
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1 (the line after the bad one still parses)", len(nodes))
	}
}

// fcloseall is a closer (RESET_FD-eligible) but must still end up with
// HintResetStreams, not HintResetFD: the two postprocess checks are
// independent, so fcloseall's branch in the second chain overrides the
// first's default.
func TestParser_PostprocessFcloseallYieldsResetStreams(t *testing.T) {
	p := NewParser()
	node := &iomodel.CallsNode{Call: iomodel.IOCall{
		Func: iomodel.Function{Name: "fcloseall"},
	}}
	if hint := p.postprocess(node); hint != iomodel.HintResetStreams {
		t.Errorf("postprocess(fcloseall) hint = %v, want HintResetStreams", hint)
	}
}

// Plain closers that aren't fclose/fcloseall/dup/dup2 (e.g. close) must
// still fall through to GuessIOType refinement in the second chain, not be
// short-circuited by the first chain's closer check.
func TestParser_PostprocessPlainCloserRefinesIOType(t *testing.T) {
	p := NewParser()
	fd := int64(3)
	node := &iomodel.CallsNode{Call: iomodel.IOCall{
		Func: iomodel.Function{Name: "close"},
		InFD: &iomodel.IODesc{Typ: iomodel.Unknown, FD: &fd},
	}}
	if hint := p.postprocess(node); hint != iomodel.HintResetFD {
		t.Errorf("postprocess(close) hint = %v, want HintResetFD", hint)
	}
	if node.Call.InFD.Typ != iomodel.BinFile {
		t.Errorf("postprocess(close) in fd type = %v, want BINFILE", node.Call.InFD.Typ)
	}
}

func TestParser_UseOfClosedFdIsRecovered(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"close(fd=0x3, retval=0x0)",
		"read(fd=0x3, retval=0x10)",
	}, "\n")

	reporter := &recordingReporter{}
	p := NewParser(WithReporter(reporter))
	nodes, _, err := p.Parse(context.Background(), strings.NewReader(trace))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	found := false
	for _, a := range reporter.anomalies {
		if a.Kind == AnomalyUseOfClosed && a.FDValue == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a AnomalyUseOfClosed anomaly for fd 3, got %v", reporter.anomalies)
	}
}
