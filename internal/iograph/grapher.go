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
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/themis-project/themis/internal/iomodel"
	"github.com/themis-project/themis/internal/ioparser"
)

var tracer = otel.Tracer("github.com/themis-project/themis/internal/iograph")

// GrapherOption configures a Grapher.
type GrapherOption func(*Grapher)

// WithTimeEdges enables EdgeTime edges connecting nodes in strict trace
// order. Disabled by default per spec §9: wall-clock order is rarely
// reproducible across independent runs of the same binary, so comparing on
// it would punish semantically identical traces.
func WithTimeEdges(enabled bool) GrapherOption {
	return func(gr *Grapher) { gr.timeEdges = enabled }
}

// WithGraphOptions forwards capacity options to the constructed Graph.
func WithGraphOptions(opts ...GraphOption) GrapherOption {
	return func(gr *Grapher) { gr.graphOpts = append(gr.graphOpts, opts...) }
}

// Grapher builds a Graph from a parser's output: the per-node hint stream
// plus the nesting edges accumulated from trace indentation (spec §4.3).
type Grapher struct {
	timeEdges bool
	graphOpts []GraphOption
}

// NewGrapher constructs a Grapher with the given options.
func NewGrapher(opts ...GrapherOption) *Grapher {
	gr := &Grapher{}
	for _, opt := range opts {
		opt(gr)
	}
	return gr
}

// Build assembles a Graph from parser output. The nodes slice must be in
// trace emission order (ioparser.Parser.Parse's return order); nestEdges
// are the lexical-containment pairs accumulated by the same parse.
func (gr *Grapher) Build(ctx context.Context, sourceLabel string, nodes []iomodel.CallsNodeAndHint, nestEdges []ioparser.NestEdge) (*Graph, error) {
	_, span := tracer.Start(ctx, "iograph.Grapher.Build")
	defer span.End()

	g := NewGraph(sourceLabel, gr.graphOpts...)

	for _, n := range nodes {
		if err := g.AddNode(n.Node); err != nil {
			return nil, err
		}
	}

	// lastToucher tracks, per fd value, the NodeID that most recently
	// touched that descriptor. A descriptor not yet touched resolves to the
	// synthetic entry node, so the first real touch always gets a FOLLOW
	// edge rooted at entry (spec §4.3's connectivity requirement).
	lastToucher := make(map[int64]NodeID)

	for _, n := range nodes {
		id := NumNodeID(n.Node.ID)
		touched := false

		if fd, ok := n.Node.InputFD().FDValue(); ok {
			prev, seen := lastToucher[fd]
			if !seen {
				prev = EntryNodeID
			}
			if err := g.AddEdge(prev, id, EdgeFollow); err != nil {
				return nil, err
			}
			lastToucher[fd] = id
			touched = true
		}
		for _, out := range n.Node.OutputFD() {
			fd, ok := out.FDValue()
			if !ok {
				continue
			}
			// Only updates the last-toucher bookkeeping for future lookups;
			// the node gets its one FOLLOW edge from the input fd above (or
			// from entry below when it has none). A second edge here would
			// violate "exactly one incoming FOLLOW edge per node".
			lastToucher[fd] = id
		}

		if !touched {
			// No input descriptor (an atomic call, or one such as open that
			// only produces descriptors): entry is the parent, so every
			// node is reachable from entry.
			if err := g.AddEdge(EntryNodeID, id, EdgeFollow); err != nil {
				return nil, err
			}
		}

		if n.Hint != iomodel.HintNone {
			gr.applyHint(n, lastToucher)
		}
	}

	for _, e := range nestEdges {
		if err := g.AddEdge(NumNodeID(e.From), NumNodeID(e.To), EdgeNest); err != nil {
			return nil, err
		}
	}

	if gr.timeEdges {
		for i := 1; i < len(nodes); i++ {
			if err := g.AddEdge(NumNodeID(nodes[i-1].Node.ID), NumNodeID(nodes[i].Node.ID), EdgeTime); err != nil {
				return nil, err
			}
		}
	}

	g.Freeze()
	g.BuiltAtMilli = time.Now().UnixMilli()

	span.SetAttributes(
		attribute.Int("themis.graph.node_count", g.NodeCount()),
		attribute.Int("themis.graph.edge_count", g.EdgeCount()),
	)
	return g, nil
}

// applyHint implements spec §4.3 step 6: HintResetFD breaks the FOLLOW
// chain for the descriptor a close consumed, so a later reopen of the same
// fd number starts a fresh chain from entry rather than chaining onto the
// closed call. HintResetStreams is an intentional no-op (see
// iomodel.HintResetStreams's doc comment).
func (gr *Grapher) applyHint(n iomodel.CallsNodeAndHint, lastToucher map[int64]NodeID) {
	if n.Hint != iomodel.HintResetFD {
		return
	}
	if fd, ok := n.Node.InputFD().FDValue(); ok {
		delete(lastToucher, fd)
	}
}
