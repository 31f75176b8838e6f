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
	"encoding/json"
	"strings"
	"testing"

	"github.com/themis-project/themis/internal/compare"
)

func TestBuildDiffGraph_SelfCompareEdgesAllMatching(t *testing.T) {
	trace := strings.Join([]string{
		"open(path=/tmp/a.txt, flags=0x0, retval=0x3)",
		"read(fd=0x3, retval=0x10)",
		"close(fd=0x3, retval=0x0)",
	}, "\n")
	g := buildGraph(t, trace)

	dgc := newTestDeepGraphComparator()
	result, err := dgc.Compare(context.Background(), g, g)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	diff := compare.BuildDiffGraph(result)
	if len(diff.Edges) == 0 {
		t.Fatal("expected at least one edge in the self-compare diff graph")
	}
	for _, e := range diff.Edges {
		if e.Kind != compare.DiffEdgeMatching {
			t.Errorf("edge %s->%s classified %v, want MATCHING", e.From, e.To, e.Kind)
		}
	}
}

func TestDiffGraph_MarshalJSONProducesNodeLinkDocument(t *testing.T) {
	trace := "open(path=/tmp/a.txt, flags=0x0, retval=0x3)\nclose(fd=0x3, retval=0x0)"
	g := buildGraph(t, trace)

	dgc := newTestDeepGraphComparator()
	result, err := dgc.Compare(context.Background(), g, g)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}

	diff := compare.BuildDiffGraph(result)
	data, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("round-trip unmarshal: %v", err)
	}
	if directed, _ := doc["directed"].(bool); !directed {
		t.Error(`expected "directed": true in the node-link document`)
	}
	nodes, ok := doc["nodes"].([]interface{})
	if !ok || len(nodes) != 2 {
		t.Fatalf("got nodes = %v, want 2 entries", doc["nodes"])
	}
}
