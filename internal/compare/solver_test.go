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
	"testing"

	"github.com/themis-project/themis/internal/compare"
)

func TestHungarianSolver_MaximizesWeight(t *testing.T) {
	s := compare.NewHungarianSolver()
	// Optimal assignment is 0->1 (90) and 1->0 (80) = 170, beating the
	// identity 0->0 (10) + 1->1 (20) = 30.
	weights := map[compare.Pair]float64{
		{I: 0, J: 0}: 10,
		{I: 0, J: 1}: 90,
		{I: 1, J: 0}: 80,
		{I: 1, J: 1}: 20,
	}
	result, status, err := s.Solve(context.Background(), weights, []int{0, 1}, []int{0, 1})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status != compare.StatusOptimal {
		t.Fatalf("status = %v, want OPTIMAL", status)
	}
	if !result[compare.Pair{I: 0, J: 1}] || !result[compare.Pair{I: 1, J: 0}] {
		t.Errorf("result = %v, want {0,1} and {1,0}", result)
	}
	if len(result) != 2 {
		t.Errorf("got %d pairs, want 2", len(result))
	}
}

func TestHungarianSolver_PrefersNoMatchOverNegative(t *testing.T) {
	s := compare.NewHungarianSolver()
	weights := map[compare.Pair]float64{
		{I: 0, J: 0}: -50,
	}
	result, _, err := s.Solve(context.Background(), weights, []int{0}, []int{0})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected no pairs matched (negative weight worse than unmatched), got %v", result)
	}
}

func TestHungarianSolver_UnbalancedSides(t *testing.T) {
	s := compare.NewHungarianSolver()
	// Two left nodes, one right node: only the better of the two can match.
	weights := map[compare.Pair]float64{
		{I: 0, J: 0}: 5,
		{I: 1, J: 0}: 40,
	}
	result, _, err := s.Solve(context.Background(), weights, []int{0, 1}, []int{0})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(result) != 1 || !result[compare.Pair{I: 1, J: 0}] {
		t.Errorf("result = %v, want only {1,0}", result)
	}
}

func TestHungarianSolver_EmptySide(t *testing.T) {
	s := compare.NewHungarianSolver()
	result, status, err := s.Solve(context.Background(), map[compare.Pair]float64{}, nil, []int{0, 1})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status != compare.StatusOptimal {
		t.Errorf("status = %v, want OPTIMAL", status)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result, got %v", result)
	}
}

func TestHungarianSolver_DeterministicTieBreak(t *testing.T) {
	s := compare.NewHungarianSolver()
	// All four pairings score identically; the lowest-index pairing should
	// win consistently across repeated runs (spec §9 determinism note).
	weights := map[compare.Pair]float64{
		{I: 0, J: 0}: 10, {I: 0, J: 1}: 10,
		{I: 1, J: 0}: 10, {I: 1, J: 1}: 10,
	}
	var first map[compare.Pair]bool
	for i := 0; i < 5; i++ {
		result, _, err := s.Solve(context.Background(), weights, []int{0, 1}, []int{0, 1})
		if err != nil {
			t.Fatalf("Solve: %v", err)
		}
		if first == nil {
			first = result
			continue
		}
		if len(result) != len(first) {
			t.Fatalf("non-deterministic result size across runs")
		}
		for pair, chosen := range first {
			if result[pair] != chosen {
				t.Errorf("non-deterministic tie-break: run disagreed on %v", pair)
			}
		}
	}
}
