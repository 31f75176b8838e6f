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
	"math"
	"sort"
)

// Pair identifies one (left, right) index combination in a weight matrix.
// Left and right values are caller-chosen identifiers (e.g. slice indices
// into a branch's node list), not necessarily dense or zero-based.
type Pair struct {
	I, J int
}

// SolveStatus reports how an AssignmentSolver finished, per spec §9's small
// AssignmentSolver interface ("with status").
type SolveStatus int

const (
	StatusOptimal SolveStatus = iota
	StatusFeasible
	StatusInfeasible
	StatusTimeout
)

func (s SolveStatus) String() string {
	switch s {
	case StatusOptimal:
		return "OPTIMAL"
	case StatusFeasible:
		return "FEASIBLE"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "INFEASIBLE"
	}
}

// AssignmentSolver is the small solver abstraction described in spec §9:
// "solve(weights: map<(i,j)→f64>, left: set, right: set) → map<(i,j)→0|1>
// with status". BranchComparator and DeepGraphComparator both depend on
// this interface rather than a concrete solver, so a different assignment
// backend (or a deterministic stub, in tests) can be substituted freely.
type AssignmentSolver interface {
	// Solve returns the maximum-weight matching between left and right
	// index sets subject to weights (a pair absent from weights counts as
	// weight 0, i.e. "no edge"; matching nothing is always a feasible
	// alternative to a negative-weight pairing). Each left/right index
	// appears in at most one returned pair.
	Solve(ctx context.Context, weights map[Pair]float64, left, right []int) (map[Pair]bool, SolveStatus, error)
}

// HungarianSolver solves the maximum-weight bipartite assignment exactly
// via the Kuhn-Munkres algorithm (O(n^3)). Spec §4.4 notes that "any MIP
// solver satisfies the spec... a specialized max-weight bipartite matching
// is equivalent and preferred" — no assignment/MIP library appears
// anywhere in the example corpus this project is grounded on (see
// DESIGN.md), so this solver is implemented directly against the standard
// library rather than adapted from a third-party dependency.
//
// Unmatched participation is modelled by padding the weight matrix with
// zero-weight dummy partners on both sides (size left+right), so a node
// is only matched to a real counterpart when doing so improves the total
// over leaving it unmatched — matching spec §4.4's "unmatched nodes score
// 0" convention exactly, rather than forcing a low-quality pairing.
//
// Thread Safety: stateless; safe for concurrent use.
type HungarianSolver struct{}

// NewHungarianSolver constructs a HungarianSolver.
func NewHungarianSolver() *HungarianSolver {
	return &HungarianSolver{}
}

// tieBreakEpsilon scales a tiny positive bonus added to every real pair,
// larger for lower (left, right) sorted positions. The bonus makes a
// zero-weight real pair (including one absent from weights) preferable to
// leaving both nodes unmatched, and among equal-weight assignments that
// cover different index sets it favours lower indices. The bonus is
// separable by row and column, so assignments that pair the same index
// sets in a different order receive the same total bonus; which of those
// is returned is fixed by the algorithm's iteration order and is not the
// lexicographically smallest in general (a 3x3 all-equal matrix yields
// 0-1, 1-0, 2-2). The same input always yields the same assignment. The
// bonus is far smaller than any real score difference IOCall.Compare can
// produce (scores are integral).
const tieBreakEpsilon = 1e-6

func (s *HungarianSolver) Solve(ctx context.Context, weights map[Pair]float64, left, right []int) (map[Pair]bool, SolveStatus, error) {
	select {
	case <-ctx.Done():
		return nil, StatusTimeout, ctx.Err()
	default:
	}

	leftSorted := append([]int(nil), left...)
	rightSorted := append([]int(nil), right...)
	sort.Ints(leftSorted)
	sort.Ints(rightSorted)

	l, r := len(leftSorted), len(rightSorted)
	if l == 0 || r == 0 {
		return map[Pair]bool{}, StatusOptimal, nil
	}

	n := l + r // square dimension: real partners plus dummy capacity on both sides.

	// cost is 1-indexed (cost[1..n][1..n]) to match the classical
	// Kuhn-Munkres presentation this is ported from. Rows 1..l are real
	// left indices; rows l+1..n are dummy lefts. Columns 1..r are real
	// right indices; columns r+1..n are dummy rights.
	cost := make([][]float64, n+1)
	for i := range cost {
		cost[i] = make([]float64, n+1)
	}
	for i := 0; i < l; i++ {
		for j := 0; j < r; j++ {
			w := weights[Pair{I: leftSorted[i], J: rightSorted[j]}]
			nudge := tieBreakEpsilon * float64(n*n-i*n-j)
			cost[i+1][j+1] = -(w + nudge)
		}
	}
	// Real-left vs dummy-right, and dummy-left vs real-right/dummy-right,
	// all cost 0 (already zero-initialized): matching to a dummy is
	// exactly "leave unmatched".

	select {
	case <-ctx.Done():
		return nil, StatusTimeout, ctx.Err()
	default:
	}

	rowToCol, err := hungarianMinCost(ctx, cost, n)
	if err != nil {
		return nil, StatusTimeout, err
	}

	result := make(map[Pair]bool)
	for i := 0; i < l; i++ {
		j := rowToCol[i+1] - 1 // back to 0-indexed column
		if j >= 0 && j < r {
			result[Pair{I: leftSorted[i], J: rightSorted[j]}] = true
		}
	}
	return result, StatusOptimal, nil
}

// hungarianMinCost solves the min-cost perfect assignment on an n x n cost
// matrix (1-indexed: cost[1..n][1..n]) via the O(n^3) Kuhn-Munkres
// algorithm with potentials, returning rowToCol where rowToCol[i] is the
// column (1-indexed) matched to row i.
func hungarianMinCost(ctx context.Context, cost [][]float64, n int) ([]int, error) {
	const inf = math.MaxFloat64 / 4

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row currently matched to column j (0 = none)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0][j] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowToCol := make([]int, n+1)
	for j := 1; j <= n; j++ {
		rowToCol[p[j]] = j
	}
	return rowToCol, nil
}
