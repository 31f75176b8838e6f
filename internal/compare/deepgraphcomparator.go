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
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/iomodel"

	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/themis-project/themis/internal/compare")

// BranchAssignment is one entry of DeepGraphComparator's output: a matched
// (or one-sided) pair of branches, its score (nil/"None" when one side is
// unmatched), and the per-node matches BranchComparator produced for it.
type BranchAssignment struct {
	DRoot   *iograph.NodeID
	TRoot   *iograph.NodeID
	Score   *float64
	Matches []NodeMatch
}

// ComparisonResult is the top-level output of DeepGraphComparator.Compare:
// the final averaged score and the branch assignments it was derived from,
// sufficient to build a DiffGraph.
type ComparisonResult struct {
	Score       float64
	Assignments []BranchAssignment
	DirtyGraph  *iograph.Graph
	TrustGraph  *iograph.Graph
}

// DeepGraphComparator orchestrates whole-graph comparison per spec §4.5:
// branch extraction, a same-type assignment phase, a cross-type remainder
// phase, and a final averaged score treating unmatched branches as cost 0.
//
// Thread Safety: stateless beyond its immutable comparator/solver
// dependencies; a single DeepGraphComparator may run Compare concurrently
// for independent graph pairs (spec §5: "each DeepGraphComparator.compare()
// call owns its two input graphs and allocates its own solver instances").
type DeepGraphComparator struct {
	comparator       *iomodel.Comparator
	branchComparator *BranchComparator
	solver           AssignmentSolver
}

// NewDeepGraphComparator builds a DeepGraphComparator over the given
// tables and assignment solver.
func NewDeepGraphComparator(tables *iomodel.Tables, solver AssignmentSolver) *DeepGraphComparator {
	comparator := iomodel.NewComparator(tables)
	return &DeepGraphComparator{
		comparator:       comparator,
		branchComparator: NewBranchComparator(comparator, solver),
		solver:           solver,
	}
}

// Compare runs the full two-phase branch assignment between a dirty and a
// trusted graph and returns the averaged score plus every branch
// assignment it used to compute it.
func (c *DeepGraphComparator) Compare(ctx context.Context, dirty, trusted *iograph.Graph) (*ComparisonResult, error) {
	ctx, span := tracer.Start(ctx, "DeepGraphComparator.Compare")
	defer span.End()

	dBranches := ExtractBranches(dirty)
	tBranches := ExtractBranches(trusted)

	dByType := groupByType(dBranches)
	tByType := groupByType(tBranches)

	matchedD := make(map[*Branch]bool, len(dBranches))
	matchedT := make(map[*Branch]bool, len(tBranches))
	var assignments []BranchAssignment

	// Phase 1: same-type. Iterate types present on both sides, in
	// ascending order of IOConstructType for determinism.
	var sharedTypes []iomodel.IOConstructType
	for typ := range dByType {
		if _, ok := tByType[typ]; ok {
			sharedTypes = append(sharedTypes, typ)
		}
	}
	sort.Slice(sharedTypes, func(i, j int) bool { return sharedTypes[i] < sharedTypes[j] })

	for _, typ := range sharedTypes {
		pairAssignments, err := c.assignBranches(ctx, dByType[typ], tByType[typ])
		if err != nil {
			return nil, err
		}
		for _, a := range pairAssignments {
			assignments = append(assignments, a.assignment)
			if a.dBranch != nil {
				matchedD[a.dBranch] = true
			}
			if a.tBranch != nil {
				matchedT[a.tBranch] = true
			}
		}
	}

	// Phase 2: cross-type remainder pool.
	var dRemainder, tRemainder []*Branch
	for _, b := range dBranches {
		if !matchedD[b] {
			dRemainder = append(dRemainder, b)
		}
	}
	for _, b := range tBranches {
		if !matchedT[b] {
			tRemainder = append(tRemainder, b)
		}
	}

	crossAssignments, err := c.assignBranches(ctx, dRemainder, tRemainder)
	if err != nil {
		return nil, err
	}
	for _, a := range crossAssignments {
		assignments = append(assignments, a.assignment)
		if a.dBranch != nil {
			matchedD[a.dBranch] = true
		}
		if a.tBranch != nil {
			matchedT[a.tBranch] = true
		}
	}

	// Remaining unmatched branches after both phases, emitted one-sided.
	for _, b := range dBranches {
		if matchedD[b] {
			continue
		}
		_, matches, err := c.branchComparator.Compare(ctx, b, nil)
		if err != nil {
			return nil, err
		}
		root := b.Root
		assignments = append(assignments, BranchAssignment{DRoot: &root, Matches: matches})
	}
	for _, b := range tBranches {
		if matchedT[b] {
			continue
		}
		_, matches, err := c.branchComparator.Compare(ctx, nil, b)
		if err != nil {
			return nil, err
		}
		root := b.Root
		assignments = append(assignments, BranchAssignment{TRoot: &root, Matches: matches})
	}

	// A graph with no branches (e.g. an empty trace) produces zero
	// assignments. There is nothing to disagree about, so this is scored as
	// a vacuous perfect match (100) rather than an undefined 0/0 average.
	average := 100.0
	if len(assignments) > 0 {
		sum := 0.0
		for _, a := range assignments {
			if a.Score != nil {
				sum += *a.Score
			}
		}
		average = sum / float64(len(assignments))
	}

	span.SetAttributes(
		attribute.Float64("themis.compare.score", average),
		attribute.Int("themis.compare.assignment_count", len(assignments)),
	)
	return &ComparisonResult{
		Score:       average,
		Assignments: assignments,
		DirtyGraph:  dirty,
		TrustGraph:  trusted,
	}, nil
}

// branchPairAssignment pairs the typed assignment record with the concrete
// Branch pointers it came from, so the caller can mark them matched.
type branchPairAssignment struct {
	dBranch, tBranch *Branch
	assignment       BranchAssignment
}

// assignBranches runs one branch-level maximum-weight assignment pass over
// a pool of dirty and trusted branches (same procedure used for both the
// same-type and cross-type phases per spec §4.5), returning only the
// matched pairs; unmatched branches are left to the caller.
func (c *DeepGraphComparator) assignBranches(ctx context.Context, dBranches, tBranches []*Branch) ([]branchPairAssignment, error) {
	if len(dBranches) == 0 || len(tBranches) == 0 {
		return nil, nil
	}

	weights := make(map[Pair]float64, len(dBranches)*len(tBranches))
	matchesOf := make(map[Pair][]NodeMatch, len(dBranches)*len(tBranches))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dBranches {
		for j, t := range tBranches {
			i, j, d, t := i, j, d, t
			g.Go(func() error {
				score, matches, err := c.branchComparator.Compare(gctx, d, t)
				if err != nil {
					return err
				}
				mu.Lock()
				weights[Pair{I: i, J: j}] = score
				matchesOf[Pair{I: i, J: j}] = matches
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	left := indexRange(len(dBranches))
	right := indexRange(len(tBranches))
	assignment, status, err := c.solver.Solve(ctx, weights, left, right)
	if err != nil || (status != StatusOptimal && status != StatusFeasible) {
		return nil, &AssignmentSolverError{Stage: "branch", Status: status, Cause: err}
	}

	var out []branchPairAssignment
	for pair, chosen := range assignment {
		if !chosen {
			continue
		}
		score := weights[pair]
		d, t := dBranches[pair.I], tBranches[pair.J]
		dRoot, tRoot := d.Root, t.Root
		out = append(out, branchPairAssignment{
			dBranch: d,
			tBranch: t,
			assignment: BranchAssignment{
				DRoot: &dRoot, TRoot: &tRoot, Score: &score, Matches: matchesOf[pair],
			},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dBranch.Root.Num != out[j].dBranch.Root.Num {
			return out[i].dBranch.Root.Num < out[j].dBranch.Root.Num
		}
		return out[i].tBranch.Root.Num < out[j].tBranch.Root.Num
	})
	return out, nil
}

func groupByType(branches []*Branch) map[iomodel.IOConstructType][]*Branch {
	out := make(map[iomodel.IOConstructType][]*Branch)
	for _, b := range branches {
		out[b.Type] = append(out[b.Type], b)
	}
	return out
}

// CompareMany runs Compare for one dirty graph against several trusted
// graphs concurrently, bounding total fan-out with an errgroup (spec §5:
// "parallelism, if introduced, applies naturally at the outermost level").
// Results are returned in the same order as trusted.
func (c *DeepGraphComparator) CompareMany(ctx context.Context, dirty *iograph.Graph, trusted []*iograph.Graph) ([]*ComparisonResult, error) {
	results := make([]*ComparisonResult, len(trusted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, t := range trusted {
		i, t := i, t
		g.Go(func() error {
			result, err := c.Compare(gctx, dirty, t)
			if err != nil {
				return fmt.Errorf("compare: dirty vs trusted[%d]: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// corpusPair names one (dirty-index, trusted-index) combination, used by
// CompareCorpus to report results keyed by position in the input slices.
type corpusPair struct {
	DirtyIndex   int
	TrustedIndex int
}

// CompareCorpus runs Compare for every (dirty, trusted) combination across
// two graph sets, supplementing the single-dirty CompareMany for bulk
// corpus sweeps (e.g. offline re-scoring of an entire trusted corpus
// against every archived dirty sample).
func (c *DeepGraphComparator) CompareCorpus(ctx context.Context, dirty, trusted []*iograph.Graph) (map[corpusPair]*ComparisonResult, error) {
	results := make(map[corpusPair]*ComparisonResult, len(dirty)*len(trusted))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for di, d := range dirty {
		for ti, t := range trusted {
			di, ti, d, t := di, ti, d, t
			g.Go(func() error {
				result, err := c.Compare(gctx, d, t)
				if err != nil {
					return fmt.Errorf("compare: dirty[%d] vs trusted[%d]: %w", di, ti, err)
				}
				mu.Lock()
				results[corpusPair{DirtyIndex: di, TrustedIndex: ti}] = result
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
