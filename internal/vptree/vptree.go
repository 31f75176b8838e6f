// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vptree

import "sort"

// Metric computes a distance between two items of an index. It need not be
// a true metric (symmetry and the triangle inequality are assumed by Query
// for pruning, but GED-derived distances in this package are only
// approximately metric — see ged.go). With a Metric that violates the
// triangle inequality, Query can prune a subtree that holds a closer
// candidate, so its result is then approximate rather than exact.
type Metric[T any] func(a, b T) float64

// Item pairs a value with a label so Query results can be traced back to
// whatever the caller's index key is (a trusted graph's source path, a
// corpus entry name, and so on).
type Item[T any] struct {
	Label string
	Value T
}

// Neighbor is one Query result: a candidate Item plus its distance from the
// query point.
type Neighbor[T any] struct {
	Item     Item[T]
	Distance float64
}

// Tree is a vantage-point tree (grounded on the reference implementation's
// `vptree.VPTree(datapoints, comparator.distance)` / `get_n_nearest_neighbors`
// pairing in original_source/themis/searching/indexing.py): a static,
// metric-space index that prunes candidates using the triangle inequality
// instead of requiring a vector embedding. It is built once over the
// trusted-graph corpus and queried once per dirty binary (spec §4.7).
type Tree[T any] struct {
	metric Metric[T]
	root   *node[T]
}

type node[T any] struct {
	item   Item[T]
	radius float64
	inside *node[T]
	// inside holds points at distance <= radius from item, outside those at
	// distance >= radius (a point exactly at radius may be in either); there is no
	// half-space restriction beyond the single radius threshold (a classic
	// two-child VP-tree, not a multi-way partition).
	outside *node[T]
}

// Build constructs a vantage-point tree over items using metric. Build is
// not incremental: the whole corpus is partitioned up front, matching the
// original's one-shot VPTree(datapoints, ...) construction at wrapper
// start-up.
func Build[T any](items []Item[T], metric Metric[T]) *Tree[T] {
	cp := append([]Item[T](nil), items...)
	return &Tree[T]{
		metric: metric,
		root:   buildNode(cp, metric),
	}
}

func buildNode[T any](items []Item[T], metric Metric[T]) *node[T] {
	if len(items) == 0 {
		return nil
	}
	// The first remaining item becomes the vantage point. Item order is
	// caller-supplied and fixed (no randomization), keeping Build
	// deterministic across runs for a given corpus ordering.
	vp := items[0]
	rest := items[1:]
	if len(rest) == 0 {
		return &node[T]{item: vp}
	}

	dists := make([]float64, len(rest))
	for i, it := range rest {
		dists[i] = metric(vp.Value, it.Value)
	}

	order := make([]int, len(rest))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	medianPos := len(order) / 2
	if medianPos == 0 {
		// A single remaining point goes inside, with the radius set to its
		// distance.
		medianPos = 1
	}
	median := dists[order[medianPos-1]]

	var insideItems, outsideItems []Item[T]
	for _, idx := range order[:medianPos] {
		insideItems = append(insideItems, rest[idx])
	}
	for _, idx := range order[medianPos:] {
		outsideItems = append(outsideItems, rest[idx])
	}

	return &node[T]{
		item:    vp,
		radius:  median,
		inside:  buildNode(insideItems, metric),
		outside: buildNode(outsideItems, metric),
	}
}

// Query returns the k nearest neighbors to target, sorted by ascending
// distance. Ties beyond the k-th slot are broken by item insertion order
// (via a stable sort), so repeated queries against the same tree are
// reproducible.
func (t *Tree[T]) Query(target T, k int) []Neighbor[T] {
	if t.root == nil || k <= 0 {
		return nil
	}
	results := make([]Neighbor[T], 0, k+1)
	worst := func() float64 {
		if len(results) < k {
			return inf
		}
		return results[len(results)-1].Distance
	}

	var visit func(n *node[T])
	visit = func(n *node[T]) {
		if n == nil {
			return
		}
		d := t.metric(target, n.item.Value)
		if d < worst() {
			results = append(results, Neighbor[T]{Item: n.item, Distance: d})
			sort.SliceStable(results, func(a, b int) bool { return results[a].Distance < results[b].Distance })
			if len(results) > k {
				results = results[:k]
			}
		}
		if n.inside == nil && n.outside == nil {
			return
		}
		// Classic VP-tree pruning: only descend into a subtree if the
		// query ball could possibly intersect it, per the triangle
		// inequality over the vantage point's radius.
		w := worst()
		if d < n.radius+w {
			visit(n.inside)
		}
		if d >= n.radius-w {
			visit(n.outside)
		}
	}
	visit(t.root)
	return results
}

const inf = 1e18
