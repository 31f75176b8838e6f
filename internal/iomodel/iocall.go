// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package iomodel

import "sort"

// ArgStatus classifies how a single argument key compared between two calls.
type ArgStatus int

const (
	ArgMatching ArgStatus = iota
	ArgValueMismatch
	ArgMissing
	ArgExcessive
)

func (s ArgStatus) String() string {
	switch s {
	case ArgMatching:
		return "MATCHING"
	case ArgValueMismatch:
		return "VALUE_MISMATCH"
	case ArgMissing:
		return "MISSING"
	default:
		return "EXCESSIVE"
	}
}

// ArgDiff records one argument key's comparison outcome: the status plus the
// value on each side (empty string when absent on that side).
type ArgDiff struct {
	Status ArgStatus
	ValueA string
	ValueB string
}

// DiffInfo is the full comparison record produced by IOCall.Compare: the
// function-name comparison, the index pair, and a per-key argument diff.
type DiffInfo struct {
	FuncA, FuncB string
	FuncResult   FunctionComparisonResult
	IndexA       int
	IndexB       int
	Args         map[string]ArgDiff
}

// Reversed swaps the two sides of a DiffInfo, used when a caller needs the
// symmetric view of a comparison (spec §8 invariant 3: compare(a,b) ==
// compare(b,a) modulo side-swap).
func (d DiffInfo) Reversed() DiffInfo {
	reversedArgs := make(map[string]ArgDiff, len(d.Args))
	for k, v := range d.Args {
		rv := v
		rv.ValueA, rv.ValueB = v.ValueB, v.ValueA
		if v.Status == ArgMissing {
			rv.Status = ArgExcessive
		} else if v.Status == ArgExcessive {
			rv.Status = ArgMissing
		}
		reversedArgs[k] = rv
	}
	return DiffInfo{
		FuncA:      d.FuncB,
		FuncB:      d.FuncA,
		FuncResult: d.FuncResult,
		IndexA:     d.IndexB,
		IndexB:     d.IndexA,
		Args:       reversedArgs,
	}
}

// ArgsComparator scores argument maps against each other, ignoring keys
// listed in Tables.ArgsToExclude (spec §4.1).
type ArgsComparator struct {
	tables *Tables
}

// NewArgsComparator builds a comparator over the given tables.
func NewArgsComparator(tables *Tables) *ArgsComparator {
	return &ArgsComparator{tables: tables}
}

// Compare returns the total penalty (−2 per differing value, −4 per
// one-sided key) and a per-key diff map.
func (c *ArgsComparator) Compare(a, b map[string]string) (int, map[string]ArgDiff) {
	excluded := make(map[string]bool, len(c.tables.ArgsToExclude))
	for _, k := range c.tables.ArgsToExclude {
		excluded[k] = true
	}

	filter := func(m map[string]string) map[string]string {
		out := make(map[string]string, len(m))
		for k, v := range m {
			if !excluded[k] {
				out[k] = v
			}
		}
		return out
	}

	fa, fb := filter(a), filter(b)
	penalty := 0
	diffs := make(map[string]ArgDiff)

	for k, va := range fa {
		vb, ok := fb[k]
		if !ok {
			diffs[k] = ArgDiff{Status: ArgExcessive, ValueA: va}
			penalty += 4
			continue
		}
		if va == vb {
			diffs[k] = ArgDiff{Status: ArgMatching, ValueA: va, ValueB: vb}
		} else {
			diffs[k] = ArgDiff{Status: ArgValueMismatch, ValueA: va, ValueB: vb}
			penalty += 2
		}
	}
	for k, vb := range fb {
		if _, ok := fa[k]; !ok {
			diffs[k] = ArgDiff{Status: ArgMissing, ValueB: vb}
			penalty += 4
		}
	}

	return penalty, diffs
}

// IOCall is one observed library call: the function, the descriptor it
// consumed (if any), the descriptors it produced (if any), and its raw
// argument map. Index preserves original trace order.
type IOCall struct {
	Index int
	Func  Function
	InFD  *IODesc
	OutFD []*IODesc
	Args  map[string]string
}

// Comparator bundles the function and argument comparators used by
// IOCall.Compare. Both are derived from the same Tables so a caller can swap
// in a different comparison configuration (spec §9: "loadable from a
// configuration file") without touching call sites.
type Comparator struct {
	Func *FunctionComparator
	Args *ArgsComparator
}

// NewComparator builds a Comparator over the given tables.
func NewComparator(tables *Tables) *Comparator {
	return &Comparator{
		Func: NewFunctionComparator(tables),
		Args: NewArgsComparator(tables),
	}
}

// Compare scores two calls per spec §4.1. Exactly one of a, b may be nil;
// both nil is a contract violation (mirrors the original's
// InvalidUseException) and panics rather than returning a zero value that
// would silently look like a legitimate score.
func (c *Comparator) Compare(a, b *IOCall) (int, DiffInfo) {
	if a == nil && b == nil {
		panic("iomodel: IOCall.Compare called with both operands nil")
	}

	if b == nil {
		_, argsDiff := c.Args.Compare(a.Args, nil)
		return 0, DiffInfo{
			FuncA:      a.Func.Name,
			FuncResult: FuncDifferent,
			IndexA:     a.Index,
			IndexB:     -1,
			Args:       argsDiff,
		}
	}
	if a == nil {
		_, argsDiff := c.Args.Compare(nil, b.Args)
		return 0, DiffInfo{
			FuncB:      b.Func.Name,
			FuncResult: FuncDifferent,
			IndexA:     -1,
			IndexB:     b.Index,
			Args:       argsDiff,
		}
	}

	score := 100

	funcResult := c.Func.Compare(a.Func.Name, b.Func.Name)
	switch funcResult {
	case FuncEquivClass:
		score -= 15
	case FuncDifferent:
		score -= 55
	}

	if a.Index != b.Index {
		score--
	}
	diff := a.Index - b.Index
	if diff < 0 {
		diff = -diff
	}
	score -= (diff / 3) * 3

	penalty, argsDiff := c.Args.Compare(a.Args, b.Args)
	score -= penalty

	return score, DiffInfo{
		FuncA:      a.Func.Name,
		FuncB:      b.Func.Name,
		FuncResult: funcResult,
		IndexA:     a.Index,
		IndexB:     b.Index,
		Args:       argsDiff,
	}
}

// nodeCounter is a monotone id source. Each parser holds a fresh counter
// of its own (see ioparser.NewParser), which keeps ids dense within a single parse,
// as spec §3 invariant 3 requires; ids are never compared across graphs.
type nodeCounter struct {
	next uint64
}

// NewNodeCounter returns a counter starting at 1, matching the original's
// NodeCounter.oid = 1 starting value.
func NewNodeCounter() *nodeCounter {
	return &nodeCounter{next: 1}
}

func (c *nodeCounter) Next() uint64 {
	v := c.next
	c.next++
	return v
}

// CallsNode is a graph node payload: a unique id plus the IOCall it wraps.
type CallsNode struct {
	ID   uint64
	Call IOCall
}

func (n *CallsNode) Index() int {
	return n.Call.Index
}

func (n *CallsNode) Func() Function {
	return n.Call.Func
}

func (n *CallsNode) InputFD() *IODesc {
	return n.Call.InFD
}

func (n *CallsNode) OutputFD() []*IODesc {
	return n.Call.OutFD
}

// SortedArgKeys returns the argument keys of a DiffInfo's Args map in
// deterministic order, used by callers that must serialize diffs
// reproducibly (spec §5 ordering note).
func SortedArgKeys(args map[string]ArgDiff) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
