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

import "github.com/themis-project/themis/internal/iograph"

// RawGED is a Metric over *iograph.Graph built directly from GED, mirroring
// original_source/themis/searching/indexing.py's RawGraphComparator (plain
// distance_ged with no asymmetry check). This is the default Metric used to
// build the trusted-graph index (spec §4.7).
func RawGED(a, b *iograph.Graph) float64 {
	return GED(a, b)
}

// NormalizedGED supplements RawGED with the asymmetry check
// original_source/themis/searching/indexing.py's NormalizedGraphComparator
// performs: abs(1 - ged(a,b)/ged(b,a)), with a 0 short-circuit when the
// reverse direction is itself an exact match. The original clearly found
// this worth measuring even though nx's graph_edit_distance is not
// symmetric in general.
//
// Our GED (ged.go) is symmetric by construction — the node correspondence
// and both cost terms are computed identically regardless of argument
// order — so NormalizedGED(a, b) is always 0 here (ged(a,b) == ged(b,a)
// trivially satisfies the abs(1 - 1) = 0 case, or both sides are 0 and hit
// the short-circuit). It is kept as a distinct Metric, rather than removed,
// so a future asymmetric GED implementation can be dropped in without
// touching callers; see DESIGN.md for why the symmetry was accepted here.
func NormalizedGED(a, b *iograph.Graph) float64 {
	res1 := GED(a, b)
	res2 := GED(b, a)
	if res2 == 0 {
		return 0
	}
	ratio := 1 - res1/res2
	if ratio < 0 {
		return -ratio
	}
	return ratio
}
