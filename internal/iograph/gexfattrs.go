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

import "strconv"

// NodeAttrs is the flat attribute set a GEXF (or any other graph-exchange
// format) exporter would attach to one node. Themis only needs the
// attribute values, not an XML encoder: the reference tool this was
// grounded on (spec §9) consumed GEXF purely as a visualization aid, and
// nothing downstream of Themis parses GEXF back in.
type NodeAttrs map[string]string

// EdgeAttrs is the flat attribute set attached to one edge.
type EdgeAttrs map[string]string

// NodeAttributes extracts the exportable attribute set for a graph node:
// the function name, whether it consumed an input descriptor, how many
// output descriptors it produced, and the guessed I/O construct type.
func (g *Graph) NodeAttributes(id NodeID) NodeAttrs {
	if id.IsEntry() {
		return NodeAttrs{"func": "<entry>"}
	}
	node, ok := g.GetNode(id)
	if !ok {
		return nil
	}

	ioType := "UNKNOWN"
	if fd := node.InputFD(); fd != nil {
		ioType = fd.Typ.String()
	} else if out := node.OutputFD(); len(out) > 0 {
		ioType = out[0].Typ.String()
	}

	return NodeAttrs{
		"func":            node.Func().Name,
		"in_fd_present":   strconv.FormatBool(node.InputFD() != nil),
		"out_fds_num":     strconv.Itoa(len(node.OutputFD())),
		"io_type":         ioType,
		"trace_index":     strconv.Itoa(node.Index()),
	}
}

// EdgeAttributes extracts the exportable attribute set for a graph edge:
// just its type, since FOLLOW/NEST/TIME edges carry no further payload.
func EdgeAttributes(e Edge) EdgeAttrs {
	return EdgeAttrs{"type": e.Type.String()}
}
