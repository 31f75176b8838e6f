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

// Hint is the post-process signal the parser attaches to a CallsNode (spec
// §4.2 step 5) for the grapher to act on when wiring FOLLOW edges.
type Hint int

const (
	// HintNone means the grapher should do nothing beyond the default
	// last-toucher update.
	HintNone Hint = iota

	// HintResetFD means the node closed its input descriptor; the grapher
	// resets that descriptor's last-toucher back to entry.
	HintResetFD

	// HintResetStreams means the node closed all open streams (fcloseall).
	// Per spec §9's open question, this hint is recorded but its handler is
	// an intentional no-op: the original implementation emits the hint but
	// never transitions stream states in response, and nothing downstream
	// depends on it doing so. We preserve that behavior rather than invent
	// semantics the spec does not describe.
	HintResetStreams
)

// CallsNodeAndHint is one parser output: the finalized node plus the
// post-process hint the grapher must apply.
type CallsNodeAndHint struct {
	Node *CallsNode
	Hint Hint
}
