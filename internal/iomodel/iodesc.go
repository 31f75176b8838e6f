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

// IODescState tracks the lifecycle of a file descriptor or stream handle as
// observed by the parser's fd registry.
type IODescState int

const (
	// StateUnknown is the initial state of inherited stdin/stdout/stderr,
	// whose open/close history predates the trace.
	StateUnknown IODescState = iota

	// StateOpen means the descriptor was produced by a call in this trace
	// and has not since been closed.
	StateOpen

	// StateClosed means a CLOSER function consumed this descriptor.
	StateClosed

	// StateForgotten marks an internal fd (one wrapped by a stream) after
	// the wrapping stream was closed without a direct close on the fd.
	StateForgotten
)

func (s IODescState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateForgotten:
		return "FORGOTTEN"
	default:
		return "UNKNOWN"
	}
}

// IODesc describes one I/O descriptor: an fd, a stream pointer, or any other
// handle observed in a trace. Internal is non-nil only for stream handles
// that wrap a lower-level fd, e.g. an fopen result wrapping an open fd
// observed during the same enter/exit window.
type IODesc struct {
	Typ      IOConstructType
	FD       *int64
	Desc     string
	Internal *IODesc
}

// NewIODesc constructs a descriptor for the given fd value with Unknown
// type. Most descriptors start this way and are refined by Tables.GuessIOType as
// later calls touch the same fd.
func NewIODesc(fd int64) *IODesc {
	v := fd
	return &IODesc{Typ: Unknown, FD: &v}
}

// FDValue returns the fd value, or ok=false if this descriptor has no fd
// (e.g. a descriptor built purely from a stream pointer argument value).
func (d *IODesc) FDValue() (int64, bool) {
	if d == nil || d.FD == nil {
		return 0, false
	}
	return *d.FD, true
}
