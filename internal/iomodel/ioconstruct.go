// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package iomodel defines the call model and comparison tables used to
// classify and score individual library I/O calls: the I/O construct type
// taxonomy, function equivalence classes, and argument comparison rules.
package iomodel

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IOConstructType classifies what an I/O descriptor ultimately points to.
// Ordering is significant: larger values are considered more specific
// evidence, and Tables.GuessIOType (see tables.go) always keeps the maximum of the
// old and new guess for a given descriptor.
type IOConstructType int

const (
	Unknown IOConstructType = iota
	Invalid
	BinFile
	StdStream
	Stream
	Memory
	Directory
	Link
	Tmp
	Pipe
	Fifo
	Socket
)

// String renders the construct type the way it appears in GEXF attribute
// extraction and log output.
func (t IOConstructType) String() string {
	switch t {
	case Unknown:
		return "UNKNOWN"
	case Invalid:
		return "INVALID"
	case BinFile:
		return "BINFILE"
	case StdStream:
		return "STDSTREAM"
	case Stream:
		return "STREAM"
	case Memory:
		return "MEMORY"
	case Directory:
		return "DIRECTORY"
	case Link:
		return "LINK"
	case Tmp:
		return "TMP"
	case Pipe:
		return "PIPE"
	case Fifo:
		return "FIFO"
	case Socket:
		return "SOCKET"
	default:
		return "UNKNOWN"
	}
}

// MarshalYAML renders an IOConstructType by its String() name, so the
// compiled-in manipulator table (internal/themisconfig) round-trips through
// YAML as "BINFILE" rather than a bare integer.
func (t IOConstructType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML decodes an IOConstructType from its String() name, the
// inverse of MarshalYAML.
func (t *IOConstructType) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	for candidate := Unknown; candidate <= Socket; candidate++ {
		if candidate.String() == name {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("iomodel: unknown IOConstructType %q", name)
}

// Max returns the larger of the two construct types per the ordering above.
// Used to merge a descriptor's previously-guessed type with a new guess
// implied by the current call ("prefer more specific evidence").
func Max(a, b IOConstructType) IOConstructType {
	if a > b {
		return a
	}
	return b
}
