// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package themisconfig holds the run configuration record (spec §6) and the
// YAML-loadable comparison tables (spec §9) that feed internal/iomodel,
// keeping the data-driven manipulator/equivalence/exclusion lists out of
// compiled code the way the original project's calls.py was meant to be
// evolved without a rebuild.
package themisconfig

// Config is the record consumed by the core, with the field set spec §6
// names verbatim (translated to Go's exported-field convention).
type Config struct {
	// TrustedGraphDir holds persisted graphs for known-good binaries.
	TrustedGraphDir string `yaml:"trusted_graph_dir"`

	// DirtyGraphDir holds persisted graphs for binaries under test.
	DirtyGraphDir string `yaml:"dirty_graph_dir"`

	// ResultDir receives the JSON difference-graph output of a comparison.
	ResultDir string `yaml:"result_dir"`

	// ImgDir receives rendered graph images, if image rendering is enabled
	// (Non-goal in this project; the field is carried for config-shape
	// compatibility only).
	ImgDir string `yaml:"img_dir"`

	// TraceDir holds raw trace files awaiting parsing.
	TraceDir string `yaml:"trace_dir"`

	// Trust marks this run as building a trusted-corpus graph rather than a
	// dirty one under test, selecting TrustedGraphDir vs DirtyGraphDir as
	// the write target.
	Trust bool `yaml:"trust"`

	// Executable, if set, restricts this run to one named binary; the
	// empty string means unset, i.e. "process every trace found in
	// TraceDir".
	Executable string `yaml:"executable,omitempty"`

	// Args are the invocation arguments recorded alongside a trace, carried
	// through for provenance in persisted graph metadata.
	Args []string `yaml:"args,omitempty"`
}

// GraphDir returns the directory a graph should be read from or written to
// for this run, selecting between TrustedGraphDir and DirtyGraphDir
// according to Trust.
func (c *Config) GraphDir() string {
	if c.Trust {
		return c.TrustedGraphDir
	}
	return c.DirtyGraphDir
}
