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

// Tables is the data-driven comparison configuration described in spec §9:
// manipulator tables, function equivalence classes, and excluded argument
// keys are loaded from YAML (see internal/themisconfig) rather than
// hard-coded, so the design can evolve without recompiling. DefaultTables
// provides the compiled-in fallback.
//
// Thread Safety: Tables is immutable after construction; safe for
// concurrent reads.
type Tables struct {
	// Manipulators maps a function name to the IOConstructType it implies
	// when it touches a descriptor.
	Manipulators map[string]IOConstructType `yaml:"manipulators"`

	// Closers is the set of function names that close a descriptor.
	Closers map[string]bool `yaml:"-"`
	ClosersList []string `yaml:"closers"`

	// EquivalenceClasses is an ordered list of function-name sets
	// considered semantically equivalent for scoring purposes.
	EquivalenceClasses [][]string `yaml:"equivalence_classes"`

	// ArgsToExclude lists argument keys ignored during arg comparison.
	ArgsToExclude []string `yaml:"args_to_exclude"`
}

// finalize derives the lookup-friendly Closers set from ClosersList after a
// YAML decode, and is also used by DefaultTables.
func (t *Tables) finalize() *Tables {
	t.Closers = make(map[string]bool, len(t.ClosersList))
	for _, name := range t.ClosersList {
		t.Closers[name] = true
	}
	return t
}

// manipulatorGroup mirrors one *_MANIPULATORS list from
// original_source/themis/transforming/calls.py, tagged with the
// IOConstructType it implies. Order matters only insofar as later entries
// in DefaultTables win ties in the underlying map construction; the actual
// precedence between types is handled by GuessIOType's use of Max, not by
// table ordering.
type manipulatorGroup struct {
	typ   IOConstructType
	names []string
}

var defaultManipulatorGroups = []manipulatorGroup{
	{Stream, []string{
		"fopen", "freopen", "fclose", "fcloseall", "fputc", "fputwc",
		"fputc_unlocked", "fputwc_unlocked", "fputs", "fputws",
		"fputs_unlocked", "fputws_unlocked", "fgetc", "fgetwc",
		"fgetc_unlocked", "fgetwc_unlocked", "getline", "getdelim",
		"fgets", "fgetws", "fgets_unlocked", "fgetws_unlocked", "fread",
		"fread_unlocked", "fwrite", "fwrite_unlocked", "wprintf",
		"fprintf", "fwprintf", "fscanf", "fwscanf", "putc", "putwc",
		"putc_unlocked", "putwc_unlocked", "putchar", "putwchar",
		"putchar_unlocked", "putwchar_unlocked", "getc", "getwc",
		"getc_unlocked", "getwc_unlocked", "getw",
	}},
	{StdStream, []string{
		"puts", "putw", "getchar", "getwchar", "getchar_unlocked",
		"getwchar_unlocked", "gets", "printf", "wprintf",
	}},
	{BinFile, []string{
		"open", "creat", "close", "close_range", "closefrom", "read",
		"pread", "write", "pwrite", "readv", "writev", "preadv",
		"pwritev", "preadv2", "pwritev2", "copy_file_range", "remove",
		"rename",
	}},
	{Memory, []string{
		"mmap", "munmap", "msync", "mremap", "madvise", "sprintf",
		"swprintf", "snprintf", "sscanf", "swscanf",
	}},
	{Directory, []string{
		"getcwd", "chdir", "fchdir", "opendir", "fdopendir", "dirfd",
		"readdir", "readdir_r", "closedir", "scandir", "rmdir", "mkdir",
	}},
	{Link, []string{"link", "linkat", "symlink", "readlink", "realpath"}},
	{Tmp, []string{
		"tmpfile", "tmpnam", "tmpnam_r", "tempnam", "mktemp", "mkstemp",
		"mkdtemp",
	}},
	{Socket, []string{
		"socket", "shutdown", "socketpair", "connect", "listen",
		"accept", "send", "recv", "sendto", "recvfrom", "getsockopt",
		"setsockopt", "bind",
	}},
	{Pipe, []string{"pipe", "popen", "pclose"}},
	{Fifo, []string{"mkfifo", "mkfifoat"}},
}

// defaultClosers mirrors CLOSERS from original_source/themis/transforming/calls.py.
var defaultClosers = []string{
	"fclose", "fcloseall", "close", "close_range", "closefrom",
	"closedir", "pclose", "shutdown",
}

// defaultEquivalenceClasses mirrors FunctionComparator.equivalence_classes
// from original_source/themis/transforming/calls.py verbatim.
var defaultEquivalenceClasses = [][]string{
	{"read", "readv"},
	{"write", "writev"},
	{"pwrite", "pwritev", "pwritev2"},
	{"pread", "preadv", "preadv2"},
	{"fputc", "fputwc", "fputc_unlocked", "fputwc_unlocked", "putc", "putwc", "putc_unlocked", "putwc_unlocked"},
	{"putchar", "putwchar", "putchar_unlocked", "putwchar_unlocked"},
	{"puts", "putw"},
	{"fgetc", "fgetwc", "fgetc_unlocked", "fgetwc_unlocked", "getc", "getwc", "getw", "getc_unlocked", "getwc_unlocked"},
	{"getchar", "getwchar", "getchar_unlocked", "getwchar_unlocked"},
	{"fgets", "fgetws", "fgets_unlocked", "fgetws_unlocked"},
	{"fputs", "fputws"},
	{"printf", "wprintf"},
	{"sprintf", "swsprintf", "snprintf"},
	{"scanf", "wscanf"},
	{"fprintf", "fwprintf"},
	{"fscanf", "fwscanf"},
	{"swscanf", "sscanf"},
	{"chdir", "fchdir"},
	{"opendir", "fdopendir"},
	{"scandir", "scandirat"},
	{"link", "linkat"},
	{"tmpnam", "tmpnam_r", "tempnam"},
	{"mktemp", "mkstemp", "mkostemp"},
	{"mkstemps", "mkostemps"},
	{"send", "sendto", "sendmsg"},
	{"recv", "recvfrom"},
}

// defaultArgsToExclude mirrors ArgsComparator.args_to_exclude from
// original_source/themis/transforming/calls.py (deduplicated; the original
// lists "n" twice).
var defaultArgsToExclude = []string{
	"buf", "iov", "optval", "ptr", "stream", "lineptr", "n", "retval",
	"dest_addr", "fd",
}

// DefaultTables returns the compiled-in comparison tables, grounded on
// original_source/themis/transforming/calls.py. Callers that need to evolve
// the tables without recompiling should load an override via
// internal/themisconfig.LoadTables instead.
func DefaultTables() *Tables {
	manipulators := make(map[string]IOConstructType)
	for _, group := range defaultManipulatorGroups {
		for _, name := range group.names {
			manipulators[name] = group.typ
		}
	}

	t := &Tables{
		Manipulators:       manipulators,
		ClosersList:        append([]string(nil), defaultClosers...),
		EquivalenceClasses: defaultEquivalenceClasses,
		ArgsToExclude:      append([]string(nil), defaultArgsToExclude...),
	}
	return t.finalize()
}

// Finalize must be called after decoding a Tables value from YAML so that
// the Closers lookup set is derived from ClosersList.
func (t *Tables) Finalize() *Tables {
	return t.finalize()
}

// IsCloser reports whether funcname closes the descriptor it touches.
func (t *Tables) IsCloser(funcname string) bool {
	return t.Closers[funcname]
}

// GuessIOType implements the guess_io_type monotone update from spec §4.2:
// the new guess is the manipulator-table entry for funcname if any, merged
// with oldGuess via Max so that more specific evidence is never discarded.
func (t *Tables) GuessIOType(oldGuess IOConstructType, funcname string) IOConstructType {
	newGuess, ok := t.Manipulators[funcname]
	if !ok {
		newGuess = Unknown
	}
	return Max(newGuess, oldGuess)
}

// FunctionComparator compares function names under the equivalence-class
// table (spec §4.1).
type FunctionComparator struct {
	tables *Tables
}

// NewFunctionComparator builds a comparator over the given tables.
func NewFunctionComparator(tables *Tables) *FunctionComparator {
	return &FunctionComparator{tables: tables}
}

// Compare returns FuncEqual for identical names, FuncEquivClass when both
// names appear in the same equivalence class, FuncDifferent otherwise.
func (c *FunctionComparator) Compare(a, b string) FunctionComparisonResult {
	if a == b {
		return FuncEqual
	}
	for _, class := range c.tables.EquivalenceClasses {
		if containsString(class, a) && containsString(class, b) {
			return FuncEquivClass
		}
	}
	return FuncDifferent
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
