// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package themisconfig_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-project/themis/internal/iomodel"
	"github.com/themis-project/themis/internal/themisconfig"
)

func TestDefaultTables_DecodesEmbeddedDocument(t *testing.T) {
	tables, err := themisconfig.DefaultTables()
	require.NoError(t, err)

	assert.True(t, tables.IsCloser("close"), "expected \"close\" to be registered as a closer")
	assert.Equal(t, iomodel.BinFile, tables.GuessIOType(iomodel.Unknown, "open"))
	assert.Equal(t, iomodel.Socket, tables.GuessIOType(iomodel.Unknown, "socket"))

	cmp := iomodel.NewFunctionComparator(tables)
	assert.Equal(t, iomodel.FuncEquivClass, cmp.Compare("read", "readv"))
	assert.Equal(t, iomodel.FuncDifferent, cmp.Compare("open", "openat"),
		"openat is not in any equivalence class with open")
}

func TestLoadTables_RejectsUnknownConstructType(t *testing.T) {
	doc := `
manipulators:
  frobnicate: NOT_A_REAL_TYPE
closers: []
equivalence_classes: []
args_to_exclude: []
`
	_, err := themisconfig.LoadTables(strings.NewReader(doc))
	assert.Error(t, err, "expected an error decoding an unknown IOConstructType name")
}

func TestLoadTables_OverrideDocumentTakesEffect(t *testing.T) {
	doc := `
manipulators:
  frobnicate: SOCKET
closers: [frobnicate]
equivalence_classes:
  - [frobnicate, socket]
args_to_exclude: [widget]
`
	tables, err := themisconfig.LoadTables(strings.NewReader(doc))
	require.NoError(t, err)

	assert.True(t, tables.IsCloser("frobnicate"))
	assert.Equal(t, iomodel.Socket, tables.GuessIOType(iomodel.Unknown, "frobnicate"))
}
