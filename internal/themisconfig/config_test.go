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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/themis-project/themis/internal/themisconfig"
)

func TestConfig_GraphDirSelectsByTrust(t *testing.T) {
	c := themisconfig.Config{
		TrustedGraphDir: "/trusted",
		DirtyGraphDir:   "/dirty",
	}
	c.Trust = true
	assert.Equal(t, "/trusted", c.GraphDir())

	c.Trust = false
	assert.Equal(t, "/dirty", c.GraphDir())
}
