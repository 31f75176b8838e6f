// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package obs_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/themis-project/themis/internal/obs"
)

func TestLogger_NoActiveSpanReturnsBaseUnchanged(t *testing.T) {
	base := slog.Default()
	got := obs.Logger(context.Background(), base)
	if got != base {
		t.Error("expected Logger to return base unchanged when no span is active")
	}
}

func TestLogger_NilBaseFallsBackToDefault(t *testing.T) {
	got := obs.Logger(context.Background(), nil)
	if got == nil {
		t.Fatal("expected a non-nil logger")
	}
}
