// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package obs

import (
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName names the tracer cmd/themis starts its per-command spans on.
// Trace parsing, graph construction, and graph comparison start their spans
// on package-scoped tracers of their own.
const tracerName = "themis"

// NewTracerProvider installs and returns a process-wide TracerProvider that
// always samples. Themis has no span exporter wired in by default (no
// collector endpoint is part of the spec); the provider still exists so
// that Logger can enrich log lines with the trace/span id of whichever
// command invocation produced them, and so a caller embedding Themis as a
// library can attach its own SpanProcessor via tp.RegisterSpanProcessor.
func NewTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns the shared Themis tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
