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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for Themis command invocations.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// ComparisonDuration measures wall-clock time spent inside
	// DeepGraphComparator.Compare, labeled by outcome.
	//
	// Labels:
	//   - outcome: "ok", "solver_error", "io_error"
	ComparisonDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "themis",
			Subsystem: "compare",
			Name:      "duration_seconds",
			Help:      "Duration of a dirty-vs-trusted graph comparison in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// ComparisonsTotal counts comparisons run, labeled by outcome.
	ComparisonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "compare",
			Name:      "total",
			Help:      "Total number of dirty-vs-trusted graph comparisons run.",
		},
		[]string{"outcome"},
	)

	// GraphsBuiltTotal counts trace-to-graph builds, labeled by whether the
	// result was admitted to the trusted corpus.
	GraphsBuiltTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "build",
			Name:      "graphs_total",
			Help:      "Total number of I/O interaction graphs built from a trace.",
		},
		[]string{"trust"},
	)
)
