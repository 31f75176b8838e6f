// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command themis is a thin entrypoint over internal/ioparser,
// internal/iograph, and internal/compare: build a persisted graph from a
// trace file, or compare two persisted graphs and write the resulting
// difference graph as JSON.
//
// Usage:
//
//	themis build --trace /traces/myapp.trace --exec myapp --trusted-graph-dir /graphs --trust
//	themis compare --dirty /dirty/myapp_graph.json --trusted /graphs/myapp_graph.json --result-dir /results
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/themis-project/themis/internal/compare"
	"github.com/themis-project/themis/internal/iograph"
	"github.com/themis-project/themis/internal/iomodel"
	"github.com/themis-project/themis/internal/ioparser"
	"github.com/themis-project/themis/internal/obs"
	"github.com/themis-project/themis/internal/themisconfig"
)

// Exit codes, per spec §6: 0 success; non-zero for solver failure, missing
// trace, or I/O error.
const (
	exitOK            = 0
	exitIOError       = 1
	exitSolverFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &themisconfig.Config{}
	logger := slog.Default()

	tp := obs.NewTracerProvider()
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	root := &cobra.Command{
		Use:           "themis",
		Short:         "Compare a dirty binary's I/O behavior against a trusted reference",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.TrustedGraphDir, "trusted-graph-dir", "", "directory holding trusted graph snapshots")
	root.PersistentFlags().StringVar(&cfg.DirtyGraphDir, "dirty-graph-dir", "", "directory holding dirty graph snapshots")
	root.PersistentFlags().StringVar(&cfg.ResultDir, "result-dir", ".", "directory to write difference-graph JSON into")
	root.PersistentFlags().StringVar(&cfg.TraceDir, "trace-dir", "", "directory of raw trace files")

	var traceFile, execName string
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Parse a trace file and persist its I/O interaction graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Executable = execName
			return buildGraph(cmd.Context(), cfg, traceFile, logger)
		},
	}
	buildCmd.Flags().StringVar(&traceFile, "trace", "", "path to the trace file to parse")
	buildCmd.Flags().StringVar(&execName, "exec", "", "name of the executable this trace was captured from")
	buildCmd.Flags().BoolVar(&cfg.Trust, "trust", false, "persist to the trusted corpus instead of the dirty directory")
	_ = buildCmd.MarkFlagRequired("trace")
	_ = buildCmd.MarkFlagRequired("exec")

	var dirtyPath, trustedPath string
	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare a dirty graph snapshot against a trusted graph snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd.Context(), cfg, dirtyPath, trustedPath, logger)
		},
	}
	compareCmd.Flags().StringVar(&dirtyPath, "dirty", "", "path to the dirty graph snapshot")
	compareCmd.Flags().StringVar(&trustedPath, "trusted", "", "path to the trusted graph snapshot")
	_ = compareCmd.MarkFlagRequired("dirty")
	_ = compareCmd.MarkFlagRequired("trusted")

	root.AddCommand(buildCmd, compareCmd)

	if err := root.Execute(); err != nil {
		logger.Error("themis command failed", slog.Any("error", err))
		var solverErr *compare.AssignmentSolverError
		if errors.As(err, &solverErr) {
			return exitSolverFailure
		}
		return exitIOError
	}
	return exitOK
}

// buildGraph parses a trace file and writes a frozen iograph.Graph's JSON
// serialization to cfg.GraphDir()/<exec>_graph.json, the plain-file analog
// of spec §6's "binary pickle-like snapshot" path convention.
func buildGraph(ctx context.Context, cfg *themisconfig.Config, traceFile string, logger *slog.Logger) error {
	ctx, span := obs.Tracer().Start(ctx, "themis.build")
	defer span.End()
	runID := uuid.New().String()
	logger = obs.Logger(ctx, logger).With(slog.String("run_id", runID))

	f, err := os.Open(traceFile)
	if err != nil {
		return fmt.Errorf("themis: opening trace file: %w", err)
	}
	defer f.Close()

	parser := ioparser.NewParser()
	nodes, nestEdges, err := parser.Parse(ctx, f)
	if err != nil {
		return fmt.Errorf("themis: parsing trace: %w", err)
	}

	g, err := iograph.NewGrapher().Build(ctx, cfg.Executable, nodes, nestEdges)
	if err != nil {
		return fmt.Errorf("themis: building graph: %w", err)
	}
	g.Freeze()

	outDir := cfg.GraphDir()
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("themis: creating graph directory: %w", err)
	}

	sg := g.ToSerializable()
	data, err := json.MarshalIndent(sg, "", "  ")
	if err != nil {
		return fmt.Errorf("themis: serializing graph: %w", err)
	}
	outPath := fmt.Sprintf("%s/%s_graph.json", outDir, cfg.Executable)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("themis: writing graph file: %w", err)
	}

	trustLabel := "dirty"
	if cfg.Trust {
		trustLabel = "trusted"
	}
	obs.GraphsBuiltTotal.WithLabelValues(trustLabel).Inc()

	logger.Info("graph built",
		slog.String("executable", cfg.Executable),
		slog.Int("node_count", g.NodeCount()),
		slog.Int("edge_count", g.EdgeCount()),
		slog.String("path", outPath),
	)
	return nil
}

// runCompare loads two persisted graph snapshots, runs DeepGraphComparator,
// and writes the resulting difference graph to
// result_dir/<dirty_exec>_vs_<trusted_exec>.json (spec §6).
func runCompare(ctx context.Context, cfg *themisconfig.Config, dirtyPath, trustedPath string, logger *slog.Logger) error {
	ctx, span := obs.Tracer().Start(ctx, "themis.compare")
	defer span.End()
	runID := uuid.New().String()
	logger = obs.Logger(ctx, logger).With(slog.String("run_id", runID))

	dirty, err := loadGraphFile(dirtyPath)
	if err != nil {
		return fmt.Errorf("themis: loading dirty graph: %w", err)
	}
	trusted, err := loadGraphFile(trustedPath)
	if err != nil {
		return fmt.Errorf("themis: loading trusted graph: %w", err)
	}

	tables := iomodel.DefaultTables()
	if embedded, err := themisconfig.DefaultTables(); err == nil {
		tables = embedded
	}

	dgc := compare.NewDeepGraphComparator(tables, compare.NewHungarianSolver())
	start := time.Now()
	result, err := dgc.Compare(ctx, dirty, trusted)
	elapsed := time.Since(start).Seconds()
	outcome := "ok"
	if err != nil {
		var solverErr *compare.AssignmentSolverError
		if errors.As(err, &solverErr) {
			outcome = "solver_error"
		} else {
			outcome = "io_error"
		}
	}
	obs.ComparisonDuration.WithLabelValues(outcome).Observe(elapsed)
	obs.ComparisonsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return err
	}

	diff := compare.BuildDiffGraph(result)
	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return fmt.Errorf("themis: serializing difference graph: %w", err)
	}

	if err := os.MkdirAll(cfg.ResultDir, 0o755); err != nil {
		return fmt.Errorf("themis: creating result directory: %w", err)
	}
	outPath := fmt.Sprintf("%s/%s_vs_%s.json", cfg.ResultDir, dirty.SourceLabel, trusted.SourceLabel)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("themis: writing difference graph: %w", err)
	}

	logger.Info("comparison complete",
		slog.Float64("score", result.Score),
		slog.String("path", outPath),
	)
	return nil
}

// loadGraphFile reads and reconstructs a persisted graph snapshot. Any
// failure here is a GraphLoadError per spec §7: fatal, surfaced to the
// caller, with no partial result.
func loadGraphFile(path string) (*iograph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &iograph.GraphLoadError{SourceLabel: path, Cause: err}
	}
	var sg iograph.SerializableGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		return nil, &iograph.GraphLoadError{SourceLabel: path, Cause: err}
	}
	g, err := iograph.FromSerializable(&sg)
	if err != nil {
		return nil, &iograph.GraphLoadError{SourceLabel: path, Cause: err}
	}
	return g, nil
}
