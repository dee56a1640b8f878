// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaingraph/cmd/chaingraph/config"
	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// analyzeOptions are the analysis parameters of one analyze run.
type analyzeOptions struct {
	Method        analytics.Method
	Threshold     float64
	Scheme        analytics.ColorScheme
	ClusterWindow int
	FlowDepth     int
	FlowBlocks    int
}

// analysisResult is the JSON document printed by analyze.
type analysisResult struct {
	File       string                             `json:"file"`
	Load       ingest.LoadStats                   `json:"load"`
	Graph      graph.Stats                        `json:"graph"`
	Degrees    []analytics.DegreeRecord           `json:"degrees"`
	Activity   []analytics.ActivityRecord         `json:"activity"`
	Statistics map[string]analytics.Statistics    `json:"statistics"`
	Anomalies  analytics.AnomalyReport            `json:"anomalies"`
	Clusters   map[string]analytics.ClusterReport `json:"clusters"`
	Flow       analytics.FlowReport               `json:"flow"`
}

// statisticsPairs lists the kind and metric combinations reported by
// analyze.
var statisticsPairs = []struct {
	kind   graph.NodeKind
	metric analytics.Metric
}{
	{graph.NodeKindBlock, analytics.MetricTransactionCount},
	{graph.NodeKindTransaction, analytics.MetricValue},
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logs, err := newLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	if err != nil {
		return err
	}
	defer logs.Close()

	method, err := analytics.ParseMethod(anomalyMethod)
	if err != nil {
		return err
	}
	result, err := analyzeFile(cmd.Context(), args[0], config.DefaultConfig().Graph, analyzeOptions{
		Method:        method,
		Threshold:     anomalyThreshold,
		Scheme:        analytics.ParseColorScheme(colorScheme),
		ClusterWindow: clusterWindow,
		FlowDepth:     flowDepth,
		FlowBlocks:    flowBlocks,
	}, logs.Slog())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if prettyOutput {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

// analyzeFile loads path into a fresh in-memory graph and runs every
// analysis. Independent analyses run concurrently.
func analyzeFile(ctx context.Context, path string, limits config.GraphConfig, opts analyzeOptions, logger *slog.Logger) (analysisResult, error) {
	a, err := newApp(config.Config{Graph: limits}, logger, false)
	if err != nil {
		return analysisResult{}, err
	}
	defer a.Close()

	load, err := ingest.LoadFile(ctx, path, a.applier)
	if err != nil {
		return analysisResult{}, err
	}

	res := analysisResult{
		File:       path,
		Load:       load,
		Graph:      a.graph.Stats(),
		Statistics: make(map[string]analytics.Statistics, len(statisticsPairs)),
		Clusters:   make(map[string]analytics.ClusterReport, 2),
	}
	stats := make([]analytics.Statistics, len(statisticsPairs))
	byAddress := analytics.ClusterReport{}
	byTx := analytics.ClusterReport{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.Degrees, err = a.engine.Degrees(gctx, analytics.DegreeQuery{})
		return err
	})
	g.Go(func() (err error) {
		res.Activity, err = a.engine.Activity(gctx, graph.NodeKindUnknown, opts.Scheme)
		return err
	})
	for i, p := range statisticsPairs {
		g.Go(func() (err error) {
			stats[i], err = a.engine.Statistics(gctx, p.kind, p.metric)
			return err
		})
	}
	g.Go(func() (err error) {
		res.Anomalies, err = a.engine.DetectAnomalies(gctx, analytics.AnomalyQuery{
			Method:    opts.Method,
			Threshold: opts.Threshold,
		})
		return err
	})
	g.Go(func() (err error) {
		byAddress, err = a.engine.Clusters(gctx, analytics.ClusterByAddress, opts.ClusterWindow)
		return err
	})
	g.Go(func() (err error) {
		byTx, err = a.engine.Clusters(gctx, analytics.ClusterByTransaction, opts.ClusterWindow)
		return err
	})
	g.Go(func() (err error) {
		res.Flow, err = a.engine.TraceFlow(gctx, analytics.FlowQuery{
			MaxDepth:  opts.FlowDepth,
			MaxBlocks: opts.FlowBlocks,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return analysisResult{}, fmt.Errorf("analyze %s: %w", path, err)
	}

	for i, p := range statisticsPairs {
		res.Statistics[p.kind.String()+"."+string(p.metric)] = stats[i]
	}
	res.Clusters[string(analytics.ClusterByAddress)] = byAddress
	res.Clusters[string(analytics.ClusterByTransaction)] = byTx
	return res, nil
}
