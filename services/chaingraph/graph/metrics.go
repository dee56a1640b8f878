// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("chaingraph.graph")
	meter  = otel.Meter("chaingraph.graph")
)

// Metrics for graph mutation.
var (
	nodesAdded   metric.Int64Counter
	edgesAdded   metric.Int64Counter
	nodesUpdated metric.Int64Counter
	buildErrors  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		nodesAdded, err = meter.Int64Counter(
			"chaingraph_nodes_added_total",
			metric.WithDescription("Total number of nodes inserted into the graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesAdded, err = meter.Int64Counter(
			"chaingraph_edges_added_total",
			metric.WithDescription("Total number of edges inserted into the graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesUpdated, err = meter.Int64Counter(
			"chaingraph_nodes_updated_total",
			metric.WithDescription("Total number of address aggregation updates"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildErrors, err = meter.Int64Counter(
			"chaingraph_build_errors_total",
			metric.WithDescription("Total number of rejected graph mutations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records the outcome of one builder call.
func recordBuildMetrics(ctx context.Context, entity string, stats BuildStats, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity", entity))
	nodesAdded.Add(ctx, int64(stats.NodesAdded), attrs)
	edgesAdded.Add(ctx, int64(stats.EdgesAdded), attrs)
	nodesUpdated.Add(ctx, int64(stats.NodesUpdated), attrs)
	if err != nil {
		buildErrors.Add(ctx, 1, attrs)
	}
}
