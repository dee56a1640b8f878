// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("chaingraph.ingest")
	meter  = otel.Meter("chaingraph.ingest")
)

var (
	bundlesApplied  metric.Int64Counter
	bundlesRejected metric.Int64Counter
	upstreamCalls   metric.Int64Counter
	lastHeight      metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		bundlesApplied, err = meter.Int64Counter(
			"chaingraph_ingest_bundles_applied_total",
			metric.WithDescription("Block bundles applied to the graph by source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		bundlesRejected, err = meter.Int64Counter(
			"chaingraph_ingest_bundles_rejected_total",
			metric.WithDescription("Block bundles that failed to decode or apply by source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		upstreamCalls, err = meter.Int64Counter(
			"chaingraph_ingest_upstream_requests_total",
			metric.WithDescription("Upstream API requests by endpoint and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lastHeight, err = meter.Int64Gauge(
			"chaingraph_ingest_last_block_height",
			metric.WithDescription("Height of the most recently applied block"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordApplied(ctx context.Context, source string, height int64) {
	if initMetrics() != nil {
		return
	}
	bundlesApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	lastHeight.Record(ctx, height)
}

func recordRejected(ctx context.Context, source string) {
	if initMetrics() != nil {
		return
	}
	bundlesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func recordUpstream(ctx context.Context, endpoint, outcome string) {
	if initMetrics() != nil {
		return
	}
	upstreamCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}
