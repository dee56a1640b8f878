// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for analytics operations.
var (
	tracer = otel.Tracer("chaingraph.analytics")
	meter  = otel.Meter("chaingraph.analytics")
)

// Metrics for analytics operations.
var (
	cacheLookups      metric.Int64Counter
	computeLatency    metric.Float64Histogram
	computeErrors     metric.Int64Counter
	anomaliesDetected metric.Int64Counter
	clusterFailures   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheLookups, err = meter.Int64Counter(
			"chaingraph_analytics_cache_lookups_total",
			metric.WithDescription("Analytics cache lookups by family and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		computeLatency, err = meter.Float64Histogram(
			"chaingraph_analytics_compute_duration_seconds",
			metric.WithDescription("Duration of analytics recomputation per family"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
		)
		if err != nil {
			metricsErr = err
			return
		}

		computeErrors, err = meter.Int64Counter(
			"chaingraph_analytics_compute_errors_total",
			metric.WithDescription("Failed analytics recomputations per family"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		anomaliesDetected, err = meter.Int64Counter(
			"chaingraph_anomalies_detected_total",
			metric.WithDescription("Anomalies flagged per node kind and method"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		clusterFailures, err = meter.Int64Counter(
			"chaingraph_cluster_failures_total",
			metric.WithDescription("Community detection runs that produced no partition"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheLookup(ctx context.Context, f Family, hit bool) {
	if initMetrics() != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", f.String()),
		attribute.Bool("hit", hit),
	))
}

func recordComputeMetrics(ctx context.Context, f Family, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("family", f.String()))
	computeLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		computeErrors.Add(ctx, 1, attrs)
	}
}

func recordAnomalies(ctx context.Context, kind string, method Method, n int) {
	if initMetrics() != nil || n == 0 {
		return
	}
	anomaliesDetected.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("node_kind", kind),
		attribute.String("method", string(method)),
	))
}

func recordClusterFailure(ctx context.Context, mode ClusterMode) {
	if initMetrics() != nil {
		return
	}
	clusterFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
}

// startQuerySpan starts a span for an engine query.
func startQuerySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "analytics.Engine."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
