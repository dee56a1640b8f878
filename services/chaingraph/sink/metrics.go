// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("chaingraph.sink")
	meter  = otel.Meter("chaingraph.sink")
)

var (
	publishTotal   metric.Int64Counter
	publishLatency metric.Float64Histogram
	droppedTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		publishTotal, err = meter.Int64Counter(
			"chaingraph_sink_publish_total",
			metric.WithDescription("Reports published to sinks by report kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		publishLatency, err = meter.Float64Histogram(
			"chaingraph_sink_publish_duration_seconds",
			metric.WithDescription("Time spent publishing one report to all sinks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"chaingraph_sink_dropped_total",
			metric.WithDescription("Reports dropped because the dispatch queue was full or closed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPublish(ctx context.Context, kind string, seconds float64, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("report", kind), attribute.String("outcome", outcome))
	publishTotal.Add(ctx, 1, attrs)
	publishLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("report", kind)))
}

func recordDropped(ctx context.Context, kind string) {
	if initMetrics() != nil {
		return
	}
	droppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("report", kind)))
}
