// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("chaingraph.stream")

var (
	subscribers metric.Int64UpDownCounter
	dropped     metric.Int64Counter
	delivered   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		subscribers, err = meter.Int64UpDownCounter(
			"chaingraph_stream_subscribers",
			metric.WithDescription("Live update subscribers currently connected"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dropped, err = meter.Int64Counter(
			"chaingraph_stream_dropped_total",
			metric.WithDescription("Events dropped for subscribers with a full buffer"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		delivered, err = meter.Int64Counter(
			"chaingraph_stream_delivered_total",
			metric.WithDescription("Events written to clients by transport"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSubscribers(ctx context.Context, delta int64) {
	if initMetrics() != nil {
		return
	}
	subscribers.Add(ctx, delta)
}

func recordDropped(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	dropped.Add(ctx, 1)
}

func recordDelivered(ctx context.Context, transport string) {
	if initMetrics() != nil {
		return
	}
	delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}
