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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultQueueSize is the number of reports buffered before new ones
	// are dropped.
	DefaultQueueSize = 64

	// DefaultPublishTimeout bounds one publish call across all sinks.
	DefaultPublishTimeout = 10 * time.Second

	reportAnomalies = "anomalies"
	reportClusters  = "clusters"
)

type job struct {
	kind    string
	ctx     context.Context
	publish func(ctx context.Context) error
}

// Dispatcher publishes reports to a Sink on a background goroutine.
//
// Submissions never block. When the queue is full the report is dropped
// and counted. Close drains what is already queued, then closes the sink.
type Dispatcher struct {
	sink    Sink
	queue   chan job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// WithPublishTimeout sets the per-report publish deadline.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher starts a dispatcher publishing to s.
func NewDispatcher(s Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    s,
		queue:   make(chan job, DefaultQueueSize),
		timeout: DefaultPublishTimeout,
		logger:  slog.Default().With(slog.String("component", "sink")),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Anomalies queues an anomaly report. ctx supplies the trace parent only;
// its cancellation does not abort the publish. Returns false when the
// report was dropped.
func (d *Dispatcher) Anomalies(ctx context.Context, report analytics.AnomalyReport) bool {
	return d.enqueue(ctx, reportAnomalies, func(ctx context.Context) error {
		return d.sink.PublishAnomalies(ctx, report)
	})
}

// Clusters queues a cluster report. See Anomalies.
func (d *Dispatcher) Clusters(ctx context.Context, report analytics.ClusterReport) bool {
	return d.enqueue(ctx, reportClusters, func(ctx context.Context) error {
		return d.sink.PublishClusters(ctx, report)
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, publish func(context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		recordDropped(ctx, kind)
		return false
	}
	select {
	case d.queue <- job{kind: kind, ctx: context.WithoutCancel(ctx), publish: publish}:
		return true
	default:
		recordDropped(ctx, kind)
		d.logger.Warn("sink queue full, dropping report", slog.String("report", kind))
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.publish(j)
	}
}

func (d *Dispatcher) publish(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "sink.Dispatcher.publish",
		trace.WithAttributes(attribute.String("report", j.kind)),
	)
	defer span.End()

	start := time.Now()
	err := j.publish(ctx)
	recordPublish(ctx, j.kind, time.Since(start).Seconds(), err)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.LoggerWithTrace(ctx, d.logger).Error("publish failed",
			slog.String("report", j.kind),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting reports, waits for queued ones to publish, and
// closes the underlying sink. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.sink.Close()
}
